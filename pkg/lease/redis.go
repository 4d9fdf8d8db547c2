package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every tether instance using the same redis
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a redis-backed Locker
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "tether:lease"
	}
	return &Redis{client: client, prefix: prefix}
}

// Acquire sets the lease key with NX and a ttl
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	key := r.key(name)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lease %s: %w", name, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

func (r *Redis) key(name string) string {
	return r.prefix + ":" + name
}
