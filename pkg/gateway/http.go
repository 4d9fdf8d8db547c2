package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config configures the HTTP gateway client
type Config struct {
	BaseURL        string
	Token          string
	StatusTimeout  time.Duration
	ConnectTimeout time.Duration
}

// HTTPClient is a Client speaking the gateway's JSON-over-HTTP API:
//
//	GET  {base}/sessions/{ref}/status   -> {"state": "..."}
//	POST {base}/sessions/{ref}/connect  -> {"state": "...", "reauth_payload": "..."}
type HTTPClient struct {
	baseURL        string
	token          string
	statusTimeout  time.Duration
	connectTimeout time.Duration
	client         *http.Client
}

// NewHTTPClient creates a new HTTP gateway client
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		statusTimeout:  cfg.StatusTimeout,
		connectTimeout: cfg.ConnectTimeout,
		client:         &http.Client{},
	}
}

// Status queries the live state of a session
func (c *HTTPClient) Status(ctx context.Context, ref string) (StatusResult, error) {
	var out struct {
		State string `json:"state"`
	}
	if err := c.do(ctx, "status", http.MethodGet, ref, c.statusTimeout, &out); err != nil {
		return StatusResult{State: StateUnknown}, err
	}
	return StatusResult{State: ParseState(out.State)}, nil
}

// Connect asks the gateway to (re)open a session
func (c *HTTPClient) Connect(ctx context.Context, ref string) (ConnectResult, error) {
	var out struct {
		State         string `json:"state"`
		ReauthPayload string `json:"reauth_payload"`
	}
	if err := c.do(ctx, "connect", http.MethodPost, ref, c.connectTimeout, &out); err != nil {
		return ConnectResult{State: StateUnknown}, err
	}
	return ConnectResult{State: ParseState(out.State), ReauthPayload: out.ReauthPayload}, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, ref string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := fmt.Sprintf("%s/sessions/%s/%s", c.baseURL, url.PathEscape(ref), op)
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return &Error{Op: op, Ref: ref, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Ref: ref, Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, Ref: ref, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return &Error{Op: op, Ref: ref, Timeout: isTimeout(ctx, err), Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
