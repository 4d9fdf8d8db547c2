// Package config loads the tether YAML configuration. Missing keys keep
// the values from Default, durations use Go syntax ("90s", "3m") and a few
// secrets can come from the environment instead of the file
// (TETHER_GATEWAY_TOKEN, TETHER_STORE_DSN, TETHER_REDIS_ADDR,
// TETHER_API_TOKEN, TETHER_WEBHOOK_TOKEN).
package config
