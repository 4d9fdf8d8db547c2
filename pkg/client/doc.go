// Package client is a small HTTP client for the tether API, used by the
// tether CLI. Every call runs under its own timeout; pass triggers get a
// longer one than session calls.
package client
