// Package sse carries the Server-Sent Events plumbing shared by streaming
// handlers: connection tunables and the keepalive machinery that detects
// silently dropped clients.
package sse

import "time"

// Config holds per-connection SSE tunables.
type Config struct {
	// KeepAliveInterval is how often comment pings are written. Must stay
	// under the idle timeout of intervening proxies; 10s clears the common
	// 30-60s defaults with margin.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the standard SSE configuration.
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
	}
}
