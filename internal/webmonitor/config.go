package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration // period of /api/status/stream
	IdleTimeout    time.Duration // MJPEG sends a test pattern after this long without frames
	KeepAlive      time.Duration // SSE keepalive comment period
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		IdleTimeout:    5 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}
