package server

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Client types the server knows how to serve assets for.
const (
	ClientVue2 = "vue2"
	ClientVue3 = "vue3"
)

// Config holds the already-parsed configuration accepted by the core.
type Config struct {
	// Host is the bind host.
	// Default: "localhost".
	Host string

	// Port is the bind port. 0 picks a free port.
	// Default: 8080.
	Port int

	// Debug enables verbose logging of flushes and calls.
	Debug bool

	// ClientType selects which built-in client assets are served.
	// Default: "vue3".
	ClientType string

	// ShutdownTimeout bounds how long Shutdown waits for queued publishes.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// MaxFlushCascade bounds follow-up flushes caused by change listeners.
	// Default: 32.
	MaxFlushCascade int

	// StrictTriggers rejects registering a trigger name twice.
	StrictTriggers bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		ClientType:      ClientVue3,
		ShutdownTimeout: 10 * time.Second,
		MaxFlushCascade: 32,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.ClientType == "" {
		c.ClientType = defaults.ClientType
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.MaxFlushCascade == 0 {
		c.MaxFlushCascade = defaults.MaxFlushCascade
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	switch c.ClientType {
	case ClientVue2, ClientVue3:
	default:
		return fmt.Errorf("%w: unknown client type %q", ErrInvalidConfig, c.ClientType)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: negative shutdown timeout", ErrInvalidConfig)
	}
	if c.MaxFlushCascade < 0 {
		return fmt.Errorf("%w: negative flush cascade", ErrInvalidConfig)
	}
	return nil
}
