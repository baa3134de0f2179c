package wsconn

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectConfig controls the exponential backoff between dial attempts.
type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	// MaxRetries is the number of consecutive failed attempts tolerated
	// before the client gives up. Zero retries forever.
	MaxRetries uint64 `mapstructure:"max_retries"`
}

// Config holds client configuration.
type Config struct {
	URL string `mapstructure:"url"`
	// Token is sent as a bearer Authorization header.
	Token  string      `mapstructure:"token"`
	Header http.Header `mapstructure:"-"`
	// Endpoint, when set, is called before every dial and overrides URL.
	Endpoint func(ctx context.Context) (string, error) `mapstructure:"-"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PongTimeout      time.Duration `mapstructure:"pong_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		PingInterval:     54 * time.Second,
		SendBuffer:       64,
		MaxMessageSize:   8 << 20,
		Reconnect: ReconnectConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			MaxRetries:      0,
		},
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.Reconnect.InitialInterval <= 0 {
		c.Reconnect.InitialInterval = d.Reconnect.InitialInterval
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		c.Reconnect.MaxInterval = d.Reconnect.MaxInterval
		if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
			c.Reconnect.MaxInterval = c.Reconnect.InitialInterval
		}
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
}

func (c *Config) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Reconnect.InitialInterval
	b.MaxInterval = c.Reconnect.MaxInterval
	b.Multiplier = c.Reconnect.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	// WithMaxRetries treats zero as "no retries", not "unbounded".
	if c.Reconnect.MaxRetries == 0 {
		return b
	}
	return backoff.WithMaxRetries(b, c.Reconnect.MaxRetries)
}
