package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("ingest: invalid config")

// Config defines listener address and per-connection flow-control policy.
type Config struct {
	ListenAddr string
	// SoftLimit is the undecoded byte count above which each read is
	// preceded by ThrottleDelay.
	SoftLimit int
	// HardLimit is the undecoded byte count above which the connection is
	// dropped.
	HardLimit      int
	IdleTimeout    time.Duration
	ThrottleDelay  time.Duration
	ReadBufferSize int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     "0.0.0.0:9999",
		SoftLimit:      1 * 1024 * 1024,
		HardLimit:      10 * 1024 * 1024,
		IdleTimeout:    30 * time.Second,
		ThrottleDelay:  100 * time.Millisecond,
		ReadBufferSize: 4096,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.SoftLimit == 0 {
		c.SoftLimit = def.SoftLimit
	}
	if c.HardLimit == 0 {
		c.HardLimit = def.HardLimit
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ThrottleDelay == 0 {
		c.ThrottleDelay = def.ThrottleDelay
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.SoftLimit < 0 || c.HardLimit < 0:
		return fmt.Errorf("%w: buffer limits must not be negative (soft=%d hard=%d)", ErrInvalidConfig, c.SoftLimit, c.HardLimit)
	case c.SoftLimit > c.HardLimit:
		return fmt.Errorf("%w: soft limit %d exceeds hard limit %d", ErrInvalidConfig, c.SoftLimit, c.HardLimit)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: idle timeout %s", ErrInvalidConfig, c.IdleTimeout)
	case c.ThrottleDelay < 0:
		return fmt.Errorf("%w: throttle delay %s", ErrInvalidConfig, c.ThrottleDelay)
	case c.ReadBufferSize < 0:
		return fmt.Errorf("%w: read buffer size %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	return nil
}
