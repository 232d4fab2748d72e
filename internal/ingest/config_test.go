package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPreservesPolicy(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1<<20, cfg.SoftLimit)
	assert.Equal(t, 10<<20, cfg.HardLimit)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.ThrottleDelay)
	assert.Equal(t, 4096, cfg.ReadBufferSize)
	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
	require.NoError(t, cfg.Validate())
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{ListenAddr: "127.0.0.1:7000", IdleTimeout: time.Second}.WithDefaults()
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, time.Second, cfg.IdleTimeout)
	assert.Equal(t, DefaultConfig().SoftLimit, cfg.SoftLimit)
	assert.Equal(t, DefaultConfig().HardLimit, cfg.HardLimit)
	assert.Equal(t, DefaultConfig().ReadBufferSize, cfg.ReadBufferSize)
}

func TestValidateRejectsInvertedLimits(t *testing.T) {
	cases := map[string]func(*Config){
		"soft above hard":   func(c *Config) { c.SoftLimit = c.HardLimit + 1 },
		"negative hard":     func(c *Config) { c.HardLimit = -1 },
		"negative timeout":  func(c *Config) { c.IdleTimeout = -time.Second },
		"negative throttle": func(c *Config) { c.ThrottleDelay = -time.Millisecond },
		"negative buffer":   func(c *Config) { c.ReadBufferSize = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
