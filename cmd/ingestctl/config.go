package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/memexd/internal/ingest"
)

const (
	dispatchDiscard = "discard"
	dispatchLog     = "log"
)

// ingestctl config.toml key mapping to runtime settings.
type fileConfig struct {
	ID              string   `toml:"id"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	AdminAddr       string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	SoftLimitBytes  int      `toml:"soft_limit_bytes"`
	HardLimitBytes  int      `toml:"hard_limit_bytes"`
	IdleTimeout     string   `toml:"idle_timeout"`
	ThrottleDelay   string   `toml:"throttle_delay"`
	ReadBufferBytes int      `toml:"read_buffer_bytes"`
	Dispatch        string   `toml:"dispatch"`
	DispatchQueue   int      `toml:"dispatch_queue"`
}

type serviceConfig struct {
	NodeID      string
	Ingest      ingest.Config
	AdminAddr   string
	CorsOrigins []string
	Dispatch    string
	// DispatchQueue > 0 moves dispatch onto an ordered worker queue of that
	// size; 0 dispatches inline on the connection goroutine.
	DispatchQueue int
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		NodeID:   "memex.local",
		Ingest:   ingest.DefaultConfig(),
		Dispatch: dispatchDiscard,
	}
}

// ingestctl loader for TOML config with default overlay.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load ingest config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load ingest config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("host") || meta.IsDefined("port") {
		host, port, err := net.SplitHostPort(cfg.Ingest.ListenAddr)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("load ingest config: default addr: %w", err)
		}
		if meta.IsDefined("host") {
			host = strings.TrimSpace(raw.Host)
		}
		if meta.IsDefined("port") {
			if raw.Port < 0 || raw.Port > 65535 {
				return serviceConfig{}, fmt.Errorf("load ingest config: port %d out of range", raw.Port)
			}
			port = strconv.Itoa(raw.Port)
		}
		cfg.Ingest.ListenAddr = net.JoinHostPort(host, port)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("soft_limit_bytes") {
		cfg.Ingest.SoftLimit = raw.SoftLimitBytes
	}
	if meta.IsDefined("hard_limit_bytes") {
		cfg.Ingest.HardLimit = raw.HardLimitBytes
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse idle_timeout: %w", err)
		}
		cfg.Ingest.IdleTimeout = d
	}
	if meta.IsDefined("throttle_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ThrottleDelay))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse throttle_delay: %w", err)
		}
		cfg.Ingest.ThrottleDelay = d
	}
	if meta.IsDefined("read_buffer_bytes") {
		cfg.Ingest.ReadBufferSize = raw.ReadBufferBytes
	}
	if meta.IsDefined("dispatch") {
		cfg.Dispatch = strings.ToLower(strings.TrimSpace(raw.Dispatch))
	}
	if meta.IsDefined("dispatch_queue") {
		cfg.DispatchQueue = raw.DispatchQueue
	}

	if err := cfg.validate(); err != nil {
		return serviceConfig{}, fmt.Errorf("load ingest config: %w", err)
	}
	return cfg, nil
}

func (c serviceConfig) validate() error {
	switch c.Dispatch {
	case dispatchDiscard, dispatchLog:
	default:
		return fmt.Errorf("unsupported dispatch %q (expected %s or %s)", c.Dispatch, dispatchDiscard, dispatchLog)
	}
	if c.DispatchQueue < 0 {
		return fmt.Errorf("dispatch_queue must not be negative: %d", c.DispatchQueue)
	}
	return c.Ingest.Validate()
}

// toFile renders cfg with the same keys loadServiceConfig reads.
func (c serviceConfig) toFile() (fileConfig, error) {
	host, port, err := net.SplitHostPort(c.Ingest.ListenAddr)
	if err != nil {
		return fileConfig{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fileConfig{}, fmt.Errorf("port %q: %w", port, err)
	}
	return fileConfig{
		ID:              c.NodeID,
		Host:            host,
		Port:            p,
		AdminAddr:       c.AdminAddr,
		CorsOrigins:     c.CorsOrigins,
		SoftLimitBytes:  c.Ingest.SoftLimit,
		HardLimitBytes:  c.Ingest.HardLimit,
		IdleTimeout:     c.Ingest.IdleTimeout.String(),
		ThrottleDelay:   c.Ingest.ThrottleDelay.String(),
		ReadBufferBytes: c.Ingest.ReadBufferSize,
		Dispatch:        c.Dispatch,
		DispatchQueue:   c.DispatchQueue,
	}, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
