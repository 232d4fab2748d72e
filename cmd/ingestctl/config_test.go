package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/memexd/internal/dispatch"
	"github.com/danmuck/memexd/internal/ingest"
	"github.com/danmuck/memexd/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigExampleFile(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.NodeID != "memex.local" {
		t.Fatalf("unexpected node id: %q", cfg.NodeID)
	}
	if cfg.Ingest.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("unexpected listen addr: %q", cfg.Ingest.ListenAddr)
	}
	if cfg.AdminAddr != "127.0.0.1:7090" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminAddr)
	}
	if cfg.Dispatch != dispatchLog {
		t.Fatalf("unexpected dispatch: %q", cfg.Dispatch)
	}
	assert.Equal(t, ingest.DefaultConfig(), cfg.Ingest)
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
id = "memex.edge"
port = 7000
hard_limit_bytes = 4096
soft_limit_bytes = 1024
idle_timeout = "2s"
dispatch = " LOG "
dispatch_queue = 32
`)
	cfg, err := loadServiceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memex.edge", cfg.NodeID)
	assert.Equal(t, "0.0.0.0:7000", cfg.Ingest.ListenAddr)
	assert.Equal(t, 1024, cfg.Ingest.SoftLimit)
	assert.Equal(t, 4096, cfg.Ingest.HardLimit)
	assert.Equal(t, 2*time.Second, cfg.Ingest.IdleTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Ingest.ThrottleDelay)
	assert.Equal(t, dispatchLog, cfg.Dispatch)
	assert.Equal(t, 32, cfg.DispatchQueue)
	assert.Empty(t, cfg.AdminAddr)
}

func TestLoadServiceConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad duration":  `idle_timeout = "soon"`,
		"inverted":      "soft_limit_bytes = 10\nhard_limit_bytes = 5",
		"bad dispatch":  `dispatch = "kafka"`,
		"unknown key":   `max_frame = 10`,
		"port range":    `port = 70000`,
		"negative pool": `dispatch_queue = -1`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadServiceConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadServiceConfigInvalidLimitsWrapSentinel(t *testing.T) {
	_, err := loadServiceConfig(writeConfig(t, "soft_limit_bytes = 10\nhard_limit_bytes = 5"))
	require.ErrorIs(t, err, ingest.ErrInvalidConfig)
}

func TestConfigInitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memex.toml")
	require.NoError(t, writeDefaultConfig(path, false))

	cfg, err := loadServiceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultServiceConfig().Ingest, cfg.Ingest)
	assert.Equal(t, "memex.local", cfg.NodeID)

	err = writeDefaultConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, writeDefaultConfig(path, true))
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), path)
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "host = \"127.0.0.1\"\nport = 7000\n")
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "7100", "--admin-addr", "127.0.0.1:0"}))

	opts := serveOptions{configPath: path, port: 7100, adminAddr: "127.0.0.1:0", host: "0.0.0.0"}
	cfg, err := opts.resolve(cmd.Flags())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7100", cfg.Ingest.ListenAddr)
	assert.Equal(t, "127.0.0.1:0", cfg.AdminAddr)
}

func TestBuildDispatcher(t *testing.T) {
	cfg := defaultServiceConfig()
	d, closeFn := buildDispatcher(cfg, log.Logger)
	assert.NotNil(t, d)
	require.NoError(t, closeFn(context.Background()))

	cfg.Dispatch = dispatchLog
	d, _ = buildDispatcher(cfg, log.Logger)
	assert.IsType(t, &dispatch.Log{}, d)

	cfg.DispatchQueue = 8
	d, closeFn = buildDispatcher(cfg, log.Logger)
	assert.IsType(t, &dispatch.Offload{}, d)
	require.NoError(t, closeFn(context.Background()))
}

func TestCollectPayloadsLines(t *testing.T) {
	got, err := collectPayloads(nil, strings.NewReader("alpha\r\n\nbeta\ngamma"), true)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "alpha", string(got[0]))
	assert.Equal(t, "beta", string(got[1]))
	assert.Equal(t, "gamma", string(got[2]))

	whole, err := collectPayloads(nil, strings.NewReader("alpha\nbeta"), false)
	require.NoError(t, err)
	require.Len(t, whole, 1)
	assert.Equal(t, "alpha\nbeta", string(whole[0]))
}

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) Dispatch(_ context.Context, pkt ingest.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, string(pkt.Payload))
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestSendDeliversFramesThroughNoise(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sink := &collector{}
	svc := ingest.NewService(ingest.Config{ListenAddr: ln.Addr().String()}, sink, ingest.WithNodeID("memex.send"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	opts := sendOptions{addr: ln.Addr().String(), garbage: 17, timeout: 2 * time.Second}
	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	n, err := runSend(context.Background(), opts, payloads)
	require.NoError(t, err)
	assert.Equal(t, 17+3*6+len("one")+len("two")+len("three"), n)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, sink.snapshot())
}

func TestRunServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := defaultServiceConfig()
	cfg.Ingest.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = "127.0.0.1:0"
	cfg.DispatchQueue = 4

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg, log.Logger)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("runServe did not return after cancel")
	}
}

func TestRunServeReportsBindFailure(t *testing.T) {
	testlog.Start(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := defaultServiceConfig()
	cfg.Ingest.ListenAddr = busy.Addr().String()
	err = runServe(context.Background(), cfg, log.Logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: listen")
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	opts := sendOptions{addr: addr, retries: 1, timeout: time.Second}
	_, err = runSend(context.Background(), opts, [][]byte{[]byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial "+addr)
}
