package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/memexd/internal/backoff"
	"github.com/danmuck/memexd/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Service is the ingest listener. It spawns one Handler per accepted
// connection without a concurrency limit.
type Service struct {
	cfg        Config
	id         string
	dispatcher Dispatcher
	logger     zerolog.Logger
	metrics    *observability.IngestRecorder

	mu       sync.Mutex
	addr     net.Addr
	handlers map[*Handler]struct{}
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNodeID sets the node label used in logs and metrics.
func WithNodeID(id string) Option {
	return func(s *Service) {
		if v := strings.TrimSpace(id); v != "" {
			s.id = v
		}
	}
}

func NewService(cfg Config, d Dispatcher, opts ...Option) *Service {
	if d == nil {
		d = Discard
	}
	s := &Service{
		cfg:        cfg.WithDefaults(),
		id:         "memex.local",
		dispatcher: d,
		logger:     log.Logger,
		handlers:   make(map[*Handler]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "ingest").Str("node", s.id).Logger()
	s.metrics = observability.NewIngestRecorder(s.id)
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) NodeID() string {
	return s.id
}

// Listen binds the configured TCP address.
func (s *Service) Listen() (net.Listener, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return ln, nil
}

// Run binds and serves until ctx is cancelled. Only the bind step is fatal.
func (s *Service) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled or ln fails permanently. Before
// returning it closes ln, signals every in-flight handler to stop, and waits
// for them.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Validate(); err != nil {
		_ = ln.Close()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = ln.Close()
		wg.Wait()
		s.setAddr(nil)
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.setAddr(ln.Addr())
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("ingestion server running")

	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info().Msg("ingestion server stopped accepting")
				return nil
			}
			if isTemporary(err) {
				failures++
				delay := backoff.Accept.Delay(failures, nil)
				s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept error")
				backoff.Sleep(ctx, delay)
				continue
			}
			return fmt.Errorf("ingest: accept: %w", err)
		}
		failures = 0

		h := newHandler(conn, s.cfg, s.dispatcher, s.logger, s.metrics)
		s.track(h)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(h)
			h.Serve(ctx)
		}()
	}
}

// Addr reports the bound address while Serve is running.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Snapshot lists live connections ordered by accept time.
func (s *Service) Snapshot() []ConnSnapshot {
	s.mu.Lock()
	out := make([]ConnSnapshot, 0, len(s.handlers))
	for h := range s.handlers {
		out = append(out, h.Snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Accepted.Equal(out[j].Accepted) {
			return out[i].ID < out[j].ID
		}
		return out[i].Accepted.Before(out[j].Accepted)
	})
	return out
}

func (s *Service) setAddr(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

func (s *Service) track(h *Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[h] = struct{}{}
}

func (s *Service) untrack(h *Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, h)
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
