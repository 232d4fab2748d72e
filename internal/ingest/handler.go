package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/danmuck/memexd/internal/backoff"
	"github.com/danmuck/memexd/internal/observability"
	"github.com/danmuck/memexd/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnSnapshot is a point-in-time view of one live connection.
type ConnSnapshot struct {
	ConnInfo
	State    string `json:"state"`
	Buffered int64  `json:"buffered_bytes"`
	Frames   uint64 `json:"frames"`
}

// Handler drives one accepted connection from first read to close.
type Handler struct {
	cfg        Config
	conn       net.Conn
	info       ConnInfo
	dec        *frame.Decoder
	dispatcher Dispatcher
	logger     zerolog.Logger
	metrics    *observability.IngestRecorder

	readBuf []byte
	seq     uint64

	started  atomic.Bool
	state    atomic.Int32
	buffered atomic.Int64
	frames   atomic.Uint64
}

// NewHandler wraps conn with the global logger and a standalone metrics
// label. Service builds its handlers with per-node logging instead.
func NewHandler(conn net.Conn, cfg Config, d Dispatcher) *Handler {
	return newHandler(conn, cfg.WithDefaults(), d, log.Logger, nil)
}

func newHandler(
	conn net.Conn,
	cfg Config,
	d Dispatcher,
	logger zerolog.Logger,
	rec *observability.IngestRecorder,
) *Handler {
	if d == nil {
		d = Discard
	}
	if rec == nil {
		rec = observability.NewIngestRecorder("standalone")
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultConfig().ReadBufferSize
	}
	info := ConnInfo{
		ID:       uuid.NewString(),
		Remote:   remoteString(conn),
		Accepted: time.Now(),
	}
	h := &Handler{
		cfg:        cfg,
		conn:       conn,
		info:       info,
		dec:        frame.NewDecoder(),
		dispatcher: d,
		logger:     logger.With().Str("conn_id", info.ID).Str("remote", info.Remote).Logger(),
		metrics:    rec,
		readBuf:    make([]byte, cfg.ReadBufferSize),
	}
	h.dec.OnDiscard = func(n int, resynced bool) {
		h.metrics.Discarded(n)
		// noise with no marker is counted but only logged at debug
		event := h.logger.Debug()
		if resynced {
			event = h.logger.Warn()
		}
		event.Int("discarded", n).Bool("resynced", resynced).Msg("discarding garbage bytes")
	}
	return h
}

func (h *Handler) Info() ConnInfo {
	return h.info
}

func (h *Handler) State() State {
	return State(h.state.Load())
}

func (h *Handler) Snapshot() ConnSnapshot {
	return ConnSnapshot{
		ConnInfo: h.info,
		State:    h.State().String(),
		Buffered: h.buffered.Load(),
		Frames:   h.frames.Load(),
	}
}

// Serve runs the read loop until a terminal condition and returns the
// terminal state. The connection is closed and the decoder released before
// Serve returns. Cancelling ctx closes the connection. Only the first call
// runs the loop; later calls return the current state.
func (h *Handler) Serve(ctx context.Context) State {
	if !h.started.CompareAndSwap(false, true) {
		return h.State()
	}
	stop := context.AfterFunc(ctx, func() {
		_ = h.conn.Close()
	})
	defer stop()

	h.metrics.ConnOpened()
	h.logger.Info().Msg("connected")

	final := h.loop(ctx)

	h.state.Store(int32(final))
	_ = h.conn.Close()
	h.dec.Reset()
	h.buffered.Store(0)
	h.metrics.ConnClosed(final.String())
	h.logger.Info().
		Str("state", final.String()).
		Uint64("frames", h.frames.Load()).
		Msg("disconnected")
	return final
}

func (h *Handler) loop(ctx context.Context) State {
	for {
		if ctx.Err() != nil {
			return StateClosedShutdown
		}

		buffered := h.dec.Buffered()
		if buffered > h.cfg.HardLimit {
			h.logger.Warn().
				Int("buffered", buffered).
				Int("hard_limit", h.cfg.HardLimit).
				Msg("safety valve triggered, dropping client")
			return StateClosedSafetyValve
		}
		if buffered > h.cfg.SoftLimit {
			h.metrics.Throttled()
			h.logger.Debug().
				Int("buffered", buffered).
				Int("soft_limit", h.cfg.SoftLimit).
				Msg("backpressure active, throttling")
			if !backoff.Sleep(ctx, h.cfg.ThrottleDelay) {
				return StateClosedShutdown
			}
		}

		h.state.Store(int32(StateReading))
		if err := h.conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout)); err != nil {
			return h.classify(ctx, err)
		}
		n, err := h.conn.Read(h.readBuf)
		if n > 0 {
			h.metrics.BytesReceived(n)
			if !h.consume(ctx, h.readBuf[:n]) {
				return StateClosedError
			}
		}
		if err != nil {
			return h.classify(ctx, err)
		}
	}
}

// consume decodes p and dispatches every complete payload in order. It
// reports false when the dispatcher panicked and the connection must close.
func (h *Handler) consume(ctx context.Context, p []byte) bool {
	h.state.Store(int32(StateParsing))
	payloads := h.dec.Feed(p)
	h.buffered.Store(int64(h.dec.Buffered()))
	if len(payloads) == 0 {
		return true
	}

	h.state.Store(int32(StateDispatching))
	for _, payload := range payloads {
		h.seq++
		start := time.Now()
		panicked, err := h.dispatch(ctx, Packet{Conn: h.info, Seq: h.seq, Payload: payload})
		h.metrics.Dispatched(time.Since(start), err)
		h.frames.Add(1)
		if panicked {
			return false
		}
		if err != nil {
			h.logger.Warn().
				Err(err).
				Uint64("seq", h.seq).
				Int("bytes", len(payload)).
				Msg("dispatch failed")
		}
	}
	return true
}

// dispatch shields the connection set from a panicking Dispatcher: the
// panic ends this connection only.
func (h *Handler) dispatch(ctx context.Context, pkt Packet) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			h.logger.Error().
				Str("panic", fmt.Sprint(r)).
				Uint64("seq", pkt.Seq).
				Int("bytes", len(pkt.Payload)).
				Bytes("stack", debug.Stack()).
				Msg("dispatcher panicked, closing connection")
			err = fmt.Errorf("%w: %v", ErrDispatchPanic, r)
		}
	}()
	return false, h.dispatcher.Dispatch(ctx, pkt)
}

func (h *Handler) classify(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		return StateClosedShutdown
	}
	if errors.Is(err, io.EOF) {
		return StateClosedByPeer
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		h.logger.Warn().
			Dur("idle_timeout", h.cfg.IdleTimeout).
			Msg("connection timed out")
		return StateClosedIdleTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return StateClosedShutdown
	}
	h.logger.Error().Err(err).Msg("connection error")
	return StateClosedError
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
