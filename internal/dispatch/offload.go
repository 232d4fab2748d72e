package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/memexd/internal/ingest"
	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("dispatch: offload queue full")
	ErrClosed    = errors.New("dispatch: offload closed")
)

// Offload moves packets off the connection read loop onto a single worker
// goroutine that calls next. Packets reach next in the order they were
// accepted. When the queue is full Dispatch fails fast with ErrQueueFull
// instead of stalling the connection.
type Offload struct {
	next   ingest.Dispatcher
	logger zerolog.Logger
	queue  chan ingest.Packet
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewOffload(next ingest.Dispatcher, size int, logger zerolog.Logger) *Offload {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Offload{
		next:   next,
		logger: logger.With().Str("component", "dispatch.offload").Logger(),
		queue:  make(chan ingest.Packet, size),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go o.run()
	return o
}

func (o *Offload) Dispatch(_ context.Context, pkt ingest.Packet) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.queue <- pkt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports queued packets not yet handed to next.
func (o *Offload) Len() int {
	return len(o.queue)
}

// Close stops intake and waits for queued packets to drain. If ctx ends
// first, the worker's context is cancelled and ctx.Err is returned.
func (o *Offload) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	select {
	case <-o.done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}

func (o *Offload) run() {
	defer close(o.done)
	for pkt := range o.queue {
		if err := o.forward(pkt); err != nil {
			o.logger.Warn().
				Err(err).
				Str("conn_id", pkt.Conn.ID).
				Uint64("seq", pkt.Seq).
				Msg("offloaded dispatch failed")
		}
	}
}

// forward keeps the worker alive when next panics on one packet.
func (o *Offload) forward(pkt ingest.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ingest.ErrDispatchPanic, r)
		}
	}()
	return o.next.Dispatch(o.ctx, pkt)
}
