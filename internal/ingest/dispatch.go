package ingest

import (
	"context"
	"errors"
	"time"
)

// ErrDispatchPanic marks a payload whose Dispatcher panicked. The handler
// closes that connection with StateClosedError; others are unaffected.
var ErrDispatchPanic = errors.New("ingest: dispatcher panicked")

// ConnInfo identifies the connection a packet arrived on.
type ConnInfo struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	Accepted time.Time `json:"accepted"`
}

// Packet is one decoded frame payload. Seq starts at 1 for each connection.
type Packet struct {
	Conn    ConnInfo
	Seq     uint64
	Payload []byte
}

// Dispatcher receives decoded payloads. Dispatch is called synchronously from
// the connection's read loop, once per frame and in arrival order, so it must
// not block for long; collaborators with slow work offload it themselves.
// A returned error is logged and counted; the connection keeps reading.
// A panic closes only the connection that carried the payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, pkt Packet) error
}

type DispatchFunc func(ctx context.Context, pkt Packet) error

func (f DispatchFunc) Dispatch(ctx context.Context, pkt Packet) error {
	return f(ctx, pkt)
}

// Discard accepts and drops every payload.
var Discard Dispatcher = DispatchFunc(func(context.Context, Packet) error { return nil })
