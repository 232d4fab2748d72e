package dispatch

import (
	"context"

	"github.com/danmuck/memexd/internal/ingest"
	"github.com/rs/zerolog"
)

// Log records one debug event per packet and drops the payload.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "dispatch").Logger()}
}

func (l *Log) Dispatch(_ context.Context, pkt ingest.Packet) error {
	l.logger.Debug().
		Str("conn_id", pkt.Conn.ID).
		Uint64("seq", pkt.Seq).
		Int("bytes", len(pkt.Payload)).
		Msg("packet received")
	return nil
}
