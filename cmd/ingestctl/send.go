package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/danmuck/memexd/internal/backoff"
	"github.com/danmuck/memexd/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	addr    string
	lines   bool
	garbage int
	retries int
	timeout time.Duration
}

func newSendCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send [file...]",
		Short: "Frame files or stdin and write them to an ingestion listener",
		Long: `send wraps each input in a 0xBEEF frame and writes the frames over one
TCP connection. Each file becomes one frame, or one frame per non-empty line
with --lines. With no files, stdin is read. --garbage prefixes the stream with
zero bytes so the listener's resync path can be exercised.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads, err := collectPayloads(args, cmd.InOrStdin(), opts.lines)
			if err != nil {
				return err
			}
			n, err := runSend(cmd.Context(), opts, payloads)
			if err != nil {
				return err
			}
			log.Info().Str("addr", opts.addr).Int("frames", len(payloads)).Int("bytes", n).Msg("sent")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:9999", "listener address")
	f.BoolVar(&opts.lines, "lines", false, "send one frame per input line")
	f.IntVar(&opts.garbage, "garbage", 0, "prefix the stream with N noise bytes")
	f.IntVar(&opts.retries, "retries", 0, "redial attempts when the listener is not up yet")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "dial and write timeout")
	return cmd
}

func collectPayloads(paths []string, stdin io.Reader, lines bool) ([][]byte, error) {
	var sources [][]byte
	if len(paths) == 0 {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		sources = append(sources, b)
	}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		sources = append(sources, b)
	}
	if !lines {
		return sources, nil
	}

	var out [][]byte
	for _, src := range sources {
		sc := bufio.NewScanner(bytes.NewReader(src))
		sc.Buffer(make([]byte, 0, 64*1024), len(src)+1)
		for sc.Scan() {
			line := bytes.TrimRight(sc.Bytes(), "\r")
			if len(line) == 0 {
				continue
			}
			out = append(out, bytes.Clone(line))
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("split lines: %w", err)
		}
	}
	return out, nil
}

// runSend writes the noise prefix and every frame over one connection and
// returns the number of bytes written.
func runSend(ctx context.Context, opts sendOptions, payloads [][]byte) (int, error) {
	if opts.garbage < 0 {
		return 0, fmt.Errorf("garbage must not be negative: %d", opts.garbage)
	}
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if opts.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(opts.timeout))
	}

	// Zero bytes never contain the marker, so the noise is always skipped
	// as a single discard.
	stream := make([]byte, opts.garbage)
	for _, p := range payloads {
		stream = frame.AppendFrame(stream, p)
	}
	n, err := conn.Write(stream)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", opts.addr, err)
	}
	return n, nil
}

func dialWithRetry(ctx context.Context, opts sendOptions) (net.Conn, error) {
	dialer := net.Dialer{Timeout: opts.timeout}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", opts.addr)
		if err == nil {
			return conn, nil
		}
		if attempt > opts.retries {
			return nil, fmt.Errorf("dial %s: %w", opts.addr, err)
		}
		delay := backoff.Dial.Delay(attempt, rng)
		log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
		if !backoff.Sleep(ctx, delay) {
			return nil, fmt.Errorf("dial %s: %w", opts.addr, ctx.Err())
		}
	}
}
