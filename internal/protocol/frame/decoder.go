package frame

import (
	"bytes"
	"encoding/binary"
)

const (
	// compactThreshold is the consumed-prefix size that makes moving the
	// pending bytes to the front worthwhile.
	compactThreshold = 64 * 1024
	// maxRetainedCap bounds the capacity kept after the buffer drains.
	maxRetainedCap = 1024 * 1024
)

// Stats are cumulative decoder counters.
type Stats struct {
	Frames         uint64
	DiscardedBytes uint64
}

// Decoder turns an arbitrary byte stream into payloads delimited by
// magic+length headers. It resynchronizes on the next marker after
// corrupted input and never fails; incomplete input stays buffered until
// the next Feed.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	// OnDiscard, when set, is called with the number of bytes dropped while
	// searching for a frame boundary. resynced is true when a marker follows
	// the dropped bytes and false when the pending input held no marker.
	OnDiscard func(n int, resynced bool)

	buf   []byte
	off   int
	stats Stats
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p and returns every payload that can be decoded, in stream
// order. Returned payloads do not alias the decoder's buffer.
func (d *Decoder) Feed(p []byte) [][]byte {
	d.buf = append(d.buf, p...)

	var out [][]byte
	for {
		pending := d.buf[d.off:]
		idx := bytes.Index(pending, Magic[:])
		if idx < 0 {
			drop := len(pending)
			if drop > 0 && pending[drop-1] == MagicHi {
				// may be the first half of a marker split across reads
				drop--
			}
			d.discard(drop, false)
			break
		}
		if idx > 0 {
			d.discard(idx, true)
			pending = pending[idx:]
		}
		if len(pending) < HeaderLen {
			break
		}

		length := uint64(binary.BigEndian.Uint32(pending[2:HeaderLen]))
		total := uint64(HeaderLen) + length
		if uint64(len(pending)) < total {
			break
		}

		payload := make([]byte, length)
		copy(payload, pending[HeaderLen:total])
		out = append(out, payload)
		d.off += int(total)
		d.stats.Frames++
	}

	d.compact()
	return out
}

// Buffered reports bytes held but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

// Reset drops all buffered bytes without counting them as discarded.
func (d *Decoder) Reset() {
	d.buf = nil
	d.off = 0
}

func (d *Decoder) discard(n int, resynced bool) {
	if n <= 0 {
		return
	}
	d.off += n
	d.stats.DiscardedBytes += uint64(n)
	if d.OnDiscard != nil {
		d.OnDiscard(n, resynced)
	}
}

func (d *Decoder) compact() {
	switch {
	case d.off == len(d.buf):
		if cap(d.buf) > maxRetainedCap {
			d.buf = nil
		} else {
			d.buf = d.buf[:0]
		}
		d.off = 0
	case d.off >= compactThreshold && d.off*2 >= len(d.buf):
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
}
