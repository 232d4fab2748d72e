package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	MagicHi byte = 0xBE
	MagicLo byte = 0xEF

	// HeaderLen is magic (2) plus big-endian payload length (4).
	HeaderLen = 6
)

// Magic is the frame delimiter.
var Magic = [2]byte{MagicHi, MagicLo}

var ErrPayloadTooLarge = errors.New("frame: payload too large")

// AppendFrame appends one encoded frame carrying payload to dst.
// Payloads larger than math.MaxUint32 cannot be represented; callers
// that accept arbitrary input should go through WriteFrame.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, MagicHi, MagicLo)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload)
}

func EncodeHeader(payloadLen uint32) []byte {
	buf := make([]byte, HeaderLen)
	buf[0], buf[1] = MagicHi, MagicLo
	binary.BigEndian.PutUint32(buf[2:HeaderLen], payloadLen)
	return buf
}

func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}
	if _, err := w.Write(EncodeHeader(uint32(len(payload)))); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
