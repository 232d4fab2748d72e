package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("intent-1")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	raw := buf.Bytes()
	if raw[0] != MagicHi || raw[1] != MagicLo {
		t.Fatalf("magic mismatch: % x", raw[:2])
	}
	if got := binary.BigEndian.Uint32(raw[2:HeaderLen]); got != 8 {
		t.Fatalf("length mismatch: %d", got)
	}

	out := NewDecoder().Feed(raw)
	if len(out) != 1 || string(out[0]) != "intent-1" {
		t.Fatalf("decode mismatch: %q", out)
	}
}

func TestEncodeMatchesWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), Encode([]byte("abc"))) {
		t.Fatalf("encode mismatch: % x vs % x", buf.Bytes(), Encode([]byte("abc")))
	}
}

func TestWriteFrameEmptyPayloadWritesHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen {
		t.Fatalf("expected %d bytes, got %d", HeaderLen, buf.Len())
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteFramePropagatesWriterError(t *testing.T) {
	want := errors.New("broken pipe")
	if err := WriteFrame(failingWriter{err: want}, []byte("x")); !errors.Is(err, want) {
		t.Fatalf("expected writer error, got %v", err)
	}
}

func TestAppendFrameConcatenates(t *testing.T) {
	var stream []byte
	stream = AppendFrame(stream, []byte("a"))
	stream = AppendFrame(stream, []byte("bc"))
	if len(stream) != 2*HeaderLen+3 {
		t.Fatalf("unexpected stream length: %d", len(stream))
	}
	out := NewDecoder().Feed(stream)
	if len(out) != 2 || string(out[0]) != "a" || string(out[1]) != "bc" {
		t.Fatalf("decode mismatch: %q", out)
	}
}
