package protocol

import (
	"bytes"
	"encoding/binary"
)

const lengthPrefixSize = 4

// MaxFrameSize guards against corrupt or hostile length prefixes. A frame
// claiming to be larger than this is a ProtocolError, not a pending read.
const MaxFrameSize = 64 << 20

// Framer turns a fragmented byte stream into discrete length-prefixed
// frames. Feed bytes in arrival order, then drain with Next; any trailing
// partial frame is retained for the following Feed.
type Framer struct {
	buf bytes.Buffer
}

func (f *Framer) Feed(p []byte) {
	f.buf.Write(p)
}

// Next extracts one complete frame payload, or returns (nil, nil) when the
// buffered bytes do not yet hold a full frame.
func (f *Framer) Next() ([]byte, error) {
	data := f.buf.Bytes()
	if len(data) < lengthPrefixSize {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(data[:lengthPrefixSize])
	if n > MaxFrameSize {
		return nil, &ProtocolError{Op: "frame", Reason: "length prefix exceeds limit"}
	}
	total := lengthPrefixSize + int(n)
	if len(data) < total {
		return nil, nil
	}
	payload := make([]byte, n)
	copy(payload, data[lengthPrefixSize:total])
	f.buf.Next(total)
	return payload, nil
}

// Buffered reports how many bytes are held waiting for frame completion.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Reset drops any partial frame, for reuse across reconnects.
func (f *Framer) Reset() {
	f.buf.Reset()
}

// EncodeFrame prepends the 4-byte big-endian length prefix to payload.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out[:lengthPrefixSize], uint32(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out
}
