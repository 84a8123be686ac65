package protocol

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		[]byte("alpha"),
		{},
		[]byte("a much longer payload with some bytes in it"),
		{0x00, 0xff, 0x10},
	}

	var stream []byte
	for _, p := range payloads {
		stream = append(stream, EncodeFrame(p)...)
	}

	// Feed the concatenated stream in several fragmentations; the framer
	// must yield the original sequence in order every time.
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		f := &Framer{}
		var got [][]byte

		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			f.Feed(rest[:n])
			rest = rest[n:]
			for {
				p, err := f.Next()
				require.NoError(t, err)
				if p == nil {
					break
				}
				got = append(got, p)
			}
		}

		require.Len(t, got, len(payloads))
		for i := range payloads {
			assert.Equal(t, payloads[i], got[i])
		}
		assert.Zero(t, f.Buffered())
	}
}

func TestFramerManyFramesOneFeed(t *testing.T) {
	t.Parallel()

	f := &Framer{}
	var stream []byte
	stream = append(stream, EncodeFrame([]byte("one"))...)
	stream = append(stream, EncodeFrame([]byte("two"))...)
	f.Feed(stream)

	p1, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), p1)

	p2, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), p2)

	p3, err := f.Next()
	require.NoError(t, err)
	assert.Nil(t, p3)
}

func TestFramerRetainsPartialFrame(t *testing.T) {
	t.Parallel()

	f := &Framer{}
	frame := EncodeFrame([]byte("payload"))

	f.Feed(frame[:3])
	p, err := f.Next()
	require.NoError(t, err)
	assert.Nil(t, p)

	f.Feed(frame[3:6])
	p, err = f.Next()
	require.NoError(t, err)
	assert.Nil(t, p)

	f.Feed(frame[6:])
	p, err = f.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), p)
}

func TestFramerRejectsOversizedLength(t *testing.T) {
	t.Parallel()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	f := &Framer{}
	f.Feed(header[:])
	_, err := f.Next()
	require.Error(t, err)

	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestEncodeFramePrefix(t *testing.T) {
	t.Parallel()

	out := EncodeFrame([]byte{0xaa, 0xbb})
	require.Len(t, out, 6)
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(out[:4]))
	assert.Equal(t, []byte{0xaa, 0xbb}, out[4:])
}
