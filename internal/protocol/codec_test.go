package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireTableBijective(t *testing.T) {
	t.Parallel()

	seen := make(map[uint32]MsgKind)
	for kind, id := range kindToID {
		prev, dup := seen[id]
		require.Falsef(t, dup, "id %d mapped by both %q and %q", id, prev, kind)
		seen[id] = kind

		back, err := KindOf(id)
		require.NoError(t, err)
		assert.Equal(t, kind, back)
	}
}

func TestIDFamilies(t *testing.T) {
	t.Parallel()

	assert.True(t, KindHeartbeatEvent.Common())
	assert.True(t, KindErrorEvent.Common())
	assert.False(t, KindAppAuthRequest.Common())
	assert.False(t, KindSpotEvent.Common())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	body := SpotEvent{SymbolID: 7, Bid: 2_500_000, Ask: 2_500_300}
	payload, err := Marshal(KindSpotEvent, 99, body)
	require.NoError(t, err)

	env, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, KindSpotEvent, env.Type)
	assert.Equal(t, uint64(99), env.CorrelationID)

	var got SpotEvent
	require.NoError(t, DecodeBody(env, &got))
	assert.Equal(t, body, got)
}

func TestMarshalUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Marshal(MsgKind("no-such-message"), 1, nil)
	var uerr *UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestUnmarshalUnknownID(t *testing.T) {
	t.Parallel()

	payload := make([]byte, envelopeHeaderSize)
	payload[3] = 0xfe // type id 254, unassigned
	_, err := Unmarshal(payload)
	var uerr *UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestUnmarshalShortPayload(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte{1, 2, 3})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestDecodeBodyMalformed(t *testing.T) {
	t.Parallel()

	payload, err := Marshal(KindHeartbeatEvent, 0, nil)
	require.NoError(t, err)
	env, err := Unmarshal(payload)
	require.NoError(t, err)

	env.Body = []byte("{not json")
	var ev HeartbeatEvent
	var perr *ProtocolError
	require.ErrorAs(t, DecodeBody(env, &ev), &perr)
}

func TestEmptyBodyDecodesToZeroValue(t *testing.T) {
	t.Parallel()

	payload, err := Marshal(KindAppAuthResponse, 5, nil)
	require.NoError(t, err)
	env, err := Unmarshal(payload)
	require.NoError(t, err)

	var res AppAuthResponse
	assert.NoError(t, DecodeBody(env, &res))
}
