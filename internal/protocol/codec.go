package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MsgKind identifies a message semantically. The set is closed; the wire
// mapping lives in the static tables below, built once at init.
type MsgKind string

const (
	KindInvalid MsgKind = ""

	// common family (ids below VendorIDBase)
	KindHeartbeatEvent MsgKind = "heartbeat-event"
	KindErrorEvent     MsgKind = "error-event"

	// vendor family
	KindAppAuthRequest          MsgKind = "application-auth-request"
	KindAppAuthResponse         MsgKind = "application-auth-response"
	KindAccountAuthRequest      MsgKind = "account-auth-request"
	KindAccountAuthResponse     MsgKind = "account-auth-response"
	KindSymbolsListRequest      MsgKind = "symbols-list-request"
	KindSymbolsListResponse     MsgKind = "symbols-list-response"
	KindSymbolInfoRequest       MsgKind = "symbol-info-request"
	KindSymbolInfoResponse      MsgKind = "symbol-info-response"
	KindSubscribeSpotsRequest   MsgKind = "subscribe-spots-request"
	KindSubscribeSpotsResponse  MsgKind = "subscribe-spots-response"
	KindSpotEvent               MsgKind = "spot-event"
	KindNewOrderRequest         MsgKind = "new-order-request"
	KindExecutionEvent          MsgKind = "execution-event"
	KindOrderErrorEvent         MsgKind = "order-error-event"
	KindAmendPositionRequest    MsgKind = "amend-position-sltp-request"
	KindAmendPositionResponse   MsgKind = "amend-position-sltp-response"
	KindReconcileRequest        MsgKind = "reconcile-request"
	KindReconcileResponse       MsgKind = "reconcile-response"
	KindTrendbarsRequest        MsgKind = "trendbars-request"
	KindTrendbarsResponse       MsgKind = "trendbars-response"
)

// VendorIDBase splits the two id families: ids below it belong to the
// small common set, ids at or above it to the vendor-specific set.
const VendorIDBase = 2000

var kindToID = map[MsgKind]uint32{
	KindHeartbeatEvent: 51,
	KindErrorEvent:     50,

	KindAppAuthRequest:         2100,
	KindAppAuthResponse:        2101,
	KindAccountAuthRequest:     2102,
	KindAccountAuthResponse:    2103,
	KindSymbolsListRequest:     2114,
	KindSymbolsListResponse:    2115,
	KindSymbolInfoRequest:      2116,
	KindSymbolInfoResponse:     2117,
	KindSubscribeSpotsRequest:  2127,
	KindSubscribeSpotsResponse: 2128,
	KindSpotEvent:              2131,
	KindNewOrderRequest:        2106,
	KindExecutionEvent:         2126,
	KindOrderErrorEvent:        2132,
	KindAmendPositionRequest:   2110,
	KindAmendPositionResponse:  2111,
	KindReconcileRequest:       2124,
	KindReconcileResponse:      2125,
	KindTrendbarsRequest:       2137,
	KindTrendbarsResponse:      2138,
}

var idToKind map[uint32]MsgKind

func init() {
	idToKind = make(map[uint32]MsgKind, len(kindToID))
	for k, id := range kindToID {
		if prev, dup := idToKind[id]; dup {
			panic(fmt.Sprintf("protocol: duplicate wire id %d for %q and %q", id, prev, k))
		}
		idToKind[id] = k
	}
}

// Common reports whether the kind belongs to the common id family.
func (k MsgKind) Common() bool {
	id, ok := kindToID[k]
	return ok && id < VendorIDBase
}

// WireID returns the numeric payload-type id for a kind.
func WireID(k MsgKind) (uint32, error) {
	id, ok := kindToID[k]
	if !ok {
		return 0, &UnknownTypeError{Kind: k}
	}
	return id, nil
}

// KindOf returns the kind for a numeric payload-type id.
func KindOf(id uint32) (MsgKind, error) {
	k, ok := idToKind[id]
	if !ok {
		return KindInvalid, &UnknownTypeError{ID: id}
	}
	return k, nil
}

// Envelope is the outer wire structure inside a frame:
// 4-byte payload-type id, 8-byte correlation id (0 = unsolicited), body.
type Envelope struct {
	Type          MsgKind
	CorrelationID uint64
	Body          []byte
}

const envelopeHeaderSize = 12

// Marshal serializes kind, correlation id and a JSON body into a frame
// payload (without the length prefix).
func Marshal(kind MsgKind, corrID uint64, body any) ([]byte, error) {
	id, err := WireID(kind)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", kind, err)
		}
	}
	out := make([]byte, envelopeHeaderSize+len(raw))
	binary.BigEndian.PutUint32(out[0:4], id)
	binary.BigEndian.PutUint64(out[4:12], corrID)
	copy(out[envelopeHeaderSize:], raw)
	return out, nil
}

// Unmarshal parses a frame payload into an Envelope. The body is returned
// raw; decode it with DecodeBody once the kind is known.
func Unmarshal(payload []byte) (Envelope, error) {
	if len(payload) < envelopeHeaderSize {
		return Envelope{}, &ProtocolError{Op: "envelope", Reason: "short payload"}
	}
	id := binary.BigEndian.Uint32(payload[0:4])
	kind, err := KindOf(id)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:          kind,
		CorrelationID: binary.BigEndian.Uint64(payload[4:12]),
		Body:          payload[envelopeHeaderSize:],
	}, nil
}

// DecodeBody unmarshals an envelope's JSON body into v.
func DecodeBody(env Envelope, v any) error {
	if len(env.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Body, v); err != nil {
		return &ProtocolError{Op: string(env.Type), Reason: err.Error()}
	}
	return nil
}
