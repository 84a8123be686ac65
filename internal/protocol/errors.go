package protocol

import "fmt"

// ProtocolError reports a malformed wire artifact: a corrupt length
// prefix, a truncated envelope, or an undecodable body. The read loop
// logs it and skips the offending frame; it never tears the stream down
// by itself unless stream sync is lost.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Op, e.Reason)
}

// UnknownTypeError reports a message kind with no wire id, or a wire id
// with no registered kind.
type UnknownTypeError struct {
	Kind MsgKind
	ID   uint32
}

func (e *UnknownTypeError) Error() string {
	if e.Kind != KindInvalid {
		return fmt.Sprintf("protocol: unknown message kind %q", e.Kind)
	}
	return fmt.Sprintf("protocol: unknown payload type id %d", e.ID)
}
