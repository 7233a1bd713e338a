package lifx

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

var (
	// ErrRange matches every *RangeError via errors.Is
	ErrRange = errors.New("value out of range")
	// ErrType matches every *TypeError via errors.Is
	ErrType = errors.New("invalid argument type")
	// ErrTimeout matches every *TimeoutError via errors.Is
	ErrTimeout = errors.New("no response before deadline")

	ErrSequenceExhausted = errors.New("all sequence numbers are pending")
	ErrClientClosed      = errors.New("client is closed")
	ErrUnknownLight      = errors.New("unknown light")
)

// RangeError reports a numeric field outside its protocol bound, a missing
// mandatory field, or a duration of the wrong type.
type RangeError struct {
	Field  string
	Value  any
	Reason string
}

func (e *RangeError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %#v)", e.Field, e.Reason, e.Value)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// TypeError reports a callback argument that cannot be invoked
type TypeError struct {
	Field string
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected a callback, got %T", e.Field, e.Value)
}

func (e *TypeError) Is(target error) bool { return target == ErrType }

// TimeoutError is delivered to a callback whose deadline passed before a
// matching reply arrived.
type TimeoutError struct {
	Type     protocol.MessageType
	Sequence uint8
	Target   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s seq=%d to %s: %s", e.Type, e.Sequence, e.Target, ErrTimeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
