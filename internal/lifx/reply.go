package lifx

import (
	"net"
	"time"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

// Reply is a decoded inbound packet addressed to this client
type Reply struct {
	Type     protocol.MessageType
	Sequence uint8
	Source   uint32
	Target   string
	Addr     *net.UDPAddr
	Payload  protocol.Payload
	Received time.Time
}

// Fields returns the reply payload as a flat map
func (r *Reply) Fields() map[string]any {
	if r == nil || r.Payload == nil {
		return map[string]any{}
	}
	return r.Payload.Fields()
}

// Callback receives either a matching reply or a failure (timeout, client
// closed). Exactly one of reply and err is non-nil.
type Callback func(reply *Reply, err error)

// ResultHandler is the interface form of Callback
type ResultHandler interface {
	HandleResult(reply *Reply, err error)
}

// Predicate decides whether a reply resolves a pending handler
type Predicate func(r *Reply) bool

// MatchReply builds the predicate used for command correlation: same
// sequence, expected reply type and, for unicast commands, same device.
func MatchReply(seq uint8, want protocol.MessageType, target string) Predicate {
	return func(r *Reply) bool {
		if r.Sequence != seq || r.Type != want {
			return false
		}
		return target == "" || r.Target == target
	}
}
