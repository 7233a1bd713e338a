package lifx

import (
	"encoding"
	"fmt"
	"net"
	"time"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

// Envelope is one fully formed outbound command. Everything but Attempts is
// fixed once built.
type Envelope struct {
	Type        protocol.MessageType
	Target      protocol.Target
	Addr        *net.UDPAddr
	Sequence    uint8
	Payload     []byte
	Tagged      bool
	AckRequired bool
	ResRequired bool
	Enqueued    time.Time
	// Attempts is owned by the sender once the envelope leaves the queue
	Attempts int
}

// Header returns the wire header for this envelope
func (e *Envelope) Header(source uint32) protocol.Header {
	return protocol.Header{
		Tagged:      e.Tagged,
		Source:      source,
		Target:      e.Target,
		AckRequired: e.AckRequired,
		ResRequired: e.ResRequired,
		Sequence:    e.Sequence,
		Type:        e.Type,
	}
}

// Encode serializes the envelope for transmission
func (e *Envelope) Encode(source uint32) []byte {
	return protocol.Encode(e.Header(source), e.Payload)
}

// command is a validated intent, not yet sequenced
type command struct {
	light    *Light
	typ      protocol.MessageType
	body     encoding.BinaryMarshaler
	callback Callback

	ackRequired bool
	resRequired bool

	// optimistic runs under the client lock once the envelope is built
	optimistic func()
}

// nextSequence hands out the next sequence number not held by a pending
// handler. Caller must hold c.mu.
func (c *Client) nextSequence() (uint8, error) {
	for i := 0; i < 256; i++ {
		seq := c.seq
		c.seq++
		if !c.registry.Pending(seq) {
			return seq, nil
		}
	}
	return 0, ErrSequenceExhausted
}

// issue builds, registers and enqueues a command as one step. Nothing is
// mutated when any part of the build fails.
func (c *Client) issue(cmd command) (*Envelope, error) {
	var payload []byte
	if cmd.body != nil {
		raw, err := cmd.body.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", cmd.typ, err)
		}
		payload = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	seq, err := c.nextSequence()
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Type:        cmd.typ,
		Sequence:    seq,
		Payload:     payload,
		AckRequired: cmd.ackRequired,
		ResRequired: cmd.resRequired,
		Enqueued:    c.now(),
	}

	var targetID string
	if cmd.light != nil {
		env.Target = cmd.light.target
		env.Addr = cmd.light.Addr()
		targetID = cmd.light.id
	} else {
		env.Tagged = true
		env.Addr = cloneAddr(c.opts.BroadcastAddr)
	}

	if cmd.callback != nil {
		want, ok := cmd.typ.ReplyType()
		if cmd.ackRequired && !cmd.resRequired {
			want, ok = protocol.Acknowledgement, true
		}
		if !ok {
			return nil, fmt.Errorf("%s has no reply to wait for", cmd.typ)
		}
		c.registry.Register(Entry{
			Sequence: seq,
			Type:     cmd.typ,
			Target:   targetID,
			Match:    MatchReply(seq, want, targetID),
			Callback: cmd.callback,
			Deadline: c.now().Add(c.opts.ResponseTimeout),
		})
	}

	if cmd.optimistic != nil {
		cmd.optimistic()
	}

	c.queue.Enqueue(env)
	return env, nil
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil {
		return nil
	}
	ip := make(net.IP, len(addr.IP))
	copy(ip, addr.IP)
	return &net.UDPAddr{IP: ip, Port: addr.Port, Zone: addr.Zone}
}
