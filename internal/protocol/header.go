package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShortPacket   = errors.New("packet shorter than header")
	ErrSizeMismatch  = errors.New("packet size field does not match datagram length")
	ErrBadProtocol   = errors.New("unsupported protocol number")
	ErrInvalidTarget = errors.New("invalid target")
)

// Target is the 8-byte frame address target. The first six bytes are the
// device MAC address; an all-zero target addresses every device.
type Target [8]byte

// BroadcastTarget addresses all devices on the segment
var BroadcastTarget Target

// ParseTarget parses a 12 hex character device id such as "d073d5001337"
func ParseTarget(id string) (Target, error) {
	var t Target
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 6 {
		return t, fmt.Errorf("%w: %q", ErrInvalidTarget, id)
	}
	copy(t[:], raw)
	return t, nil
}

// String returns the lowercase hex id of the device MAC
func (t Target) String() string {
	return hex.EncodeToString(t[:6])
}

// IsBroadcast reports whether t addresses every device
func (t Target) IsBroadcast() bool {
	return t == BroadcastTarget
}

// NormalizeID lowercases a device id and strips MAC separators so ids from
// different sources compare equal
func NormalizeID(id string) string {
	id = strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(id))
	return strings.ToLower(id)
}

// Header is the decoded packet header
type Header struct {
	Size        uint16
	Tagged      bool
	Source      uint32
	Target      Target
	AckRequired bool
	ResRequired bool
	Sequence    uint8
	Type        MessageType
}

// Packet is a header plus its raw payload bytes
type Packet struct {
	Header
	Payload []byte
}

const (
	flagAddressable = 1 << 12
	flagTagged      = 1 << 13

	flagResRequired = 1 << 0
	flagAckRequired = 1 << 1
)

// Encode serializes h and payload into a datagram. Size is computed.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))

	// Frame
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf)))
	proto := uint16(ProtocolNumber) | flagAddressable
	if h.Tagged {
		proto |= flagTagged
	}
	binary.LittleEndian.PutUint16(buf[2:4], proto)
	binary.LittleEndian.PutUint32(buf[4:8], h.Source)

	// Frame address; bytes 16..21 are reserved
	copy(buf[8:16], h.Target[:])
	var flags byte
	if h.ResRequired {
		flags |= flagResRequired
	}
	if h.AckRequired {
		flags |= flagAckRequired
	}
	buf[22] = flags
	buf[23] = h.Sequence

	// Protocol header; bytes 24..31 and 34..35 are reserved
	binary.LittleEndian.PutUint16(buf[32:34], uint16(h.Type))

	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a datagram into a Packet. The payload slice aliases data.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}

	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) != len(data) {
		return nil, fmt.Errorf("%w: size=%d len=%d", ErrSizeMismatch, size, len(data))
	}

	proto := binary.LittleEndian.Uint16(data[2:4])
	if proto&0x0fff != ProtocolNumber {
		return nil, fmt.Errorf("%w: %d", ErrBadProtocol, proto&0x0fff)
	}

	p := &Packet{
		Header: Header{
			Size:        size,
			Tagged:      proto&flagTagged != 0,
			Source:      binary.LittleEndian.Uint32(data[4:8]),
			AckRequired: data[22]&flagAckRequired != 0,
			ResRequired: data[22]&flagResRequired != 0,
			Sequence:    data[23],
			Type:        MessageType(binary.LittleEndian.Uint16(data[32:34])),
		},
		Payload: data[HeaderSize:],
	}
	copy(p.Target[:], data[8:16])

	return p, nil
}
