// Package protocol implements the LIFX LAN wire format: the 36-byte packet
// header, message type numbers, and the typed payloads used by lifxd.
package protocol

import "fmt"

// DefaultPort is the UDP port LIFX devices listen on
const DefaultPort = 56700

// ProtocolNumber is the only protocol version devices accept
const ProtocolNumber = 1024

// HeaderSize is the length of frame + frame address + protocol header
const HeaderSize = 36

// HSBK bounds on the caller-facing scale. Hue is in degrees, saturation and
// brightness in percent, kelvin in Kelvin. All bounds are inclusive.
const (
	HSBKMinimumHue        = 0
	HSBKMaximumHue        = 360
	HSBKMinimumSaturation = 0
	HSBKMaximumSaturation = 100
	HSBKMinimumBrightness = 0
	HSBKMaximumBrightness = 100
	HSBKMinimumKelvin     = 2500
	HSBKMaximumKelvin     = 9000
	HSBKDefaultKelvin     = 3500
)

// MessageType identifies the payload carried by a packet
type MessageType uint16

const (
	GetService        MessageType = 2
	StateService      MessageType = 3
	GetHostInfo       MessageType = 12
	StateHostInfo     MessageType = 13
	GetHostFirmware   MessageType = 14
	StateHostFirmware MessageType = 15
	GetWifiInfo       MessageType = 16
	StateWifiInfo     MessageType = 17
	GetWifiFirmware   MessageType = 18
	StateWifiFirmware MessageType = 19
	GetLabel          MessageType = 23
	StateLabel        MessageType = 25
	GetVersion        MessageType = 32
	StateVersion      MessageType = 33
	Acknowledgement   MessageType = 45
	LightGet          MessageType = 101
	LightSetColor     MessageType = 102
	LightState        MessageType = 107
	LightGetPower     MessageType = 116
	LightSetPower     MessageType = 117
	LightStatePower   MessageType = 118
)

var messageNames = map[MessageType]string{
	GetService:        "GetService",
	StateService:      "StateService",
	GetHostInfo:       "GetHostInfo",
	StateHostInfo:     "StateHostInfo",
	GetHostFirmware:   "GetHostFirmware",
	StateHostFirmware: "StateHostFirmware",
	GetWifiInfo:       "GetWifiInfo",
	StateWifiInfo:     "StateWifiInfo",
	GetWifiFirmware:   "GetWifiFirmware",
	StateWifiFirmware: "StateWifiFirmware",
	GetLabel:          "GetLabel",
	StateLabel:        "StateLabel",
	GetVersion:        "GetVersion",
	StateVersion:      "StateVersion",
	Acknowledgement:   "Acknowledgement",
	LightGet:          "LightGet",
	LightSetColor:     "LightSetColor",
	LightState:        "LightState",
	LightGetPower:     "LightGetPower",
	LightSetPower:     "LightSetPower",
	LightStatePower:   "LightStatePower",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// ReplyType returns the message type a device answers the request with.
// ok is false for messages that carry no state reply.
func (t MessageType) ReplyType() (MessageType, bool) {
	switch t {
	case GetService:
		return StateService, true
	case GetHostInfo:
		return StateHostInfo, true
	case GetHostFirmware:
		return StateHostFirmware, true
	case GetWifiInfo:
		return StateWifiInfo, true
	case GetWifiFirmware:
		return StateWifiFirmware, true
	case GetLabel:
		return StateLabel, true
	case GetVersion:
		return StateVersion, true
	case LightGet, LightSetColor:
		return LightState, true
	case LightGetPower, LightSetPower:
		return LightStatePower, true
	}
	return 0, false
}
