package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.yhsif.com/lifxlan"
)

// ErrUnknownPayload is returned by DecodePayload for message types lifxd does not parse
var ErrUnknownPayload = errors.New("unknown payload type")

// Payload is a decoded message body
type Payload interface {
	Type() MessageType
	// Fields returns the payload as a flat map for untyped consumers (Lua, JSON)
	Fields() map[string]any
}

// HSBK is a color on the caller-facing scale (degrees, percent, Kelvin)
type HSBK struct {
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
	Kelvin     uint16 `json:"kelvin"`
}

// Wire converts c to the 16-bit device scale
func (c HSBK) Wire() lifxlan.Color {
	return lifxlan.Color{
		Hue:        scaleUp(c.Hue, HSBKMaximumHue),
		Saturation: scaleUp(c.Saturation, HSBKMaximumSaturation),
		Brightness: scaleUp(c.Brightness, HSBKMaximumBrightness),
		Kelvin:     c.Kelvin,
	}
}

// HSBKFromWire converts a device color to the caller-facing scale
func HSBKFromWire(c lifxlan.Color) HSBK {
	return HSBK{
		Hue:        scaleDown(c.Hue, HSBKMaximumHue),
		Saturation: scaleDown(c.Saturation, HSBKMaximumSaturation),
		Brightness: scaleDown(c.Brightness, HSBKMaximumBrightness),
		Kelvin:     c.Kelvin,
	}
}

func scaleUp(v uint16, top float64) uint16 {
	return uint16(math.Round(float64(v) / top * math.MaxUint16))
}

func scaleDown(v uint16, top float64) uint16 {
	return uint16(math.Round(float64(v) / math.MaxUint16 * top))
}

func powerString(p lifxlan.Power) string {
	if p.On() {
		return "on"
	}
	return "off"
}

// PowerLevel maps a boolean to the wire power level
func PowerLevel(on bool) lifxlan.Power {
	if on {
		return lifxlan.PowerOn
	}
	return lifxlan.PowerOff
}

func durationMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

func labelString(raw [32]byte) string {
	return strings.TrimRight(string(raw[:]), "\x00")
}

func labelBytes(s string) [32]byte {
	var raw [32]byte
	copy(raw[:], s)
	return raw
}

// =============================================================================
// Wire layouts
// =============================================================================

type setPowerWire struct {
	Level    lifxlan.Power
	Duration uint32
}

type setColorWire struct {
	_        uint8
	Color    lifxlan.Color
	Duration uint32
}

type stateServiceWire struct {
	Service uint8
	Port    uint32
}

type lightStateWire struct {
	Color lifxlan.Color
	_     int16
	Power lifxlan.Power
	Label [32]byte
	_     uint64
}

type statePowerWire struct {
	Level lifxlan.Power
}

type stateLabelWire struct {
	Label [32]byte
}

type infoWire struct {
	Signal float32
	Tx     uint32
	Rx     uint32
	_      int16
}

type firmwareWire struct {
	Build   uint64
	_       uint64
	Version uint32
}

type versionWire struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	if len(data) < binary.Size(v) {
		return fmt.Errorf("payload too short: %d < %d", len(data), binary.Size(v))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

// =============================================================================
// Requests
// =============================================================================

// SetPower is the LightSetPower payload
type SetPower struct {
	On       bool
	Duration time.Duration
}

func (p SetPower) Type() MessageType { return LightSetPower }

func (p SetPower) Fields() map[string]any {
	return map[string]any{
		"power":    powerString(PowerLevel(p.On)),
		"duration": p.Duration.Milliseconds(),
	}
}

func (p SetPower) MarshalBinary() ([]byte, error) {
	return marshal(setPowerWire{Level: PowerLevel(p.On), Duration: durationMillis(p.Duration)})
}

// SetColor is the LightSetColor payload
type SetColor struct {
	Color    HSBK
	Duration time.Duration
}

func (p SetColor) Type() MessageType { return LightSetColor }

func (p SetColor) Fields() map[string]any {
	return map[string]any{
		"hue":        int(p.Color.Hue),
		"saturation": int(p.Color.Saturation),
		"brightness": int(p.Color.Brightness),
		"kelvin":     int(p.Color.Kelvin),
		"duration":   p.Duration.Milliseconds(),
	}
}

func (p SetColor) MarshalBinary() ([]byte, error) {
	return marshal(setColorWire{Color: p.Color.Wire(), Duration: durationMillis(p.Duration)})
}

// =============================================================================
// Replies
// =============================================================================

// ServiceState is the StateService payload sent in answer to discovery
type ServiceState struct {
	Service uint8
	Port    uint32
}

func (p ServiceState) Type() MessageType { return StateService }

func (p ServiceState) Fields() map[string]any {
	return map[string]any{"service": int(p.Service), "port": int(p.Port)}
}

func (p ServiceState) MarshalBinary() ([]byte, error) {
	return marshal(stateServiceWire(p))
}

// LightStatus is the LightState payload
type LightStatus struct {
	Color HSBK
	On    bool
	Label string
}

func (p LightStatus) Type() MessageType { return LightState }

func (p LightStatus) Fields() map[string]any {
	return map[string]any{
		"hue":        int(p.Color.Hue),
		"saturation": int(p.Color.Saturation),
		"brightness": int(p.Color.Brightness),
		"kelvin":     int(p.Color.Kelvin),
		"power":      powerString(PowerLevel(p.On)),
		"label":      p.Label,
	}
}

func (p LightStatus) MarshalBinary() ([]byte, error) {
	return marshal(lightStateWire{Color: p.Color.Wire(), Power: PowerLevel(p.On), Label: labelBytes(p.Label)})
}

// PowerState is the LightStatePower payload
type PowerState struct {
	On bool
}

func (p PowerState) Type() MessageType { return LightStatePower }

func (p PowerState) Fields() map[string]any {
	return map[string]any{"power": powerString(PowerLevel(p.On))}
}

func (p PowerState) MarshalBinary() ([]byte, error) {
	return marshal(statePowerWire{Level: PowerLevel(p.On)})
}

// LabelState is the StateLabel payload
type LabelState struct {
	Label string
}

func (p LabelState) Type() MessageType { return StateLabel }

func (p LabelState) Fields() map[string]any {
	return map[string]any{"label": p.Label}
}

func (p LabelState) MarshalBinary() ([]byte, error) {
	return marshal(stateLabelWire{Label: labelBytes(p.Label)})
}

// RadioInfo is the StateHostInfo or StateWifiInfo payload
type RadioInfo struct {
	Kind   MessageType
	Signal float32
	Tx     uint32
	Rx     uint32
}

func (p RadioInfo) Type() MessageType { return p.Kind }

func (p RadioInfo) Fields() map[string]any {
	return map[string]any{
		"signal": float64(p.Signal),
		"tx":     int64(p.Tx),
		"rx":     int64(p.Rx),
	}
}

func (p RadioInfo) MarshalBinary() ([]byte, error) {
	return marshal(infoWire{Signal: p.Signal, Tx: p.Tx, Rx: p.Rx})
}

// Firmware is the StateHostFirmware or StateWifiFirmware payload
type Firmware struct {
	Kind  MessageType
	Build time.Time
	Major uint16
	Minor uint16
}

func (p Firmware) Type() MessageType { return p.Kind }

func (p Firmware) Fields() map[string]any {
	return map[string]any{
		"build":        p.Build.UTC().Format(time.RFC3339),
		"majorVersion": int(p.Major),
		"minorVersion": int(p.Minor),
	}
}

func (p Firmware) MarshalBinary() ([]byte, error) {
	var build uint64
	if !p.Build.IsZero() {
		build = uint64(p.Build.UnixNano())
	}
	return marshal(firmwareWire{Build: build, Version: uint32(p.Major)<<16 | uint32(p.Minor)})
}

// Hardware is the StateVersion payload
type Hardware struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

func (p Hardware) Type() MessageType { return StateVersion }

func (p Hardware) Fields() map[string]any {
	return map[string]any{
		"vendorId":  int64(p.Vendor),
		"productId": int64(p.Product),
		"version":   int64(p.Version),
	}
}

func (p Hardware) MarshalBinary() ([]byte, error) {
	return marshal(versionWire(p))
}

// Ack is the empty Acknowledgement payload
type Ack struct{}

func (Ack) Type() MessageType { return Acknowledgement }

func (Ack) Fields() map[string]any { return map[string]any{} }

func (Ack) MarshalBinary() ([]byte, error) { return nil, nil }

// DecodePayload parses the payload of a reply message
func DecodePayload(t MessageType, data []byte) (Payload, error) {
	switch t {
	case StateService:
		var w stateServiceWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ServiceState(w), nil

	case LightState:
		var w lightStateWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return LightStatus{Color: HSBKFromWire(w.Color), On: w.Power.On(), Label: labelString(w.Label)}, nil

	case LightStatePower:
		var w statePowerWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return PowerState{On: w.Level.On()}, nil

	case StateLabel:
		var w stateLabelWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return LabelState{Label: labelString(w.Label)}, nil

	case StateHostInfo, StateWifiInfo:
		var w infoWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return RadioInfo{Kind: t, Signal: w.Signal, Tx: w.Tx, Rx: w.Rx}, nil

	case StateHostFirmware, StateWifiFirmware:
		var w firmwareWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		fw := Firmware{Kind: t, Major: uint16(w.Version >> 16), Minor: uint16(w.Version)}
		if w.Build != 0 {
			fw.Build = time.Unix(0, int64(w.Build)).UTC()
		}
		return fw, nil

	case StateVersion:
		var w versionWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return Hardware(w), nil

	case Acknowledgement:
		return Ack{}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownPayload, t)
}
