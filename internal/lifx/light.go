package lifx

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

const (
	StatusOn  = "on"
	StatusOff = "off"
)

// LightInfo identifies a device on the network
type LightInfo struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Label   string `json:"label,omitempty" yaml:"label"`
}

// Snapshot is a point-in-time copy of a light's cached state
type Snapshot struct {
	ID              string        `json:"id"`
	Address         string        `json:"address"`
	Port            int           `json:"port"`
	Label           string        `json:"label"`
	Status          string        `json:"status"`
	Color           protocol.HSBK `json:"color"`
	Online          bool          `json:"online"`
	SeenOnDiscovery uint64        `json:"seen_on_discovery"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Light is the local mirror of one device. Power and color change at command
// issue time (optimistic) and again when the device confirms its state.
type Light struct {
	client *Client
	id     string
	target protocol.Target

	mu              sync.RWMutex
	addr            *net.UDPAddr
	status          string
	color           protocol.HSBK
	label           string
	online          bool
	seenOnDiscovery uint64
	updatedAt       time.Time
}

func newLight(c *Client, info LightInfo, cycle uint64) (*Light, error) {
	id := protocol.NormalizeID(info.ID)
	target, err := protocol.ParseTarget(id)
	if err != nil {
		return nil, err
	}

	ip := net.ParseIP(info.Address)
	if ip == nil {
		return nil, fmt.Errorf("light %s: invalid address %q", id, info.Address)
	}
	port := info.Port
	if port == 0 {
		port = protocol.DefaultPort
	}

	return &Light{
		client:          c,
		id:              id,
		target:          target,
		addr:            &net.UDPAddr{IP: ip, Port: port},
		status:          StatusOn,
		color:           protocol.HSBK{Kelvin: protocol.HSBKDefaultKelvin},
		label:           info.Label,
		online:          true,
		seenOnDiscovery: cycle,
		updatedAt:       c.now(),
	}, nil
}

// ID returns the lowercase hex device id
func (l *Light) ID() string { return l.id }

// Addr returns a copy of the device address
func (l *Light) Addr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneAddr(l.addr)
}

// Status returns "on" or "off"
func (l *Light) Status() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Color returns the cached color
func (l *Light) Color() protocol.HSBK {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.color
}

// Label returns the cached device label
func (l *Light) Label() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.label
}

// Online reports whether discovery still sees the device
func (l *Light) Online() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.online
}

// SeenOnDiscovery returns the discovery cycle the device last answered
func (l *Light) SeenOnDiscovery() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seenOnDiscovery
}

// Snapshot copies the cached state
func (l *Light) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		ID:              l.id,
		Address:         l.addr.IP.String(),
		Port:            l.addr.Port,
		Label:           l.label,
		Status:          l.status,
		Color:           l.color,
		Online:          l.online,
		SeenOnDiscovery: l.seenOnDiscovery,
		UpdatedAt:       l.updatedAt,
	}
}

// Info returns the identity needed to recreate this light
func (l *Light) Info() LightInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LightInfo{
		ID:      l.id,
		Address: l.addr.IP.String(),
		Port:    l.addr.Port,
		Label:   l.label,
	}
}

// =============================================================================
// Commands
// =============================================================================

// On powers the light on. The optional duration is the transition time in
// milliseconds (or a time.Duration).
func (l *Light) On(duration ...any) error {
	return l.setPower(true, duration)
}

// Off powers the light off. See On for the duration argument.
func (l *Light) Off(duration ...any) error {
	return l.setPower(false, duration)
}

func (l *Light) setPower(on bool, args []any) error {
	raw, err := optional("duration", args)
	if err != nil {
		return err
	}
	d, err := ValidateDuration(raw)
	if err != nil {
		return err
	}

	status := StatusOff
	if on {
		status = StatusOn
	}

	_, err = l.client.issue(command{
		light:       l,
		typ:         protocol.LightSetPower,
		body:        protocol.SetPower{On: on, Duration: d},
		ackRequired: l.client.opts.AckRequired,
		resRequired: l.client.opts.ResRequired,
		optimistic: func() {
			l.mu.Lock()
			l.status = status
			l.updatedAt = l.client.now()
			l.mu.Unlock()
		},
	})
	if err != nil {
		return err
	}

	l.client.publishState(l, "optimistic")
	return nil
}

// SetColor changes hue (0-360), saturation (0-100) and brightness (0-100),
// keeping the cached kelvin. All three values are required.
func (l *Light) SetColor(hue, saturation, brightness any, duration ...any) error {
	return l.setColor(hue, saturation, brightness, nil, duration)
}

// SetColorKelvin is SetColor with an explicit color temperature
func (l *Light) SetColorKelvin(hue, saturation, brightness, kelvin any, duration ...any) error {
	if kelvin == nil {
		return &RangeError{Field: "kelvin", Reason: "is required"}
	}
	return l.setColor(hue, saturation, brightness, kelvin, duration)
}

func (l *Light) setColor(hue, saturation, brightness, kelvin any, args []any) error {
	color, err := ValidateColor(hue, saturation, brightness)
	if err != nil {
		return err
	}

	if kelvin != nil {
		k, err := ValidateKelvin(kelvin)
		if err != nil {
			return err
		}
		color.Kelvin = k
	} else {
		color.Kelvin = l.Color().Kelvin
		if color.Kelvin == 0 {
			color.Kelvin = protocol.HSBKDefaultKelvin
		}
	}

	raw, err := optional("duration", args)
	if err != nil {
		return err
	}
	d, err := ValidateDuration(raw)
	if err != nil {
		return err
	}

	_, err = l.client.issue(command{
		light:       l,
		typ:         protocol.LightSetColor,
		body:        protocol.SetColor{Color: color, Duration: d},
		ackRequired: l.client.opts.AckRequired,
		resRequired: l.client.opts.ResRequired,
		optimistic: func() {
			l.mu.Lock()
			l.color = color
			l.updatedAt = l.client.now()
			l.mu.Unlock()
		},
	})
	if err != nil {
		return err
	}

	l.client.publishState(l, "optimistic")
	return nil
}

// GetState requests power, color and label. The reply updates the cache
// before the optional callback runs.
func (l *Light) GetState(callback ...any) error {
	return l.query(protocol.LightGet, callback)
}

// GetPower requests the power level
func (l *Light) GetPower(callback ...any) error {
	return l.query(protocol.LightGetPower, callback)
}

// GetLabel requests the device label
func (l *Light) GetLabel(callback ...any) error {
	return l.query(protocol.GetLabel, callback)
}

// GetHardware requests vendor, product and hardware version
func (l *Light) GetHardware(callback ...any) error {
	return l.query(protocol.GetVersion, callback)
}

// GetFirmwareVersion requests the host firmware build and version
func (l *Light) GetFirmwareVersion(callback ...any) error {
	return l.query(protocol.GetHostFirmware, callback)
}

// GetFirmwareInfo requests host MCU signal and traffic counters
func (l *Light) GetFirmwareInfo(callback ...any) error {
	return l.query(protocol.GetHostInfo, callback)
}

// GetWifiInfo requests wifi signal and traffic counters
func (l *Light) GetWifiInfo(callback ...any) error {
	return l.query(protocol.GetWifiInfo, callback)
}

// GetWifiVersion requests the wifi firmware build and version
func (l *Light) GetWifiVersion(callback ...any) error {
	return l.query(protocol.GetWifiFirmware, callback)
}

func (l *Light) query(typ protocol.MessageType, args []any) error {
	raw, err := optional("callback", args)
	if err != nil {
		return err
	}
	cb, err := ValidateCallback(raw)
	if err != nil {
		return err
	}

	_, err = l.client.issue(command{
		light:    l,
		typ:      typ,
		callback: cb,
	})
	return err
}

// =============================================================================
// Confirmed state
// =============================================================================

// apply updates the cache from a device reply. Returns true when anything
// visible changed.
func (l *Light) apply(p protocol.Payload) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := struct {
		status string
		color  protocol.HSBK
		label  string
	}{l.status, l.color, l.label}

	switch v := p.(type) {
	case protocol.LightStatus:
		l.color = v.Color
		l.status = statusOf(v.On)
		l.label = v.Label
	case protocol.PowerState:
		l.status = statusOf(v.On)
	case protocol.LabelState:
		l.label = v.Label
	default:
		return false
	}

	l.updatedAt = l.client.now()
	return before.status != l.status || before.color != l.color || before.label != l.label
}

// seen records a discovery answer. Returns whether the light came back online.
func (l *Light) seen(addr *net.UDPAddr, cycle uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.addr = cloneAddr(addr)
	l.seenOnDiscovery = cycle
	wasOffline := !l.online
	l.online = true
	return wasOffline
}

// markOffline flips the light offline; returns false if it already was
func (l *Light) markOffline() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.online {
		return false
	}
	l.online = false
	return true
}

func statusOf(on bool) string {
	if on {
		return StatusOn
	}
	return StatusOff
}
