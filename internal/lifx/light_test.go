package lifx

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

const testLightID = "d073d5000001"

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(e eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t eventbus.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []eventbus.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T) (*Client, *fakeClock, *recordingPublisher) {
	t.Helper()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	events := &recordingPublisher{}
	c, err := NewClient(Options{
		Source:          0x1234abcd,
		ResponseTimeout: 5 * time.Second,
		MessageRate:     -1,
		Events:          events,
		Now:             clock.Now,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Destroy)
	return c, clock, events
}

func newTestLight(t *testing.T, c *Client) *Light {
	t.Helper()

	l, err := c.AddLight(LightInfo{ID: testLightID, Address: "10.0.0.5", Port: protocol.DefaultPort})
	if err != nil {
		t.Fatalf("AddLight: %v", err)
	}
	return l
}

func TestNewLightDefaults(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	if l.Status() != StatusOn {
		t.Errorf("Status = %q, want %q", l.Status(), StatusOn)
	}
	if l.Color().Kelvin != protocol.HSBKDefaultKelvin {
		t.Errorf("Kelvin = %d, want %d", l.Color().Kelvin, protocol.HSBKDefaultKelvin)
	}
	if !l.Online() {
		t.Error("new light should be online")
	}
	if l.ID() != testLightID {
		t.Errorf("ID = %q", l.ID())
	}
	if got := l.Addr().String(); got != "10.0.0.5:56700" {
		t.Errorf("Addr = %s", got)
	}
}

func TestAddLightRejectsBadInput(t *testing.T) {
	c, _, _ := newTestClient(t)

	tests := []struct {
		name string
		info LightInfo
	}{
		{name: "short_id", info: LightInfo{ID: "d073d5", Address: "10.0.0.5"}},
		{name: "non_hex_id", info: LightInfo{ID: "zz73d5000001", Address: "10.0.0.5"}},
		{name: "bad_address", info: LightInfo{ID: testLightID, Address: "not-an-ip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.AddLight(tt.info); err == nil {
				t.Error("expected error")
			}
		})
	}
	if len(c.Lights()) != 0 {
		t.Errorf("Lights = %d, want 0", len(c.Lights()))
	}
}

func TestPowerCommandsEnqueue(t *testing.T) {
	tests := []struct {
		name      string
		call      func(l *Light) error
		wantErr   bool
		wantState string
	}{
		{name: "on/no_duration", call: func(l *Light) error { return l.On() }, wantState: StatusOn},
		{name: "on/duration", call: func(l *Light) error { return l.On(200) }, wantState: StatusOn},
		{name: "on/textual_duration", call: func(l *Light) error { return l.On("200") }, wantErr: true, wantState: StatusOn},
		{name: "off/no_duration", call: func(l *Light) error { return l.Off() }, wantState: StatusOff},
		{name: "off/duration", call: func(l *Light) error { return l.Off(200) }, wantState: StatusOff},
		{name: "off/textual_duration", call: func(l *Light) error { return l.Off("200") }, wantErr: true, wantState: StatusOn},
		{name: "off/negative_duration", call: func(l *Light) error { return l.Off(-5) }, wantErr: true, wantState: StatusOn},
		{name: "off/two_durations", call: func(l *Light) error { return l.Off(1, 2) }, wantErr: true, wantState: StatusOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t)
			l := newTestLight(t, c)

			err := tt.call(l)
			if tt.wantErr {
				if !errors.Is(err, ErrRange) {
					t.Fatalf("err = %v, want range error", err)
				}
				if c.QueueLen() != 0 {
					t.Errorf("QueueLen = %d, want 0", c.QueueLen())
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if c.QueueLen() != 1 {
					t.Errorf("QueueLen = %d, want 1", c.QueueLen())
				}
			}
			if l.Status() != tt.wantState {
				t.Errorf("Status = %q, want %q", l.Status(), tt.wantState)
			}
			if c.HandlerLen() != 0 {
				t.Errorf("HandlerLen = %d, want 0", c.HandlerLen())
			}
		})
	}
}

func TestPowerEnvelopeContents(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.Off(1500); err != nil {
		t.Fatalf("Off: %v", err)
	}
	env := c.queue.Pop()
	if env.Type != protocol.LightSetPower {
		t.Errorf("Type = %s", env.Type)
	}
	if env.Target.String() != testLightID || env.Tagged {
		t.Errorf("Target = %s tagged=%v", env.Target, env.Tagged)
	}
	if env.Addr.String() != "10.0.0.5:56700" {
		t.Errorf("Addr = %s", env.Addr)
	}
	want, _ := protocol.SetPower{On: false, Duration: 1500 * time.Millisecond}.MarshalBinary()
	if string(env.Payload) != string(want) {
		t.Errorf("Payload = %x, want %x", env.Payload, want)
	}
}

func TestQueuedEnvelopeKeepsAddressFromIssueTime(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	l.seen(&net.UDPAddr{IP: net.ParseIP("10.0.0.77"), Port: 1}, 1)

	env := c.queue.Pop()
	if env.Addr.String() != "10.0.0.5:56700" {
		t.Errorf("envelope Addr = %s, want 10.0.0.5:56700", env.Addr)
	}
	if l.Addr().String() != "10.0.0.77:1" {
		t.Errorf("light Addr = %s, want 10.0.0.77:1", l.Addr())
	}
}

func TestSetColorValidation(t *testing.T) {
	tests := []struct {
		name    string
		call    func(l *Light) error
		wantErr bool
	}{
		{name: "lower_bounds", call: func(l *Light) error { return l.SetColor(0, 0, 0) }},
		{name: "upper_bounds", call: func(l *Light) error { return l.SetColor(360, 100, 100) }},
		{name: "with_duration", call: func(l *Light) error { return l.SetColor(120, 50, 50, 300) }},
		{name: "hue_above", call: func(l *Light) error { return l.SetColor(361, 0, 0) }, wantErr: true},
		{name: "hue_below", call: func(l *Light) error { return l.SetColor(-1, 0, 0) }, wantErr: true},
		{name: "saturation_above", call: func(l *Light) error { return l.SetColor(0, 101, 0) }, wantErr: true},
		{name: "saturation_below", call: func(l *Light) error { return l.SetColor(0, -1, 0) }, wantErr: true},
		{name: "brightness_above", call: func(l *Light) error { return l.SetColor(0, 0, 101) }, wantErr: true},
		{name: "brightness_below", call: func(l *Light) error { return l.SetColor(0, 0, -1) }, wantErr: true},
		{name: "missing_all", call: func(l *Light) error { return l.SetColor(nil, nil, nil) }, wantErr: true},
		{name: "missing_saturation_brightness", call: func(l *Light) error { return l.SetColor(50, nil, nil) }, wantErr: true},
		{name: "missing_brightness", call: func(l *Light) error { return l.SetColor(50, 50, nil) }, wantErr: true},
		{name: "textual_duration", call: func(l *Light) error { return l.SetColor(50, 50, 50, "100") }, wantErr: true},
		{name: "kelvin_bounds", call: func(l *Light) error { return l.SetColorKelvin(0, 0, 0, 9000) }},
		{name: "kelvin_above", call: func(l *Light) error { return l.SetColorKelvin(0, 0, 0, 9001) }, wantErr: true},
		{name: "kelvin_missing", call: func(l *Light) error { return l.SetColorKelvin(0, 0, 0, nil) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t)
			l := newTestLight(t, c)
			before := l.Color()

			err := tt.call(l)
			if tt.wantErr {
				if !errors.Is(err, ErrRange) {
					t.Fatalf("err = %v, want range error", err)
				}
				if c.QueueLen() != 0 {
					t.Errorf("QueueLen = %d, want 0", c.QueueLen())
				}
				if l.Color() != before {
					t.Errorf("Color changed on failure: %+v", l.Color())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.QueueLen() != 1 {
				t.Errorf("QueueLen = %d, want 1", c.QueueLen())
			}
		})
	}
}

func TestSetColorKeepsKelvinAndUpdatesCache(t *testing.T) {
	c, _, events := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.SetColorKelvin(10, 20, 30, 6500); err != nil {
		t.Fatalf("SetColorKelvin: %v", err)
	}
	if err := l.SetColor(120, 50, 75); err != nil {
		t.Fatalf("SetColor: %v", err)
	}

	want := protocol.HSBK{Hue: 120, Saturation: 50, Brightness: 75, Kelvin: 6500}
	if l.Color() != want {
		t.Errorf("Color = %+v, want %+v", l.Color(), want)
	}
	if n := len(events.ofType(eventbus.EventTypeLightState)); n != 2 {
		t.Errorf("light_state events = %d, want 2", n)
	}
}

func TestQueryCallbacks(t *testing.T) {
	queries := []struct {
		name string
		call func(l *Light, args ...any) error
		typ  protocol.MessageType
	}{
		{name: "state", call: (*Light).GetState, typ: protocol.LightGet},
		{name: "power", call: (*Light).GetPower, typ: protocol.LightGetPower},
		{name: "label", call: (*Light).GetLabel, typ: protocol.GetLabel},
		{name: "hardware", call: (*Light).GetHardware, typ: protocol.GetVersion},
		{name: "firmware_version", call: (*Light).GetFirmwareVersion, typ: protocol.GetHostFirmware},
		{name: "firmware_info", call: (*Light).GetFirmwareInfo, typ: protocol.GetHostInfo},
		{name: "wifi_info", call: (*Light).GetWifiInfo, typ: protocol.GetWifiInfo},
		{name: "wifi_version", call: (*Light).GetWifiVersion, typ: protocol.GetWifiFirmware},
	}

	for _, q := range queries {
		t.Run(q.name+"/not_invocable", func(t *testing.T) {
			c, _, _ := newTestClient(t)
			l := newTestLight(t, c)

			err := q.call(l, "callback")
			if !errors.Is(err, ErrType) {
				t.Fatalf("err = %v, want type error", err)
			}
			if c.HandlerLen() != 0 || c.QueueLen() != 0 {
				t.Errorf("handlers=%d queue=%d, want 0/0", c.HandlerLen(), c.QueueLen())
			}
		})

		t.Run(q.name+"/callback", func(t *testing.T) {
			c, _, _ := newTestClient(t)
			l := newTestLight(t, c)

			if err := q.call(l, func(*Reply, error) {}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.HandlerLen() != 1 {
				t.Errorf("HandlerLen = %d, want 1", c.HandlerLen())
			}
			env := c.queue.Pop()
			if env == nil || env.Type != q.typ {
				t.Fatalf("envelope = %+v, want type %s", env, q.typ)
			}
		})

		t.Run(q.name+"/no_callback", func(t *testing.T) {
			c, _, _ := newTestClient(t)
			l := newTestLight(t, c)

			if err := q.call(l); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.HandlerLen() != 0 || c.QueueLen() != 1 {
				t.Errorf("handlers=%d queue=%d, want 0/1", c.HandlerLen(), c.QueueLen())
			}
		})
	}
}
