package lifx

import (
	"net"
	"testing"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

func TestDiscoverQueuesBroadcast(t *testing.T) {
	c, _, _ := newTestClient(t)

	if err := c.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if c.HandlerLen() != 0 {
		t.Errorf("HandlerLen = %d, discovery must not register handlers", c.HandlerLen())
	}

	env := c.queue.Pop()
	if env == nil || env.Type != protocol.GetService {
		t.Fatalf("envelope = %+v, want GetService", env)
	}
	if !env.Tagged || !env.Target.IsBroadcast() {
		t.Error("discovery must be a tagged broadcast")
	}
	if env.Addr.String() != "255.255.255.255:56700" {
		t.Errorf("Addr = %s", env.Addr)
	}
	if c.Cycle() != 1 {
		t.Errorf("Cycle = %d, want 1", c.Cycle())
	}
}

func TestDiscoveryLifecycle(t *testing.T) {
	c, _, events := newTestClient(t)
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 50000}
	answer := func() {
		c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, 0, protocol.ServiceState{Service: 1, Port: 56700}), from)
	}

	if err := c.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	answer()

	l, ok := c.Light(testLightID)
	if !ok {
		t.Fatal("light not created from StateService")
	}
	if l.Addr().String() != "10.0.0.9:56700" {
		t.Errorf("Addr = %s, want reply IP with advertised port", l.Addr())
	}
	if l.SeenOnDiscovery() != 1 {
		t.Errorf("SeenOnDiscovery = %d, want 1", l.SeenOnDiscovery())
	}
	if len(events.ofType(eventbus.EventTypeLightNew)) != 1 {
		t.Error("expected light_new")
	}

	// Within tolerance the light stays online
	for i := 0; i < 4; i++ {
		if err := c.Discover(); err != nil {
			t.Fatalf("Discover: %v", err)
		}
	}
	if !l.Online() {
		t.Fatal("light went offline within tolerance")
	}

	if err := c.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if l.Online() {
		t.Fatal("light should be offline after missing cycles")
	}
	if len(events.ofType(eventbus.EventTypeLightOffline)) != 1 {
		t.Error("expected light_offline")
	}

	answer()
	if !l.Online() {
		t.Error("light should be back online")
	}
	if len(events.ofType(eventbus.EventTypeLightOnline)) != 1 {
		t.Error("expected light_online")
	}
	if len(c.Lights()) != 1 {
		t.Errorf("Lights = %d, want 1", len(c.Lights()))
	}
}

func TestDiscoveryIgnoresNonUDPService(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, 0, protocol.ServiceState{Service: 5, Port: 56700}), deviceAddr)

	if len(c.Lights()) != 0 {
		t.Errorf("Lights = %d, want 0", len(c.Lights()))
	}
}
