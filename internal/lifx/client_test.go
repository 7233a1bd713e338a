package lifx

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

type sentPacket struct {
	data []byte
	addr *net.UDPAddr
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentPacket
	ch   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan struct{}, 64)}
}

func (f *fakeTransport) Send(data []byte, addr *net.UDPAddr) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentPacket{data: data, addr: addr})
	f.mu.Unlock()
	f.ch <- struct{}{}
	return nil
}

func (f *fakeTransport) wait(t *testing.T, n int) []sentPacket {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for packet %d", i+1)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPacket(nil), f.sent...)
}

func replyDatagram(t *testing.T, source uint32, id string, seq uint8, p interface {
	Type() protocol.MessageType
	MarshalBinary() ([]byte, error)
}) []byte {
	t.Helper()

	target, err := protocol.ParseTarget(id)
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	body, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return protocol.Encode(protocol.Header{
		Source:   source,
		Target:   target,
		Sequence: seq,
		Type:     p.Type(),
	}, body)
}

var deviceAddr = &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: protocol.DefaultPort}

func TestDispatchUpdatesCacheBeforeCallback(t *testing.T) {
	c, _, events := newTestClient(t)
	l := newTestLight(t, c)

	var calls int
	var seenStatus string
	var fields map[string]any
	err := l.GetState(func(reply *Reply, err error) {
		calls++
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		seenStatus = l.Status()
		fields = reply.Fields()
	})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	env := c.queue.Pop()
	state := protocol.LightStatus{
		Color: protocol.HSBK{Hue: 120, Saturation: 50, Brightness: 75, Kelvin: 4000},
		On:    false,
		Label: "Kitchen",
	}
	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, env.Sequence, state), deviceAddr)

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if seenStatus != StatusOff {
		t.Errorf("status inside callback = %q, want off", seenStatus)
	}
	if fields["label"] != "Kitchen" {
		t.Errorf("label field = %v", fields["label"])
	}
	if l.Color() != state.Color {
		t.Errorf("Color = %+v, want %+v", l.Color(), state.Color)
	}
	if l.Label() != "Kitchen" {
		t.Errorf("Label = %q", l.Label())
	}
	if c.HandlerLen() != 0 {
		t.Errorf("HandlerLen = %d, want 0", c.HandlerLen())
	}
	if len(events.ofType(eventbus.EventTypeCommandResolved)) != 1 {
		t.Error("expected one command_resolved event")
	}

	// A duplicate reply has nothing left to resolve
	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, env.Sequence, state), deviceAddr)
	if calls != 1 {
		t.Errorf("callback ran %d times after duplicate, want 1", calls)
	}
}

func TestRepliesCorrelateBySequenceNotArrivalOrder(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	labels := make([]any, 2)
	record := func(i int) func(*Reply, error) {
		return func(reply *Reply, err error) {
			if err != nil {
				t.Errorf("callback %d: unexpected error: %v", i, err)
				return
			}
			labels[i] = reply.Fields()["label"]
		}
	}
	if err := l.GetLabel(record(0)); err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	if err := l.GetLabel(record(1)); err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	first, second := c.queue.Pop(), c.queue.Pop()
	if first.Sequence == second.Sequence {
		t.Fatalf("both envelopes use sequence %d", first.Sequence)
	}

	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, second.Sequence, protocol.LabelState{Label: "two"}), deviceAddr)
	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, first.Sequence, protocol.LabelState{Label: "one"}), deviceAddr)

	if labels[0] != "one" || labels[1] != "two" {
		t.Errorf("labels = %v, want [one two]", labels)
	}
	if c.HandlerLen() != 0 {
		t.Errorf("HandlerLen = %d, want 0", c.HandlerLen())
	}
}

func TestHandleDatagramIgnoresForeignSource(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	called := false
	if err := l.GetPower(func(*Reply, error) { called = true }); err != nil {
		t.Fatalf("GetPower: %v", err)
	}
	env := c.queue.Pop()

	c.HandleDatagram(replyDatagram(t, c.Source()+1, testLightID, env.Sequence, protocol.PowerState{On: false}), deviceAddr)

	if called {
		t.Error("callback ran for another controller's reply")
	}
	if l.Status() != StatusOn {
		t.Errorf("Status = %q, cache must not change", l.Status())
	}
	if c.HandlerLen() != 1 {
		t.Errorf("HandlerLen = %d, want 1", c.HandlerLen())
	}
}

func TestHandleDatagramDropsGarbage(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)
	if err := l.GetState(func(*Reply, error) {}); err != nil {
		t.Fatalf("GetState: %v", err)
	}

	c.HandleDatagram([]byte{1, 2, 3}, deviceAddr)
	c.HandleDatagram(nil, nil)

	if c.HandlerLen() != 1 {
		t.Errorf("HandlerLen = %d, want 1", c.HandlerLen())
	}
}

func TestConfirmedPowerOverridesOptimisticState(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if l.Status() != StatusOff {
		t.Fatalf("optimistic Status = %q, want off", l.Status())
	}

	c.HandleDatagram(replyDatagram(t, c.Source(), testLightID, 99, protocol.PowerState{On: true}), deviceAddr)
	if l.Status() != StatusOn {
		t.Errorf("Status = %q, want on after confirmation", l.Status())
	}
}

func TestTimeoutKeepsOptimisticState(t *testing.T) {
	c, clock, events := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}

	var got error
	if err := l.GetState(func(_ *Reply, err error) { got = err }); err != nil {
		t.Fatalf("GetState: %v", err)
	}

	clock.Advance(4 * time.Second)
	if n := c.expireDue(clock.Now()); n != 0 {
		t.Fatalf("expired early: %d", n)
	}

	clock.Advance(2 * time.Second)
	if n := c.expireDue(clock.Now()); n != 1 {
		t.Fatalf("expireDue = %d, want 1", n)
	}
	if !errors.Is(got, ErrTimeout) {
		t.Errorf("err = %v, want timeout", got)
	}
	if l.Status() != StatusOff {
		t.Errorf("Status = %q, optimistic state should remain", l.Status())
	}
	if c.HandlerLen() != 0 {
		t.Errorf("HandlerLen = %d, want 0", c.HandlerLen())
	}

	resolved := events.ofType(eventbus.EventTypeCommandResolved)
	if len(resolved) != 1 || resolved[0].Data["outcome"] != string(OutcomeTimeout) {
		t.Errorf("command_resolved = %+v", resolved)
	}
}

func TestSequenceWrapSkipsPending(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	if err := l.GetState(func(*Reply, error) {}); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	for i := 0; i < 255; i++ {
		if err := l.On(); err != nil {
			t.Fatalf("On #%d: %v", i, err)
		}
	}
	if err := l.On(); err != nil {
		t.Fatalf("On after wrap: %v", err)
	}

	items := c.queue.Drain()
	if items[0].Sequence != 0 {
		t.Fatalf("first sequence = %d, want 0", items[0].Sequence)
	}
	if last := items[len(items)-1]; last.Sequence != 1 {
		t.Errorf("sequence after wrap = %d, want 1 (0 is pending)", last.Sequence)
	}
}

func TestSequenceExhaustion(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	for i := 0; i < 256; i++ {
		if err := l.GetState(func(*Reply, error) {}); err != nil {
			t.Fatalf("GetState #%d: %v", i, err)
		}
	}

	err := l.GetState(func(*Reply, error) {})
	if !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("err = %v, want ErrSequenceExhausted", err)
	}
	if c.QueueLen() != 256 || c.HandlerLen() != 256 {
		t.Errorf("queue=%d handlers=%d, want 256/256", c.QueueLen(), c.HandlerLen())
	}
}

func TestConcurrentIssueUsesDistinctSequences(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.GetState(func(*Reply, error) {}); err != nil {
				t.Errorf("GetState: %v", err)
			}
		}()
	}
	wg.Wait()

	if c.HandlerLen() != 100 || c.QueueLen() != 100 {
		t.Fatalf("handlers=%d queue=%d, want 100/100", c.HandlerLen(), c.QueueLen())
	}
	seen := make(map[uint8]bool)
	for _, env := range c.queue.Drain() {
		if seen[env.Sequence] {
			t.Fatalf("duplicate sequence %d", env.Sequence)
		}
		seen[env.Sequence] = true
	}
}

func TestDestroyFailsPendingHandlers(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)

	var errs []error
	for i := 0; i < 2; i++ {
		if err := l.GetState(func(_ *Reply, err error) { errs = append(errs, err) }); err != nil {
			t.Fatalf("GetState: %v", err)
		}
	}

	c.Destroy()
	c.Destroy()

	if len(errs) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("err = %v, want ErrClientClosed", err)
		}
	}
	if c.HandlerLen() != 0 || c.QueueLen() != 0 {
		t.Errorf("handlers=%d queue=%d, want 0/0", c.HandlerLen(), c.QueueLen())
	}
	if err := l.On(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("On after Destroy = %v, want ErrClientClosed", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestRunSendsInOrder(t *testing.T) {
	c, _, _ := newTestClient(t)
	l := newTestLight(t, c)
	tr := newFakeTransport()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), tr) }()

	if err := l.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if err := l.SetColor(10, 20, 30); err != nil {
		t.Fatalf("SetColor: %v", err)
	}

	sent := tr.wait(t, 2)
	wantTypes := []protocol.MessageType{protocol.LightSetPower, protocol.LightSetColor}
	for i, pkt := range sent {
		p, err := protocol.Decode(pkt.data)
		if err != nil {
			t.Fatalf("Decode #%d: %v", i, err)
		}
		if p.Type != wantTypes[i] {
			t.Errorf("packet #%d type = %s, want %s", i, p.Type, wantTypes[i])
		}
		if p.Source != c.Source() {
			t.Errorf("packet #%d source = %x", i, p.Source)
		}
		if pkt.addr.String() != "10.0.0.5:56700" {
			t.Errorf("packet #%d addr = %s", i, pkt.addr)
		}
	}

	c.Destroy()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Destroy")
	}
}

func TestLookupUnknownLight(t *testing.T) {
	c, _, _ := newTestClient(t)
	if _, err := c.Lookup("d073d5ffffff"); !errors.Is(err, ErrUnknownLight) {
		t.Errorf("err = %v, want ErrUnknownLight", err)
	}
	newTestLight(t, c)
	if _, err := c.Lookup("D0:73:D5:00:00:01"); err != nil {
		t.Errorf("Lookup with separators: %v", err)
	}
}
