package lifx

import (
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

func TestRegistryDispatchInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.Register(Entry{
		Sequence: 1,
		Match:    func(*Reply) bool { return true },
		Callback: func(*Reply, error) { order = append(order, "first") },
	})
	r.Register(Entry{
		Sequence: 2,
		Match:    func(*Reply) bool { return true },
		Callback: func(*Reply, error) { order = append(order, "second") },
	})

	if !r.Dispatch(&Reply{}) {
		t.Fatal("expected a match")
	}
	if len(order) != 1 || order[0] != "first" {
		t.Errorf("order = %v, want [first]", order)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryUnmatchedReplyKeepsEntries(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(Entry{
		Sequence: 5,
		Match:    MatchReply(5, protocol.LightState, "d073d5000001"),
		Callback: func(*Reply, error) { called = true },
	})

	tests := []struct {
		name  string
		reply *Reply
	}{
		{name: "other_sequence", reply: &Reply{Sequence: 6, Type: protocol.LightState, Target: "d073d5000001"}},
		{name: "other_type", reply: &Reply{Sequence: 5, Type: protocol.LightStatePower, Target: "d073d5000001"}},
		{name: "other_device", reply: &Reply{Sequence: 5, Type: protocol.LightState, Target: "d073d5000002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r.Dispatch(tt.reply) {
				t.Error("unexpected match")
			}
		})
	}

	if called {
		t.Error("callback should not run for unmatched replies")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryExpireResolvesOnce(t *testing.T) {
	r := NewRegistry()
	start := time.Unix(1700000000, 0)

	var errs []error
	r.Register(Entry{
		Sequence: 3,
		Type:     protocol.LightGet,
		Match:    func(*Reply) bool { return true },
		Callback: func(reply *Reply, err error) {
			if reply != nil {
				t.Error("timeout should not carry a reply")
			}
			errs = append(errs, err)
		},
		Deadline: start.Add(time.Second),
	})

	if n := r.Expire(start); n != 0 {
		t.Fatalf("Expire before deadline = %d, want 0", n)
	}
	if n := r.Expire(start.Add(time.Second)); n != 1 {
		t.Fatalf("Expire at deadline = %d, want 1", n)
	}
	if n := r.Expire(start.Add(time.Hour)); n != 0 {
		t.Fatalf("second Expire = %d, want 0", n)
	}
	if r.Dispatch(&Reply{}) {
		t.Error("expired entry must not match")
	}

	if len(errs) != 1 {
		t.Fatalf("callback ran %d times, want 1", len(errs))
	}
	var terr *TimeoutError
	if !errors.As(errs[0], &terr) || terr.Sequence != 3 || terr.Type != protocol.LightGet {
		t.Errorf("err = %v, want timeout for seq 3", errs[0])
	}
	if !errors.Is(errs[0], ErrTimeout) {
		t.Error("timeout should match ErrTimeout")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryEntryWithoutDeadlineNeverExpires(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{Sequence: 1, Callback: func(*Reply, error) {}})

	if n := r.Expire(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("Expire = %d, want 0", n)
	}
	if _, ok := r.NextDeadline(); ok {
		t.Error("NextDeadline should report none")
	}
}

func TestRegistryNextDeadlineIsEarliest(t *testing.T) {
	r := NewRegistry()
	start := time.Unix(1700000000, 0)
	r.Register(Entry{Sequence: 1, Callback: func(*Reply, error) {}, Deadline: start.Add(5 * time.Second)})
	r.Register(Entry{Sequence: 2, Callback: func(*Reply, error) {}})
	r.Register(Entry{Sequence: 3, Callback: func(*Reply, error) {}, Deadline: start.Add(2 * time.Second)})

	next, ok := r.NextDeadline()
	if !ok || !next.Equal(start.Add(2*time.Second)) {
		t.Errorf("NextDeadline = %v, %v, want %v", next, ok, start.Add(2*time.Second))
	}
}

func TestRegistryIgnoresNilCallback(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{Sequence: 1, Match: func(*Reply) bool { return true }})
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryRecoversFromPanickingCallback(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{
		Sequence: 1,
		Match:    func(*Reply) bool { return true },
		Callback: func(*Reply, error) { panic("boom") },
	})

	if !r.Dispatch(&Reply{}) {
		t.Fatal("expected a match")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryCloseAndHook(t *testing.T) {
	r := NewRegistry()

	var outcomes []Outcome
	r.SetResolveHook(func(e Entry, outcome Outcome, latency time.Duration) {
		outcomes = append(outcomes, outcome)
	})

	var closedErrs int
	for i := 0; i < 3; i++ {
		r.Register(Entry{
			Sequence: uint8(i),
			Callback: func(_ *Reply, err error) {
				if errors.Is(err, ErrClientClosed) {
					closedErrs++
				}
			},
		})
	}

	if n := r.Close(ErrClientClosed); n != 3 {
		t.Fatalf("Close = %d, want 3", n)
	}
	if closedErrs != 3 {
		t.Errorf("closed callbacks = %d, want 3", closedErrs)
	}
	if len(outcomes) != 3 || outcomes[0] != OutcomeClosed {
		t.Errorf("outcomes = %v, want 3x closed", outcomes)
	}
	if r.Pending(0) {
		t.Error("sequence 0 should be free after Close")
	}
}
