package lua

import (
	"context"
	"strings"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

const testLightID = "d073d5000001"

func newTestRuntime(t *testing.T) (*Runtime, *lifx.Client) {
	t.Helper()

	client, err := lifx.NewClient(lifx.Options{Source: 77, MessageRate: -1})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Destroy)

	if _, err := client.AddLight(lifx.LightInfo{ID: testLightID, Address: "10.0.0.5"}); err != nil {
		t.Fatalf("AddLight: %v", err)
	}

	rt := NewRuntime(client, 0)
	t.Cleanup(rt.Close)
	return rt, client
}

func TestScriptCommandsEnqueue(t *testing.T) {
	rt, client := newTestRuntime(t)

	err := rt.LoadString(`
		local lifx = require("lifx")
		local l = lifx.light("d073d5000001")
		l:off(200):set_color(120, 50, 50):set_color_kelvin(0, 0, 100, 6500, 1000)
		assert(l:status() == "off")
		assert(l:color().kelvin == 6500)
		assert(lifx.light("d073d5ffffff") == nil)
		assert(#lifx.lights() == 1)
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if client.QueueLen() != 3 {
		t.Errorf("QueueLen = %d, want 3", client.QueueLen())
	}
}

func TestScriptValidationErrorsRaise(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantMsg string
	}{
		{name: "textual_duration", source: `l:on("200")`, wantMsg: "duration"},
		{name: "hue_out_of_range", source: `l:set_color(361, 0, 0)`, wantMsg: "hue"},
		{name: "missing_brightness", source: `l:set_color(10, 10)`, wantMsg: "brightness"},
		{name: "callback_not_function", source: `l:get_state("cb")`, wantMsg: "callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, client := newTestRuntime(t)

			err := rt.LoadString(`local l = require("lifx").light("d073d5000001")` + "\n" + tt.source)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantMsg)
			}
			if client.QueueLen() != 0 || client.HandlerLen() != 0 {
				t.Errorf("queue=%d handlers=%d, want 0/0", client.QueueLen(), client.HandlerLen())
			}
		})
	}
}

func TestScriptCallbackRunsOnLuaWorker(t *testing.T) {
	rt, client := newTestRuntime(t)

	err := rt.LoadString(`
		result = nil
		require("lifx").light("d073d5000001"):get_state(function(reply, err)
			result = reply.label .. ":" .. reply.power
		end)
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if client.HandlerLen() != 1 {
		t.Fatalf("HandlerLen = %d, want 1", client.HandlerLen())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	target, _ := protocol.ParseTarget(testLightID)
	body, _ := protocol.LightStatus{Color: protocol.HSBK{Kelvin: 3500}, On: true, Label: "Desk"}.MarshalBinary()
	client.HandleDatagram(protocol.Encode(protocol.Header{
		Source: client.Source(),
		Target: target,
		Type:   protocol.LightState,
	}, body), nil)

	got := waitGlobal(t, rt, "result")
	if got != "Desk:on" {
		t.Errorf("result = %q, want Desk:on", got)
	}
}

func TestScriptEventHandlers(t *testing.T) {
	rt, _ := newTestRuntime(t)

	err := rt.LoadString(`
		seen = nil
		require("lifx").on("light_offline", function(ev) seen = ev.light end)
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	rt.HandleEvent(eventbus.Event{Type: eventbus.EventTypeLightOnline, Data: map[string]any{"light": "ignored"}})
	rt.HandleEvent(eventbus.Event{Type: eventbus.EventTypeLightOffline, Data: map[string]any{"light": testLightID}})

	if got := waitGlobal(t, rt, "seen"); got != testLightID {
		t.Errorf("seen = %q, want %s", got, testLightID)
	}
}

func waitGlobal(t *testing.T, rt *Runtime, name string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var value string
		err := rt.DoSyncWithResult(context.Background(), func(context.Context) error {
			if v := rt.L.GetGlobal(name); v != glua.LNil {
				value = v.String()
			}
			return nil
		})
		if err != nil {
			t.Fatalf("DoSyncWithResult: %v", err)
		}
		if value != "" {
			return value
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("global %s never set", name)
	return ""
}

func TestScriptTimers(t *testing.T) {
	rt, client := newTestRuntime(t)

	err := rt.LoadString(`
		local timer = require("timer")
		local lifx = require("lifx")
		ticks = 0
		fired = nil
		timer.after(20, function() fired = "yes" end)
		local id
		id = timer.every(10, function()
			ticks = ticks + 1
			if ticks == 3 then
				lifx.light("d073d5000001"):off()
				timer.cancel(id)
				done = tostring(ticks)
			end
		end)
		cancelled = tostring(timer.cancel(timer.after(1000, function() fired = "late" end)))
	`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	if got := waitGlobal(t, rt, "fired"); got != "yes" {
		t.Errorf("fired = %q, want yes", got)
	}
	if got := waitGlobal(t, rt, "done"); got != "3" {
		t.Errorf("done = %q, want 3", got)
	}
	if got := waitGlobal(t, rt, "cancelled"); got != "true" {
		t.Errorf("cancelled = %q, want true", got)
	}
	if rt.timerModule.Active() != 0 {
		t.Errorf("Active = %d, want 0", rt.timerModule.Active())
	}
	if client.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, want 1", client.QueueLen())
	}
}

func TestScriptTimerRejectsBadInterval(t *testing.T) {
	rt, _ := newTestRuntime(t)

	err := rt.LoadString(`require("timer").every(0, function() end)`)
	if err == nil || !strings.Contains(err.Error(), "interval") {
		t.Errorf("err = %v, want interval error", err)
	}
}
