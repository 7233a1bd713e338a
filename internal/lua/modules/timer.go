package modules

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// TimerModule provides timer.after(), timer.every() and timer.cancel() to Lua.
// Callbacks fire on the Lua worker goroutine through the scheduler.
type TimerModule struct {
	schedule Scheduler

	mu     sync.Mutex
	nextID int
	timers map[int]*time.Timer
	closed bool
}

// NewTimerModule creates a new timer module
func NewTimerModule(schedule Scheduler) *TimerModule {
	return &TimerModule{
		schedule: schedule,
		timers:   make(map[int]*time.Timer),
	}
}

// Loader is the module loader for Lua
func (m *TimerModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "after", L.NewFunction(m.after))
	L.SetField(mod, "every", L.NewFunction(m.every))
	L.SetField(mod, "cancel", L.NewFunction(m.cancel))

	L.Push(mod)
	return 1
}

// after(ms, fn) -> id
func (m *TimerModule) after(L *lua.LState) int {
	d := checkInterval(L, 1)
	fn := L.CheckFunction(2)
	L.Push(lua.LNumber(m.start(d, fn, false)))
	return 1
}

// every(ms, fn) -> id. The first call happens after one interval.
func (m *TimerModule) every(L *lua.LState) int {
	d := checkInterval(L, 1)
	fn := L.CheckFunction(2)
	L.Push(lua.LNumber(m.start(d, fn, true)))
	return 1
}

// cancel(id) -> bool
func (m *TimerModule) cancel(L *lua.LState) int {
	id := L.CheckInt(1)
	L.Push(lua.LBool(m.Cancel(id)))
	return 1
}

func checkInterval(L *lua.LState, n int) time.Duration {
	ms := L.CheckInt(n)
	if ms <= 0 {
		L.ArgError(n, "interval must be positive milliseconds")
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *TimerModule) start(d time.Duration, fn *lua.LFunction, repeat bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0
	}
	m.nextID++
	id := m.nextID

	var fire func()
	fire = func() {
		m.mu.Lock()
		if _, ok := m.timers[id]; !ok {
			m.mu.Unlock()
			return
		}
		if repeat {
			m.timers[id] = time.AfterFunc(d, fire)
		} else {
			delete(m.timers, id)
		}
		m.mu.Unlock()

		queued := m.schedule(func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				log.Error().Err(err).Int("timer", id).Msg("Lua timer callback failed")
			}
		})
		if !queued {
			log.Warn().Int("timer", id).Msg("Dropped Lua timer callback")
		}
	}
	m.timers[id] = time.AfterFunc(d, fire)
	return id
}

// Cancel stops a timer; false if it already fired or never existed
func (m *TimerModule) Cancel(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(m.timers, id)
	return true
}

// Active returns the number of pending timers
func (m *TimerModule) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close stops all timers. Later after/every calls return 0 and never fire.
func (m *TimerModule) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
