package modules

import (
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lifxd/internal/lifx"
)

// Scheduler runs fn on the Lua worker goroutine; false means it was dropped
type Scheduler func(fn func(L *lua.LState)) bool

// LifxModule exposes the LIFX client to Lua:
//
//	local lifx = require("lifx")
//	lifx.light("d073d5001337"):on(200):set_color(120, 100, 50)
//	lifx.on("light_new", function(ev) log.info("new", ev) end)
type LifxModule struct {
	client   *lifx.Client
	schedule Scheduler

	mu       sync.RWMutex
	handlers map[string][]*lua.LFunction
}

// NewLifxModule creates the lifx module
func NewLifxModule(client *lifx.Client, schedule Scheduler) *LifxModule {
	return &LifxModule{
		client:   client,
		schedule: schedule,
		handlers: make(map[string][]*lua.LFunction),
	}
}

// Loader is the module loader for Lua
func (m *LifxModule) Loader(L *lua.LState) int {
	registerLightType(L, m)

	mod := L.NewTable()
	L.SetField(mod, "light", L.NewFunction(m.light))
	L.SetField(mod, "lights", L.NewFunction(m.lights))
	L.SetField(mod, "discover", L.NewFunction(m.discover))
	L.SetField(mod, "on", L.NewFunction(m.on))

	L.Push(mod)
	return 1
}

// light(id) -> light | nil
func (m *LifxModule) light(L *lua.LState) int {
	id := L.CheckString(1)
	l, ok := m.client.Light(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	pushLight(L, l)
	return 1
}

// lights() -> {light, ...} ordered by id
func (m *LifxModule) lights(L *lua.LState) int {
	tbl := L.NewTable()
	for i, l := range m.client.Lights() {
		pushLight(L, l)
		tbl.RawSetInt(i+1, L.Get(-1))
		L.Pop(1)
	}
	L.Push(tbl)
	return 1
}

// discover() starts a discovery cycle
func (m *LifxModule) discover(L *lua.LState) int {
	if err := m.client.Discover(); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// on(event_type, fn) registers a handler for light_new, light_online,
// light_offline, light_state or command_resolved
func (m *LifxModule) on(L *lua.LState) int {
	eventType := L.CheckString(1)
	fn := L.CheckFunction(2)

	m.mu.Lock()
	m.handlers[eventType] = append(m.handlers[eventType], fn)
	m.mu.Unlock()

	log.Info().Str("event_type", eventType).Msg("Registered Lua event handler")
	return 0
}

// HasHandlers reports whether any Lua handler listens for eventType
func (m *LifxModule) HasHandlers(eventType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[eventType]) > 0
}

// Emit calls every handler for eventType. Must run on the Lua goroutine.
func (m *LifxModule) Emit(L *lua.LState, eventType string, data map[string]any) {
	m.mu.RLock()
	handlers := append([]*lua.LFunction(nil), m.handlers[eventType]...)
	m.mu.RUnlock()

	for _, fn := range handlers {
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, MapToLuaTable(L, data))
		if err != nil {
			log.Error().Err(err).Str("event_type", eventType).Msg("Lua event handler failed")
		}
	}
}

// callback turns a Lua function into a reply callback that runs on the Lua
// goroutine. Any other value is passed through for validation.
func (m *LifxModule) callback(v lua.LValue) any {
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return LuaToGo(v)
	}

	return lifx.Callback(func(reply *lifx.Reply, err error) {
		queued := m.schedule(func(L *lua.LState) {
			args := []lua.LValue{lua.LNil, lua.LNil}
			if err != nil {
				args[1] = lua.LString(err.Error())
			} else {
				args[0] = replyTable(L, reply)
			}
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
				log.Error().Err(err).Str("type", replyType(reply)).Msg("Lua reply callback failed")
			}
		})
		if !queued {
			log.Warn().Str("type", replyType(reply)).Msg("Dropped Lua reply callback")
		}
	})
}

func replyTable(L *lua.LState, reply *lifx.Reply) *lua.LTable {
	tbl := MapToLuaTable(L, reply.Fields())
	L.SetField(tbl, "type", lua.LString(reply.Type.String()))
	L.SetField(tbl, "seq", lua.LNumber(reply.Sequence))
	L.SetField(tbl, "light", lua.LString(reply.Target))
	return tbl
}

func replyType(reply *lifx.Reply) string {
	if reply == nil {
		return ""
	}
	return reply.Type.String()
}
