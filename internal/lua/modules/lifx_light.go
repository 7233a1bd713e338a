package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lifxd/internal/lifx"
)

const lightTypeName = "lifx.light"

// LightUserdata wraps a *lifx.Light for Lua access
type LightUserdata struct {
	light *lifx.Light
}

// registerLightType registers the lifx.light metatable
func registerLightType(L *lua.LState, m *LifxModule) {
	mt := L.NewTypeMetatable(lightTypeName)
	methods := map[string]lua.LGFunction{
		// Getters
		"id":     lightID,
		"label":  lightLabel,
		"status": lightStatus,
		"is_on":  lightIsOn,
		"online": lightOnline,
		"color":  lightColor,

		// Chainable commands
		"on":               lightPower(true),
		"off":              lightPower(false),
		"set_color":        lightSetColor,
		"set_color_kelvin": lightSetColorKelvin,

		// Queries with an optional callback(reply, err)
		"get_state":            m.query((*lifx.Light).GetState),
		"get_power":            m.query((*lifx.Light).GetPower),
		"get_label":            m.query((*lifx.Light).GetLabel),
		"get_hardware":         m.query((*lifx.Light).GetHardware),
		"get_firmware_version": m.query((*lifx.Light).GetFirmwareVersion),
		"get_firmware_info":    m.query((*lifx.Light).GetFirmwareInfo),
		"get_wifi_info":        m.query((*lifx.Light).GetWifiInfo),
		"get_wifi_version":     m.query((*lifx.Light).GetWifiVersion),
	}
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))
}

// pushLight creates a new light userdata and pushes it onto the stack
func pushLight(L *lua.LState, light *lifx.Light) {
	ud := L.NewUserData()
	ud.Value = &LightUserdata{light: light}
	L.SetMetatable(ud, L.GetTypeMetatable(lightTypeName))
	L.Push(ud)
}

// checkLight retrieves the LightUserdata from the Lua stack
func checkLight(L *lua.LState) (*LightUserdata, *lua.LUserData) {
	ud := L.CheckUserData(1)
	if v, ok := ud.Value.(*LightUserdata); ok {
		return v, ud
	}
	L.ArgError(1, "lifx.light expected")
	return nil, nil
}

// args converts stack values from index start on, keeping explicit nils
func args(L *lua.LState, start int) []any {
	var out []any
	for i := start; i <= L.GetTop(); i++ {
		out = append(out, LuaToGo(L.Get(i)))
	}
	return out
}

// =============================================================================
// Getters
// =============================================================================

// light:id() -> string
func lightID(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LString(light.light.ID()))
	return 1
}

// light:label() -> string
func lightLabel(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LString(light.light.Label()))
	return 1
}

// light:status() -> "on" | "off"
func lightStatus(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LString(light.light.Status()))
	return 1
}

// light:is_on() -> bool
func lightIsOn(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LBool(light.light.Status() == lifx.StatusOn))
	return 1
}

// light:online() -> bool
func lightOnline(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LBool(light.light.Online()))
	return 1
}

// light:color() -> {hue, saturation, brightness, kelvin}
func lightColor(L *lua.LState) int {
	light, _ := checkLight(L)
	c := light.light.Color()
	tbl := L.NewTable()
	L.SetField(tbl, "hue", lua.LNumber(c.Hue))
	L.SetField(tbl, "saturation", lua.LNumber(c.Saturation))
	L.SetField(tbl, "brightness", lua.LNumber(c.Brightness))
	L.SetField(tbl, "kelvin", lua.LNumber(c.Kelvin))
	L.Push(tbl)
	return 1
}

// =============================================================================
// Commands (chainable, raise on invalid arguments)
// =============================================================================

// light:on([duration_ms]) / light:off([duration_ms]) -> self
func lightPower(on bool) lua.LGFunction {
	return func(L *lua.LState) int {
		light, ud := checkLight(L)
		var err error
		if on {
			err = light.light.On(args(L, 2)...)
		} else {
			err = light.light.Off(args(L, 2)...)
		}
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(ud)
		return 1
	}
}

// light:set_color(hue, saturation, brightness[, duration_ms]) -> self
func lightSetColor(L *lua.LState) int {
	light, ud := checkLight(L)
	a := padArgs(args(L, 2), 3)
	if err := light.light.SetColor(a[0], a[1], a[2], a[3:]...); err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(ud)
	return 1
}

// light:set_color_kelvin(hue, saturation, brightness, kelvin[, duration_ms]) -> self
func lightSetColorKelvin(L *lua.LState) int {
	light, ud := checkLight(L)
	a := padArgs(args(L, 2), 4)
	if err := light.light.SetColorKelvin(a[0], a[1], a[2], a[3], a[4:]...); err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(ud)
	return 1
}

// padArgs fills missing positional arguments with nil
func padArgs(a []any, n int) []any {
	for len(a) < n {
		a = append(a, nil)
	}
	return a
}

// light:get_*([callback]) -> self
func (m *LifxModule) query(fn func(*lifx.Light, ...any) error) lua.LGFunction {
	return func(L *lua.LState) int {
		light, ud := checkLight(L)

		var cbArgs []any
		for i := 2; i <= L.GetTop(); i++ {
			cbArgs = append(cbArgs, m.callback(L.Get(i)))
		}

		if err := fn(light.light, cbArgs...); err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(ud)
		return 1
	}
}
