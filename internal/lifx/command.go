package lifx

import "strings"

// Command is an untyped state change as it arrives from JSON surfaces.
// Values are checked by the same validation as the typed methods.
type Command struct {
	Power      any `json:"power"`
	Duration   any `json:"duration"`
	Hue        any `json:"hue"`
	Saturation any `json:"saturation"`
	Brightness any `json:"brightness"`
	Kelvin     any `json:"kelvin"`
}

func (c Command) hasColor() bool {
	return c.Hue != nil || c.Saturation != nil || c.Brightness != nil || c.Kelvin != nil
}

// Apply issues the command: color first, then power. Power is checked
// before anything is queued so a bad value never leaves a half-applied
// change behind.
func (l *Light) Apply(cmd Command) error {
	var on bool
	if cmd.Power != nil {
		var err error
		if on, err = ParsePower(cmd.Power); err != nil {
			return err
		}
	}

	var durations []any
	if cmd.Duration != nil {
		durations = append(durations, cmd.Duration)
	}

	if cmd.hasColor() {
		var err error
		if cmd.Kelvin != nil {
			err = l.SetColorKelvin(cmd.Hue, cmd.Saturation, cmd.Brightness, cmd.Kelvin, durations...)
		} else {
			err = l.SetColor(cmd.Hue, cmd.Saturation, cmd.Brightness, durations...)
		}
		if err != nil {
			return err
		}
	}

	switch {
	case cmd.Power == nil:
		return nil
	case on:
		return l.On(durations...)
	default:
		return l.Off(durations...)
	}
}

// ParsePower accepts a boolean or "on"/"off"/"true"/"false"
func ParsePower(v any) (bool, error) {
	switch p := v.(type) {
	case bool:
		return p, nil
	case string:
		switch strings.ToLower(p) {
		case "on", "true":
			return true, nil
		case "off", "false":
			return false, nil
		}
	}
	return false, &RangeError{Field: "power", Value: v, Reason: `must be "on", "off" or a boolean`}
}
