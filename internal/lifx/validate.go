package lifx

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

// maxDuration is the largest transition the 32-bit millisecond field can carry
const maxDuration = time.Duration(math.MaxUint32) * time.Millisecond

// ValidateDuration normalizes an optional transition duration.
//
// nil means an immediate transition. Integers (any width) and integral
// floats are milliseconds; time.Duration is taken as-is. Anything else,
// including numeric strings, is a *RangeError.
func ValidateDuration(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}

	var d time.Duration
	if td, ok := v.(time.Duration); ok {
		d = td
	} else {
		ms, ok := integer(v)
		if !ok {
			return 0, &RangeError{Field: "duration", Value: v, Reason: "must be an integer number of milliseconds"}
		}
		if ms < 0 || ms > math.MaxUint32 {
			return 0, &RangeError{Field: "duration", Value: v, Reason: fmt.Sprintf("must be between 0 and %d ms", uint32(math.MaxUint32))}
		}
		d = time.Duration(ms) * time.Millisecond
	}

	if d < 0 || d > maxDuration {
		return 0, &RangeError{Field: "duration", Value: v, Reason: "must be a non-negative duration that fits 32-bit milliseconds"}
	}
	return d, nil
}

// ValidateColor checks hue, saturation and brightness against the HSBK
// bounds. All three are mandatory; the returned color has no kelvin set.
func ValidateColor(hue, saturation, brightness any) (protocol.HSBK, error) {
	h, err := bounded("hue", hue, protocol.HSBKMinimumHue, protocol.HSBKMaximumHue)
	if err != nil {
		return protocol.HSBK{}, err
	}
	s, err := bounded("saturation", saturation, protocol.HSBKMinimumSaturation, protocol.HSBKMaximumSaturation)
	if err != nil {
		return protocol.HSBK{}, err
	}
	b, err := bounded("brightness", brightness, protocol.HSBKMinimumBrightness, protocol.HSBKMaximumBrightness)
	if err != nil {
		return protocol.HSBK{}, err
	}
	return protocol.HSBK{Hue: h, Saturation: s, Brightness: b}, nil
}

// ValidateKelvin checks a color temperature against the HSBK bounds
func ValidateKelvin(kelvin any) (uint16, error) {
	return bounded("kelvin", kelvin, protocol.HSBKMinimumKelvin, protocol.HSBKMaximumKelvin)
}

// ValidateCallback accepts nil (no callback), a Callback, a plain
// func(*Reply, error), or a ResultHandler. Anything else is a *TypeError,
// including a ResultHandler backed by a nil pointer or func.
func ValidateCallback(v any) (Callback, error) {
	switch cb := v.(type) {
	case nil:
		return nil, nil
	case Callback:
		if cb == nil {
			return nil, nil
		}
		return cb, nil
	case func(*Reply, error):
		if cb == nil {
			return nil, nil
		}
		return Callback(cb), nil
	case ResultHandler:
		if nilValue(cb) {
			return nil, &TypeError{Field: "callback", Value: v}
		}
		return cb.HandleResult, nil
	}
	return nil, &TypeError{Field: "callback", Value: v}
}

func nilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// optional returns the single optional argument of a variadic call
func optional(field string, args []any) (any, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return args[0], nil
	}
	return nil, &RangeError{Field: field, Value: args, Reason: "expects at most one value"}
}

func bounded(field string, v any, lo, hi int64) (uint16, error) {
	if v == nil {
		return 0, &RangeError{Field: field, Reason: "is required"}
	}
	n, ok := integer(v)
	if !ok {
		return 0, &RangeError{Field: field, Value: v, Reason: "must be an integer"}
	}
	if n < lo || n > hi {
		return 0, &RangeError{Field: field, Value: v, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return uint16(n), nil
}

// integer reports v as an int64 when it is an integral number
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func uintToInt(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
