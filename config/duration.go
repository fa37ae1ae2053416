package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes itself as a string such as
// "15s" in every supported config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

// DefaultTrue is a bool that reads as true when it was never set. It is used as
// a pointer field so that an explicit false in a config file survives defaults.
type DefaultTrue bool

func (dt *DefaultTrue) Get() (enabled bool) {
	if dt == nil {
		return true
	}
	return bool(*dt)
}

func (dt *DefaultTrue) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%v", dt.Get())), nil
}

func (dt *DefaultTrue) UnmarshalText(text []byte) error {
	switch string(text) {
	case "true", "True", "TRUE":
		*dt = true
	case "false", "False", "FALSE":
		*dt = false
	default:
		return fmt.Errorf("invalid boolean %q", string(text))
	}
	return nil
}
