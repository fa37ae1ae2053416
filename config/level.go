package config

import (
	"fmt"
	"strings"
)

// Level is a logging verbosity. The zero value is UnknownLevel so a missing
// or misspelled setting is caught by validation.
type Level int

const (
	UnknownLevel Level = iota
	TraceLevel
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = []string{
	UnknownLevel: "unknown",
	TraceLevel:   "trace",
	DebugLevel:   "debug",
	InfoLevel:    "info",
	WarnLevel:    "warn",
	ErrorLevel:   "error",
}

// ParseLevel accepts the level names case-insensitively, plus "warning".
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	for l, name := range levelNames {
		if l != int(UnknownLevel) && name == s {
			return Level(l)
		}
	}
	return UnknownLevel
}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return levelNames[UnknownLevel]
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	if *l == UnknownLevel {
		return fmt.Errorf("unknown logging level %q", text)
	}
	return nil
}
