package logger

import (
	"fmt"

	"github.com/spanwire/agentcore/config"
)

type Logger interface {
	Trace() Entry
	Debug() Entry
	Info() Entry
	Warn() Entry
	Error() Entry
	// SetLevel sets the logging level (trace, debug, info, warn, error)
	SetLevel(level string) error
}

type Entry interface {
	WithField(key string, value any) Entry

	// WithString does the same thing as WithField, but is more efficient for
	// disabled log levels. (Because the value parameter doesn't escape.)
	WithString(key string, value string) Entry

	WithFields(fields map[string]any) Entry
	Logf(f string, args ...any)
}

// New returns the logger selected by the config, already at the configured
// level.
func New(c config.Config) (Logger, error) {
	var l Logger
	switch c.GetLoggerFormat() {
	case "text", "json":
		l = &LogrusLogger{Config: c}
	default:
		return nil, fmt.Errorf("unknown logger format %q", c.GetLoggerFormat())
	}
	if err := l.SetLevel(c.GetLoggerLevel().String()); err != nil {
		return nil, err
	}
	return l, nil
}
