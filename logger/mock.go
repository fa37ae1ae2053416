package logger

import (
	"fmt"
	"maps"
	"sync"

	"github.com/spanwire/agentcore/config"
)

// MockLogger keeps every logged event so tests can assert on them. The
// message is stored in Fields under the level's name.
type MockLogger struct {
	Events []*MockLoggerEvent
	mutex  sync.Mutex
}

var _ Logger = (*MockLogger)(nil)

type MockLoggerEvent struct {
	l      *MockLogger
	level  config.Level
	Fields map[string]any
}

func (l *MockLogger) event(level config.Level) Entry {
	return &MockLoggerEvent{l: l, level: level, Fields: make(map[string]any)}
}

func (l *MockLogger) Trace() Entry { return l.event(config.TraceLevel) }
func (l *MockLogger) Debug() Entry { return l.event(config.DebugLevel) }
func (l *MockLogger) Info() Entry  { return l.event(config.InfoLevel) }
func (l *MockLogger) Warn() Entry  { return l.event(config.WarnLevel) }
func (l *MockLogger) Error() Entry { return l.event(config.ErrorLevel) }

func (l *MockLogger) SetLevel(string) error { return nil }

// EventsAt returns the events logged at the given level.
func (l *MockLogger) EventsAt(level config.Level) []*MockLoggerEvent {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var events []*MockLoggerEvent
	for _, e := range l.Events {
		if e.level == level {
			events = append(events, e)
		}
	}
	return events
}

func (e *MockLoggerEvent) WithField(key string, value any) Entry {
	e.Fields[key] = value
	return e
}

func (e *MockLoggerEvent) WithString(key string, value string) Entry {
	return e.WithField(key, value)
}

func (e *MockLoggerEvent) WithFields(fields map[string]any) Entry {
	maps.Copy(e.Fields, fields)
	return e
}

func (e *MockLoggerEvent) Logf(f string, args ...any) {
	e.Fields[e.level.String()] = fmt.Sprintf(f, args...)

	e.l.mutex.Lock()
	e.l.Events = append(e.l.Events, e)
	e.l.mutex.Unlock()
}
