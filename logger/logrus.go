package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spanwire/agentcore/config"
)

// LogrusLogger writes to stderr through logrus. The format and level follow
// the config, including across reloads.
type LogrusLogger struct {
	Config config.Config `inject:""`

	// Output defaults to stderr.
	Output io.Writer

	logger *logrus.Logger
	level  logrus.Level
	mut    sync.Mutex
}

var _ Logger = (*LogrusLogger)(nil)

type LogrusEntry struct {
	entry *logrus.Entry
	level logrus.Level
}

func (l *LogrusLogger) Start() error {
	l.mut.Lock()
	defer l.mut.Unlock()

	l.logger = logrus.New()
	if l.Output != nil {
		l.logger.SetOutput(l.Output)
	} else {
		l.logger.SetOutput(os.Stderr)
	}
	l.logger.SetLevel(l.level)
	if l.Config != nil {
		l.applyFormat(l.Config.GetLoggerFormat())
		l.Config.RegisterReloadCallback(l.reloadConfig)
	} else {
		l.applyFormat("text")
	}
	return nil
}

func (l *LogrusLogger) applyFormat(format string) {
	if format == "json" {
		l.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func (l *LogrusLogger) reloadConfig(string) {
	if err := l.SetLevel(l.Config.GetLoggerLevel().String()); err != nil {
		l.Error().WithField("error", err).Logf("ignoring new log level")
	}
	l.mut.Lock()
	l.applyFormat(l.Config.GetLoggerFormat())
	l.mut.Unlock()
}

func (l *LogrusLogger) entryAt(level logrus.Level) Entry {
	if l.logger == nil || !l.logger.IsLevelEnabled(level) {
		return nullEntry
	}

	return &LogrusEntry{
		entry: logrus.NewEntry(l.logger),
		level: level,
	}
}

func (l *LogrusLogger) Trace() Entry { return l.entryAt(logrus.TraceLevel) }
func (l *LogrusLogger) Debug() Entry { return l.entryAt(logrus.DebugLevel) }
func (l *LogrusLogger) Info() Entry  { return l.entryAt(logrus.InfoLevel) }
func (l *LogrusLogger) Warn() Entry  { return l.entryAt(logrus.WarnLevel) }
func (l *LogrusLogger) Error() Entry { return l.entryAt(logrus.ErrorLevel) }

// SetLevel records the level, and applies it at once if the logger is
// already running.
func (l *LogrusLogger) SetLevel(level string) error {
	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	l.mut.Lock()
	defer l.mut.Unlock()
	l.level = logrusLevel
	if l.logger != nil {
		l.logger.SetLevel(logrusLevel)
	}
	return nil
}

func (l *LogrusEntry) WithField(key string, value any) Entry {
	return &LogrusEntry{
		entry: l.entry.WithField(key, value),
		level: l.level,
	}
}

func (l *LogrusEntry) WithString(key string, value string) Entry {
	return l.WithField(key, value)
}

func (l *LogrusEntry) WithFields(fields map[string]any) Entry {
	return &LogrusEntry{
		entry: l.entry.WithFields(fields),
		level: l.level,
	}
}

func (l *LogrusEntry) Logf(f string, args ...any) {
	l.entry.Logf(l.level, f, args...)
}
