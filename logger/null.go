package logger

// NullLogger drops everything. Components fall back to it when nothing is
// injected.
type NullLogger struct{}

var nullEntry = &NullLoggerEntry{}

var _ Logger = (*NullLogger)(nil)

func (n *NullLogger) Trace() Entry          { return nullEntry }
func (n *NullLogger) Debug() Entry          { return nullEntry }
func (n *NullLogger) Info() Entry           { return nullEntry }
func (n *NullLogger) Warn() Entry           { return nullEntry }
func (n *NullLogger) Error() Entry          { return nullEntry }
func (n *NullLogger) SetLevel(string) error { return nil }

type NullLoggerEntry struct{}

func (n *NullLoggerEntry) WithField(string, any) Entry     { return n }
func (n *NullLoggerEntry) WithString(string, string) Entry { return n }
func (n *NullLoggerEntry) WithFields(map[string]any) Entry { return n }
func (n *NullLoggerEntry) Logf(string, ...any)             {}
