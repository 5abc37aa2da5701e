package logger

// NullLogger drops everything. The engine defaults to it, so embedding
// applications opt in to logging explicitly.
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (n *NullLogger) Debug(msg string, keyvals ...any) {}
func (n *NullLogger) Info(msg string, keyvals ...any)  {}
func (n *NullLogger) Error(msg string, keyvals ...any) {}

var (
	_ Logger = (*NullLogger)(nil)
	_ Logger = (*PhusluLogger)(nil)
	_ Logger = (*SlogLogger)(nil)
)
