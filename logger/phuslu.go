package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger emits structured JSON through github.com/oarkflow/log, the
// backend the command-line tooling installs so decisions and reload events
// land in an operator-readable stream.
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

func (p *PhusluLogger) Debug(msg string, keyvals ...any) { emit(phlog.Debug(), msg, keyvals) }
func (p *PhusluLogger) Info(msg string, keyvals ...any)  { emit(phlog.Info(), msg, keyvals) }
func (p *PhusluLogger) Error(msg string, keyvals ...any) { emit(phlog.Error(), msg, keyvals) }

type fieldBuilder[E any] interface {
	Str(string, string) E
	Bool(string, bool) E
	Int(string, int) E
	Any(string, any) E
	Msg(string)
}

// emit applies keyvals as typed fields and finishes the entry. A dangling key
// without a value is dropped rather than logged with a placeholder.
func emit[E fieldBuilder[E]](e E, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case bool:
			e = e.Bool(key, v)
		case int:
			e = e.Int(key, v)
		case error:
			e = e.Str(key, v.Error())
		default:
			e = e.Any(key, v)
		}
	}
	e.Msg(msg)
}
