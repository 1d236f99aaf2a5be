package arbor

import (
	"fmt"
	"io"

	"github.com/joeycumines/logiface"
)

// arborEvent is the minimal logiface.Event needed to carry a Loop's
// LogEntry fields through to a Writer.
type arborEvent struct {
	logiface.UnimplementedEvent
	level  logiface.Level
	msg    string
	err    error
	fields map[string]any
}

func (e *arborEvent) Level() logiface.Level { return e.level }

func (e *arborEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any, 4)
	}
	e.fields[key] = val
}

func (e *arborEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

func (e *arborEvent) AddError(err error) bool {
	e.err = err
	return true
}

// logifaceAdapter implements Logger on top of a generic logiface.Logger,
// so the loop's exception hook and category logging can be routed
// through any logiface backend (zerolog, logrus, slog, stumpy) by
// swapping the Writer passed to NewLogifaceAdapter.
type logifaceAdapter struct {
	logger *logiface.Logger[*arborEvent]
}

// NewLogifaceAdapter builds a Logger backed by logiface, writing
// one line per entry to out via a Writer[*arborEvent].
func NewLogifaceAdapter(out io.Writer, level LogLevel) Logger {
	factory := logiface.NewEventFactoryFunc(func(lvl logiface.Level) *arborEvent {
		return &arborEvent{level: lvl}
	})
	writer := logiface.NewWriterFunc(func(e *arborEvent) error {
		fmt.Fprintf(out, "%s %s", e.level, e.msg)
		for k, v := range e.fields {
			fmt.Fprintf(out, " %s=%v", k, v)
		}
		if e.err != nil {
			fmt.Fprintf(out, " err=%v", e.err)
		}
		fmt.Fprintln(out)
		return nil
	})
	logger := logiface.New[*arborEvent](
		logiface.WithEventFactory[*arborEvent](factory),
		logiface.WithWriter[*arborEvent](writer),
		logiface.WithLevel[*arborEvent](toLogifaceLevel(level)),
	)
	return &logifaceAdapter{logger: logger}
}

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (a *logifaceAdapter) IsEnabled(level LogLevel) bool {
	return a.logger.Level() >= toLogifaceLevel(level)
}

func (a *logifaceAdapter) Log(entry LogEntry) {
	b := a.logger.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	b = b.Field("category", entry.Category)
	for k, v := range entry.Context {
		b = b.Field(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}
