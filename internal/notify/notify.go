// Package notify carries user-facing messages out of the pipeline.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Err   error  `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, m Message)
}

// Log writes messages to a slog logger.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log { return &Log{log: log.With("component", "notify")} }

func (n *Log) Notify(ctx context.Context, m Message) {
	attrs := []any{"level", m.Level}
	if m.Err != nil {
		attrs = append(attrs, "err", m.Err)
	}
	switch m.Level {
	case LevelError:
		n.log.ErrorContext(ctx, m.Text, attrs...)
	case LevelWarning:
		n.log.WarnContext(ctx, m.Text, attrs...)
	default:
		n.log.InfoContext(ctx, m.Text, attrs...)
	}
}

// Recorder keeps every message; the control API serves them and tests
// assert on them.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	next     Notifier
}

// NewRecorder returns a Recorder that also forwards to next when non-nil.
func NewRecorder(next Notifier) *Recorder { return &Recorder{next: next} }

func (r *Recorder) Notify(ctx context.Context, m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Notify(ctx, m)
	}
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
