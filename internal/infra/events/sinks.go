// Package events provides sinks for the records deposited by committed
// ledger transitions.
package events

import (
	"context"
	"sync"

	"kittyledger/pkg/domain"
)

var (
	_ domain.EventSink = (*Recorder)(nil)
	_ domain.EventSink = (*LogSink)(nil)
	_ domain.EventSink = Fanout(nil)
)

// Recorder keeps every deposited event in order.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Deposit appends event to the log.
func (r *Recorder) Deposit(_ context.Context, event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Logger is the subset of the structured logger used by LogSink.
type Logger interface {
	Info(msg string, args ...any)
}

// LogSink writes each event to a structured logger.
type LogSink struct {
	logger Logger
}

// NewLogSink wraps logger as an event sink.
func NewLogSink(logger Logger) *LogSink { return &LogSink{logger: logger} }

// Deposit logs event with its fields as key/value pairs.
func (s *LogSink) Deposit(_ context.Context, event domain.Event) {
	if s == nil || s.logger == nil {
		return
	}
	args := []any{"kind", string(event.Kind), "account", uint64(event.Account), "id", uint32(event.ID)}
	switch event.Kind {
	case domain.EventTransferred:
		args = append(args, "to", uint64(event.To))
	case domain.EventBred:
		args = append(args, "father", uint32(event.Father), "mother", uint32(event.Mother))
	}
	s.logger.Info("ledger event", args...)
}

// Fanout delivers every event to each sink in order.
type Fanout []domain.EventSink

// Deposit forwards event to every non-nil sink.
func (f Fanout) Deposit(ctx context.Context, event domain.Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Deposit(ctx, event)
		}
	}
}
