// Package events provides registry.EventSink implementations.
package events

import (
	"log/slog"
	"sync"

	"github.com/jmsadair/roster/registry"
)

// Recorder keeps every recorded event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []registry.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends the event.
func (r *Recorder) Record(event registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in the order they were recorded.
func (r *Recorder) Events() []registry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	eventsCopy := make([]registry.Event, len(r.events))
	copy(eventsCopy, r.events)
	return eventsCopy
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that logs to log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Record logs the event at info level.
func (s *LogSink) Record(event registry.Event) {
	s.log.Info(
		"membership changed",
		"kind",
		event.Kind.String(),
		"timestamp",
		event.Timestamp,
		"member",
		event.Identity,
	)
}

// Fanout forwards every event to each of its sinks in order.
type Fanout []registry.EventSink

// Record forwards the event to every sink.
func (f Fanout) Record(event registry.Event) {
	for _, sink := range f {
		sink.Record(event)
	}
}
