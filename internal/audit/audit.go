package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one security-relevant action. ActorID is the admin performing an
// RBAC change; UserID is the account the event is about. Target names the
// role, permission or token family touched, when there is one.
type Event struct {
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
	EventType string            `json:"event_type" bson:"event_type"`
	UserID    string            `json:"user_id,omitempty" bson:"user_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Target    string            `json:"target,omitempty" bson:"target,omitempty"`
	IP        string            `json:"ip,omitempty" bson:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	Success   bool              `json:"success" bson:"success"`
	Error     string            `json:"error,omitempty" bson:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
