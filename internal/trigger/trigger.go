package trigger

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types dispatched on user lifecycle changes.
const (
	TypeCreate = "create"
	TypeDelete = "delete"
)

// UserRecord is the event-facing projection of an account.
type UserRecord struct {
	LocalID       string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	Disabled      bool   `json:"disabled"`
	TenantID      string `json:"tenantId,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	LastLoginAt   int64  `json:"lastSignedInAt,omitempty"`
	CustomClaims  string `json:"customClaims,omitempty"`
}

// Event is one user lifecycle notification.
type Event struct {
	EventID   string     `json:"eventId"`
	Type      string     `json:"eventType"`
	ProjectID string     `json:"projectId"`
	Timestamp time.Time  `json:"timestamp"`
	User      UserRecord `json:"data"`
}

// NewEvent stamps a fresh event with a uuid and the current time.
func NewEvent(eventType, projectID string, user UserRecord) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: time.Now(),
		User:      user,
	}
}

// Sink receives dispatched events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel, for embedders that
// consume lifecycle events programmatically.
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
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	s := &JSONWriterSink{}
	if w != nil {
		s.enc = json.NewEncoder(w)
	}
	return s
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}
