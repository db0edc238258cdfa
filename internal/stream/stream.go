// Package stream fans record changes out to live dashboard subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"resitrack.org/internal/ids"
)

// Action is what happened to a record.
type Action string

const (
	ActionCreated   Action = "created"
	ActionChecked   Action = "checked"
	ActionUnchecked Action = "unchecked"
	ActionDeleted   Action = "deleted"
	ActionArchived  Action = "archived"
)

// Record is the kind of record an event concerns.
type Record string

const (
	RecordMovement      Record = "movement"
	RecordDeath         Record = "death"
	RecordLocation      Record = "location"
	RecordNoMovementDay Record = "no_movement_day"
)

// Event describes one change. Resident is the display name, never the full
// identity.
type Event struct {
	ID       string    `json:"id"`
	Action   Action    `json:"action"`
	Record   Record    `json:"record"`
	RecordID string    `json:"record_id,omitempty"`
	Service  string    `json:"service,omitempty"`
	Type     string    `json:"type,omitempty"`
	Resident string    `json:"resident,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 16

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
	now    func() time.Time
}

// New initialises an empty stream. buffer <= 0 uses DefaultBuffer.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish stamps the event and fan-outs it to all subscribers. A nil
// stream discards events.
func (s *Stream) Publish(evt Event) {
	if s == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = ids.New()
	}
	if evt.At.IsZero() {
		evt.At = s.now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Visible reports whether a subscriber scoped to service should see evt.
// An empty scope sees everything. An event without a service is global only
// when it names no record, such as an archive summary; a record event whose
// service is unknown stays with unscoped subscribers.
func Visible(evt Event, scope string) bool {
	if scope == "" || evt.Service == scope {
		return true
	}
	return evt.Service == "" && evt.RecordID == ""
}
