package integration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jameshartig/mygas/pkg/log"
)

// DefaultEventHistory is how many events the bus remembers.
const DefaultEventHistory = 100

// Event is fired after every service call.
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data"`
}

// EventBus keeps the most recent events and fans them out to subscribers.
type EventBus struct {
	mu      sync.Mutex
	size    int
	events  []Event
	next    int
	full    bool
	nextSub int
	subs    map[int]func(Event)
}

// NewEventBus returns a bus that remembers size events.
func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = DefaultEventHistory
	}
	return &EventBus{
		size:   size,
		events: make([]Event, size),
		subs:   map[int]func(Event){},
	}
}

// Fire records an event and calls every subscriber synchronously.
func (b *EventBus) Fire(ctx context.Context, typ string, data map[string]any) Event {
	e := Event{
		ID:   uuid.NewString(),
		Type: typ,
		Time: time.Now().UTC(),
		Data: data,
	}

	b.mu.Lock()
	b.events[b.next] = e
	b.next = (b.next + 1) % b.size
	if b.next == 0 {
		b.full = true
	}
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "event fired", slog.String("type", typ), slog.String("eventID", e.ID))
	for _, fn := range subs {
		fn(e)
	}
	return e
}

// Subscribe registers fn for future events and returns a func that removes it.
func (b *EventBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Recent returns up to n events, oldest first. n <= 0 returns all.
func (b *EventBus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	if b.full {
		out = append(out, b.events[b.next:]...)
	}
	out = append(out, b.events[:b.next]...)
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
