// Package eventbus implements the runtime's topic-based publish/subscribe
// bus. Topics are colon-delimited hierarchies ("module:toggle:changed");
// subscriptions use wildcard patterns; every published event is appended to
// a bounded, queryable log (the Record) before delivery.
//
// Delivery is synchronous: all matching handlers have fired by the time
// Publish returns, in the order Publish was called. A misbehaving handler is
// isolated — a panic is recovered, logged and counted without disturbing
// delivery to the remaining handlers.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soulmesh/soulmesh"
)

// Event is the wire shape carried across the bus and retained in the
// Record. Events are published once and immutable afterwards.
type Event struct {
	// Type is the colon-delimited hierarchical topic, e.g.
	// "module:toggle:changed".
	Type string `json:"type"`

	// SourceID names the entity that produced the event, usually a module
	// id. The orchestrator keys activity tracking on this field.
	SourceID string `json:"sourceId"`

	// Timestamp is when the event was created. Marshalled as RFC3339.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries the event's free-form data.
	Payload map[string]any `json:"payload,omitempty"`

	// Metadata carries contextual data that doesn't belong in the payload,
	// such as severity or correlation ids.
	Metadata map[string]any `json:"metadata,omitempty"`

	// EssenceLabels are the semantic tags attached to this event.
	EssenceLabels []string `json:"essenceLabels,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, sourceID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		SourceID:  sourceID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Handler processes a delivered event. Handlers run synchronously on the
// publisher's goroutine and should return quickly.
type Handler func(event Event)

// Subscription is the capability to deregister a handler. Cancel is
// idempotent and safe to call from handlers.
type Subscription struct {
	id      string
	pattern string
	handler Handler

	bus       *Bus
	mu        sync.Mutex
	cancelled bool
}

// ID returns the unique identifier for this subscription.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the topic pattern being subscribed to.
func (s *Subscription) Pattern() string { return s.pattern }

// Cancel deregisters the handler. After Cancel returns the handler will not
// fire for subsequently published events.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	s.bus.remove(s)
}

func (s *Subscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Bus is the in-process event bus. The zero value is not usable; construct
// with New.
type Bus struct {
	logger soulmesh.Logger

	subMu sync.RWMutex
	subs  []*Subscription

	record *record

	statsMu       sync.Mutex
	published     uint64
	delivered     uint64
	handlerErrors uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithRecordCapacity bounds the Record to n events; the oldest entries are
// evicted once the bound is reached. Values below 1 leave the default.
func WithRecordCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.record = newRecord(n)
		}
	}
}

// DefaultRecordCapacity is the Record bound used when none is configured.
const DefaultRecordCapacity = 1000

// New creates an event bus. A nil logger discards log output.
func New(logger soulmesh.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = soulmesh.NopLogger{}
	}
	b := &Bus{
		logger: logger,
		record: newRecord(DefaultRecordCapacity),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends the event to the Record and synchronously notifies every
// subscriber whose pattern matches the event type. All matching handlers
// have fired when Publish returns. Handlers that panic are isolated.
//
// Handlers may publish further events: delivery runs outside all bus locks,
// so nested publishes append to the Record in causal order rather than
// deadlocking. The Record preserves the order append was reached.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.record.append(event)

	b.subMu.RLock()
	matching := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchTopic(sub.pattern, event.Type) {
			matching = append(matching, sub)
		}
	}
	b.subMu.RUnlock()

	b.statsMu.Lock()
	b.published++
	b.statsMu.Unlock()

	for _, sub := range matching {
		if sub.isCancelled() {
			continue
		}
		b.deliver(sub, event)
	}
}

// deliver invokes one handler, absorbing panics so a broken subscriber
// cannot block delivery to the rest.
func (b *Bus) deliver(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.statsMu.Lock()
			b.handlerErrors++
			b.statsMu.Unlock()
			b.logger.Error("event handler panicked",
				"pattern", sub.pattern, "type", event.Type, "panic", r)
		}
	}()
	sub.handler(event)
	b.statsMu.Lock()
	b.delivered++
	b.statsMu.Unlock()
}

// Subscribe registers a handler for a topic pattern and returns the
// capability to deregister it. Malformed patterns are accepted and simply
// never match. A nil handler returns a subscription that never fires.
func (b *Bus) Subscribe(pattern string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
		bus:     b,
	}
	if handler == nil {
		sub.cancelled = true
		return sub
	}

	b.subMu.Lock()
	b.subs = append(b.subs, sub)
	b.subMu.Unlock()
	return sub
}

// remove drops a cancelled subscription from the live set.
func (b *Bus) remove(sub *Subscription) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions whose pattern
// matches the given topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if matchTopic(sub.pattern, topic) {
			n++
		}
	}
	return n
}

// QueryRecord returns a snapshot of retained events in original publish
// order, restricted by the filter. Querying never perturbs live delivery.
func (b *Bus) QueryRecord(filter RecordFilter) []Event {
	return b.record.query(filter)
}

// Stats reports Record and delivery counters for monitoring and the
// orchestrator's aggregate view.
func (b *Bus) Stats() RecordStats {
	stats := b.record.stats()
	b.statsMu.Lock()
	stats.Published = b.published
	stats.Delivered = b.delivered
	stats.HandlerErrors = b.handlerErrors
	b.statsMu.Unlock()
	return stats
}
