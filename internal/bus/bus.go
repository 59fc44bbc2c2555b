// Package bus provides the synchronous pub/sub primitive every engine
// component uses to announce state changes.
//
// Topics form a closed enum and the Event envelope carries at most one
// payload pointer per topic, so handlers can switch exhaustively instead
// of keying on strings.
package bus

import (
	"log/slog"
	"sync"

	"github.com/lanternsoft/concord/internal/model"
)

// Topic identifies the kind of state change an event announces.
type Topic int

const (
	// TopicPresenceChanged fires when a collaborator joins, leaves, or
	// updates status/location. Payload: Collaborator (nil on removal).
	TopicPresenceChanged Topic = iota + 1
	// TopicUpdateRecorded fires when an update is appended to the log.
	TopicUpdateRecorded
	// TopicConflictDetected fires when the detector creates a conflict.
	TopicConflictDetected
	// TopicConflictResolved fires when a conflict reaches RESOLVED.
	TopicConflictResolved
	// TopicSessionStarted fires when a live-edit session begins.
	TopicSessionStarted
	// TopicSessionUpdated fires on heartbeat.
	TopicSessionUpdated
	// TopicSessionEnded fires when a session deactivates.
	TopicSessionEnded
	// TopicNotificationAdded fires when a notification is dispatched.
	TopicNotificationAdded
	// TopicNotificationUpdated fires when a recipient marks one read.
	TopicNotificationUpdated
	// TopicActivityAdded fires when the activity feed records an entry.
	TopicActivityAdded
)

// String returns the topic's wire name for logs and traces.
func (t Topic) String() string {
	switch t {
	case TopicPresenceChanged:
		return "presence-changed"
	case TopicUpdateRecorded:
		return "update-recorded"
	case TopicConflictDetected:
		return "conflict-detected"
	case TopicConflictResolved:
		return "conflict-resolved"
	case TopicSessionStarted:
		return "session-started"
	case TopicSessionUpdated:
		return "session-updated"
	case TopicSessionEnded:
		return "session-ended"
	case TopicNotificationAdded:
		return "notification-added"
	case TopicNotificationUpdated:
		return "notification-updated"
	case TopicActivityAdded:
		return "activity-added"
	default:
		return "unknown"
	}
}

// Event is the envelope delivered to handlers. Exactly one payload field
// is non-nil, determined by Topic.
type Event struct {
	Topic        Topic
	Collaborator *model.Collaborator
	Update       *model.Update
	Conflict     *model.Conflict
	Session      *model.LiveEditSession
	Notification *model.Notification
	Activity     *model.ActivityEvent
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is recovered and logged so it
// cannot prevent delivery to the remaining handlers.
type Handler func(Event)

// Subscription identifies a registered handler for later removal.
type Subscription int64

// Bus is a per-topic handler registry with synchronous delivery.
//
// Delivery order within a topic follows subscription order. The mutex only
// guards the registry; handlers run outside component locks, matching the
// engine's single-writer execution model.
type Bus struct {
	mu       sync.Mutex
	nextID   Subscription
	handlers map[Topic][]entry
	logger   *slog.Logger
}

type entry struct {
	id Subscription
	fn Handler
}

// New creates an empty bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Topic][]entry),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic and returns its subscription id.
func (b *Bus) Subscribe(topic Topic, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], entry{id: id, fn: fn})
	return id
}

// Unsubscribe removes a previously registered handler.
// Unknown ids are a no-op.
func (b *Bus) Unsubscribe(topic Topic, id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[topic]
	for i, e := range entries {
		if e.id == id {
			b.handlers[topic] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every handler subscribed to its topic,
// synchronously and in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	entries := make([]entry, len(b.handlers[ev.Topic]))
	copy(entries, b.handlers[ev.Topic])
	b.mu.Unlock()

	for _, e := range entries {
		b.deliver(e, ev)
	}
}

// deliver invokes a single handler, isolating panics.
func (b *Bus) deliver(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"topic", ev.Topic.String(),
				"subscription", int64(e.id),
				"panic", r,
			)
		}
	}()
	e.fn(ev)
}

// Clear removes every subscription. Called on engine destroy.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Topic][]entry)
}

// HandlerCount returns the number of handlers registered for a topic.
// Used for testing and introspection.
func (b *Bus) HandlerCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}
