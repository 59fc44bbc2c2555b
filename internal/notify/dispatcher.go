// Package notify delivers per-actor targeted, priority-tagged messages
// with read tracking.
package notify

import (
	"log/slog"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
)

// DefaultCap is the default number of notifications retained.
const DefaultCap = 50

// Options configures the dispatcher.
type Options struct {
	// Cap bounds the notification log. <= 0 falls back to DefaultCap.
	Cap int
	// Allowed is the per-kind allow-list. A nil map allows every kind;
	// otherwise only kinds mapped to true are dispatched.
	Allowed map[model.NotificationKind]bool
	// PriorityDefaults supplies the priority used when the caller passes
	// none for a kind. Missing kinds fall back to PriorityLow.
	PriorityDefaults map[model.NotificationKind]model.Priority
}

// Dispatcher is a bounded, newest-first notification log.
//
// Targets are fixed at dispatch time and never grow. Read state is
// per-recipient and idempotent. Notification delivery is best-effort
// telemetry: a filtered-out kind or empty target set is dropped silently.
//
// Not internally locked: the engine facade serializes all access.
type Dispatcher struct {
	bus      *bus.Bus
	time     clock.TimeSource
	idGen    ids.Generator
	cap      int
	allowed  map[model.NotificationKind]bool
	defaults map[model.NotificationKind]model.Priority
	entries  []*model.Notification // index 0 is newest
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(b *bus.Bus, ts clock.TimeSource, idGen ids.Generator, opts Options, logger *slog.Logger) *Dispatcher {
	capacity := opts.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:      b,
		time:     ts,
		idGen:    idGen,
		cap:      capacity,
		allowed:  opts.Allowed,
		defaults: opts.PriorityDefaults,
		entries:  make([]*model.Notification, 0, capacity),
		logger:   logger,
	}
}

// Dispatch constructs a notification and prepends it to the log, evicting
// beyond the cap. The source actor is stripped from the target set unless
// it is the system. Emits notification-added.
//
// Returns nil when the kind is filtered out by the allow-list or no
// targets remain - dropped, not an error.
func (d *Dispatcher) Dispatch(kind model.NotificationKind, sourceID string, targets []string, entity model.EntityRef, message string, priority model.Priority) *model.Notification {
	if d.allowed != nil && !d.allowed[kind] {
		d.logger.Debug("notification filtered", "kind", string(kind))
		return nil
	}

	kept := make([]string, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if seen[target] {
			continue
		}
		if target == sourceID && sourceID != model.SystemActorID {
			continue
		}
		seen[target] = true
		kept = append(kept, target)
	}
	if len(kept) == 0 {
		return nil
	}

	if priority == "" {
		priority = d.defaultPriority(kind)
	}

	n := &model.Notification{
		ID:        d.idGen.NewID(),
		Kind:      kind,
		SourceID:  sourceID,
		Targets:   kept,
		Entity:    entity,
		Message:   message,
		Priority:  priority,
		CreatedAt: d.time.Now(),
		ReadBy:    make(map[string]bool),
	}

	d.entries = append([]*model.Notification{n}, d.entries...)
	if len(d.entries) > d.cap {
		d.entries = d.entries[:d.cap]
	}

	d.logger.Debug("notification dispatched",
		"id", n.ID,
		"kind", string(kind),
		"priority", string(priority),
		"targets", len(kept),
	)
	d.bus.Publish(bus.Event{Topic: bus.TopicNotificationAdded, Notification: n.Clone()})
	return n.Clone()
}

func (d *Dispatcher) defaultPriority(kind model.NotificationKind) model.Priority {
	if p, ok := d.defaults[kind]; ok {
		return p
	}
	return model.PriorityLow
}

// MarkRead records that an actor has read a notification. Unknown ids and
// non-target actors are a no-op; repeat calls have no further effect.
// Emits notification-updated on the first transition only.
func (d *Dispatcher) MarkRead(notificationID, actorID string) bool {
	n := d.find(notificationID)
	if n == nil || !n.Targeted(actorID) {
		return false
	}
	if n.ReadBy[actorID] {
		return false
	}

	n.ReadBy[actorID] = true
	d.bus.Publish(bus.Event{Topic: bus.TopicNotificationUpdated, Notification: n.Clone()})
	return true
}

// ForActor returns notifications targeting an actor, newest first, at most
// limit. limit <= 0 means no limit.
func (d *Dispatcher) ForActor(actorID string, limit int) []*model.Notification {
	var out []*model.Notification
	for _, n := range d.entries {
		if !n.Targeted(actorID) {
			continue
		}
		out = append(out, n.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// UnreadCount returns how many of an actor's notifications are unread.
func (d *Dispatcher) UnreadCount(actorID string) int {
	count := 0
	for _, n := range d.entries {
		if n.Targeted(actorID) && !n.ReadBy[actorID] {
			count++
		}
	}
	return count
}

// Recent returns the newest notifications regardless of target, at most
// limit. limit <= 0 means no limit.
func (d *Dispatcher) Recent(limit int) []*model.Notification {
	n := len(d.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*model.Notification, 0, n)
	for _, entry := range d.entries[:n] {
		out = append(out, entry.Clone())
	}
	return out
}

// Len returns the number of retained notifications.
func (d *Dispatcher) Len() int {
	return len(d.entries)
}

// Cap returns the configured capacity.
func (d *Dispatcher) Cap() int {
	return d.cap
}

func (d *Dispatcher) find(id string) *model.Notification {
	for _, n := range d.entries {
		if n.ID == id {
			return n
		}
	}
	return nil
}
