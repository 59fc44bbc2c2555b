// Package engine composes the collaboration components behind a single
// facade owning configuration, orchestration and lifecycle.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lanternsoft/concord/internal/activity"
	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/conflict"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/livedit"
	"github.com/lanternsoft/concord/internal/model"
	"github.com/lanternsoft/concord/internal/notify"
	"github.com/lanternsoft/concord/internal/presence"
	"github.com/lanternsoft/concord/internal/updatelog"
)

// Engine is the collaborative update and conflict-resolution engine.
//
// The engine is designed for single-threaded, cooperative execution: every
// public operation is a synchronous in-memory mutation, serialized by an
// internal mutex so timer callbacks (auto-resolve, staleness sweep)
// re-enter through the same serialization point. Check-then-act on
// conflict state is therefore atomic and a timer firing after a manual
// resolution is a safe no-op.
//
// Construct with New, subscribe for change notification via Bus, and call
// Destroy on teardown to cancel all pending timers and clear
// subscriptions. There is no ambient global engine; callers own the value
// and thread it through.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	bus       *bus.Bus
	seq       *clock.Clock
	time      clock.TimeSource
	scheduler clock.Scheduler
	idGen     ids.Generator
	logger    *slog.Logger

	registry  *presence.Registry
	log       *updatelog.Log
	conflicts *conflict.Manager
	sessions  *livedit.Tracker
	notifier  *notify.Dispatcher
	feed      *activity.Feed

	// ownScheduler is set when the engine created its own real-timer
	// scheduler and is responsible for stopping it on Destroy.
	ownScheduler *clock.TimerScheduler

	// autoCancel holds the pending auto-resolve timer per conflict.
	autoCancel  map[string]clock.CancelFunc
	sweepCancel clock.CancelFunc

	destroyed bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithTimeSource replaces the wall clock. Tests use testutil.ManualClock
// for deterministic timestamps and window arithmetic.
func WithTimeSource(ts clock.TimeSource) Option {
	return func(e *Engine) { e.time = ts }
}

// WithScheduler replaces the timer scheduler. Tests use
// testutil.ManualScheduler to fire auto-resolve and sweep timers on
// demand.
func WithScheduler(s clock.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithIDGenerator replaces id generation. Tests use ids.FixedGenerator
// for deterministic ids and golden trace comparison.
func WithIDGenerator(g ids.Generator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs an engine from the configuration, filling zero-valued
// fields with defaults, and arms the periodic staleness sweep.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg.withDefaults(),
		seq:        clock.NewClock(),
		time:       clock.SystemTime{},
		idGen:      ids.UUIDv7Generator{},
		logger:     slog.Default(),
		autoCancel: make(map[string]clock.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scheduler == nil {
		ts := clock.NewTimerScheduler()
		e.scheduler = ts
		e.ownScheduler = ts
	}

	e.bus = bus.New(e.logger)
	e.registry = presence.NewRegistry(e.bus, e.time, e.cfg.MaxCollaborators, e.logger)
	e.log = updatelog.NewLog(e.bus, e.seq, e.time, e.cfg.UpdateLogCap, e.logger)
	e.conflicts = conflict.NewManager(e.bus, e.time, e.idGen, e.cfg.DetectionWindow, e.logger)
	e.sessions = livedit.NewTracker(e.bus, e.time, e.idGen, e.cfg.SessionTTL, e.logger)
	e.notifier = notify.NewDispatcher(e.bus, e.time, e.idGen, notify.Options{
		Cap:              e.cfg.NotificationCap,
		Allowed:          e.cfg.NotificationAllowList,
		PriorityDefaults: e.cfg.NotificationPriorities,
	}, e.logger)
	e.feed = activity.NewFeed(e.bus, e.time, e.idGen, e.cfg.ActivityCap, !e.cfg.ActivityFeedDisabled, e.logger)

	e.scheduleSweep()

	e.logger.Info("engine started",
		"detection_window", e.conflicts.Window().String(),
		"auto_resolve", e.cfg.AutoResolveConflicts,
		"session_ttl", e.sessions.TTL().String(),
	)
	return e
}

// Bus returns the event bus consumers subscribe to for change
// notification. Subscriptions are cleared on Destroy.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// Config returns the effective configuration after defaulting.
func (e *Engine) Config() Config {
	return e.cfg
}

// Destroy tears the engine down: cancels all pending timers, clears every
// bus subscription, and turns further mutating operations into no-ops.
// Safe to call more than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.destroyed = true

	if e.sweepCancel != nil {
		e.sweepCancel()
		e.sweepCancel = nil
	}
	for id, cancel := range e.autoCancel {
		cancel()
		delete(e.autoCancel, id)
	}
	if e.ownScheduler != nil {
		e.ownScheduler.Stop()
	}
	e.bus.Clear()

	e.logger.Info("engine destroyed")
}

// --- Presence ---

// AddCollaborator registers a collaborator, announces the join on the
// activity feed, and sends a user_joined notification to everyone else.
func (e *Engine) AddCollaborator(c model.Collaborator) (*model.Collaborator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil, nil
	}

	stored, err := e.registry.Add(c)
	if err != nil {
		return nil, err
	}

	ref := model.EntityRef{Kind: "collaborator", ID: stored.ID}
	e.feed.Record(model.ActivityJoined, stored.ID, ref, stored.DisplayName,
		fmt.Sprintf("%s joined", stored.DisplayName), nil)
	e.notifier.Dispatch(model.NotifyUserJoined, stored.ID, e.registry.OtherIDs(stored.ID), ref,
		fmt.Sprintf("%s joined the workspace", stored.DisplayName), model.PriorityLow)
	return stored, nil
}

// RemoveCollaborator unregisters a collaborator. All of the actor's active
// live-edit sessions are ended first so no ghost editors remain. Unknown
// ids are a no-op.
func (e *Engine) RemoveCollaborator(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed || e.registry.Get(id) == nil {
		return
	}

	e.sessions.EndSessionsFor(id)
	removed := e.registry.Remove(id)
	if removed == nil {
		return
	}

	ref := model.EntityRef{Kind: "collaborator", ID: removed.ID}
	e.feed.Record(model.ActivityLeft, removed.ID, ref, removed.DisplayName,
		fmt.Sprintf("%s left", removed.DisplayName), nil)
	e.notifier.Dispatch(model.NotifyUserLeft, removed.ID, e.registry.IDs(), ref,
		fmt.Sprintf("%s left the workspace", removed.DisplayName), model.PriorityLow)
}

// UpdatePresence refreshes an actor's location and optionally status.
// Unknown actors are a no-op.
func (e *Engine) UpdatePresence(id string, loc model.Location, status *model.PresenceStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.registry.UpdatePresence(id, loc, status)
}

// Collaborators returns a snapshot sorted by status priority then
// last-seen time descending.
func (e *Engine) Collaborators() []*model.Collaborator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.List()
}

// Collaborator returns one collaborator snapshot, or nil if unknown.
func (e *Engine) Collaborator(id string) *model.Collaborator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Get(id)
}

// --- Updates & conflicts ---

// RecordUpdate appends a change operation to the update log, runs conflict
// detection against the recent window, and returns the stored update.
//
// When detection correlates the update with prior edits, the involved
// actors get a conflict_detected notification, the activity feed records
// the collision, and - if configured - an auto-resolve timer is armed.
func (e *Engine) RecordUpdate(partial model.Update) *model.Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}

	stored := e.log.Record(partial)
	if c := e.conflicts.Observe(stored, e.log.All()); c != nil {
		e.onConflictDetected(c)
	}
	return stored
}

// onConflictDetected handles the cross-component effects of a new
// conflict. Caller holds e.mu.
func (e *Engine) onConflictDetected(c *model.Conflict) {
	ref := model.EntityRef{Kind: c.EntityKind, ID: c.EntityID}
	actors := c.ActorIDs()

	e.notifier.Dispatch(model.NotifyConflictDetected, model.SystemActorID, actors, ref,
		fmt.Sprintf("concurrent edits to %s on %s/%s", c.Path, c.EntityKind, c.EntityID),
		model.PriorityHigh)
	e.feed.Record(model.ActivityConflictDetected, model.SystemActorID, ref, c.EntityID,
		fmt.Sprintf("conflict on %s between %d actors", c.Path, len(actors)),
		model.Map{"conflict_id": model.String(c.ID), "path": model.String(c.Path)})

	if e.cfg.AutoResolveConflicts {
		id := c.ID
		e.autoCancel[id] = e.scheduler.Schedule(e.cfg.ConflictResolutionTimeout, func() {
			e.autoResolve(id)
		})
	}
}

// autoResolve is the auto-resolve timer callback. It re-enters through the
// engine mutex; if a human resolved the conflict first, the manager's
// terminal-state idempotency makes this a no-op.
func (e *Engine) autoResolve(conflictID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	delete(e.autoCancel, conflictID)
	if _, err := e.resolveLocked(conflictID, model.LastWriterWins, model.SystemActorID, nil); err != nil {
		e.logger.Error("auto-resolve failed", "conflict", conflictID, "error", err)
	}
}

// ResolveConflict moves a conflict to RESOLVED under the given strategy.
//
// Resolving an already-resolved conflict is an idempotent no-op that
// returns the existing resolution unchanged. Unknown ids return
// (nil, nil): conflict ids race with log eviction and are best-effort.
// Strategy precondition failures (user_choice without a chosen value)
// surface as errors with no state changed.
func (e *Engine) ResolveConflict(id string, strategy model.Strategy, actorID string, payload *model.ResolutionPayload) (*model.Conflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil, nil
	}
	return e.resolveLocked(id, strategy, actorID, payload)
}

// resolveLocked is the shared resolution path. Caller holds e.mu.
func (e *Engine) resolveLocked(id string, strategy model.Strategy, actorID string, payload *model.ResolutionPayload) (*model.Conflict, error) {
	c, changed, err := e.conflicts.Resolve(id, strategy, actorID, payload)
	if err != nil {
		return nil, err
	}
	if c == nil || !changed {
		return c, nil
	}

	// A manual resolution beats the pending auto-resolve timer.
	if cancel, ok := e.autoCancel[id]; ok {
		cancel()
		delete(e.autoCancel, id)
	}

	ref := model.EntityRef{Kind: c.EntityKind, ID: c.EntityID}
	e.notifier.Dispatch(model.NotifyConflictResolved, model.SystemActorID, c.ActorIDs(), ref,
		fmt.Sprintf("conflict on %s resolved via %s", c.Path, strategy),
		model.PriorityMedium)
	e.feed.Record(model.ActivityConflictResolved, actorID, ref, c.EntityID,
		fmt.Sprintf("conflict on %s resolved", c.Path),
		model.Map{"conflict_id": model.String(c.ID), "strategy": model.String(strategy)})
	return c, nil
}

// PreviewResolution computes the value a strategy would produce without
// committing it. Pure: no mutation, no events.
func (e *Engine) PreviewResolution(id string, strategy model.Strategy, payload *model.ResolutionPayload) (model.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.Preview(id, strategy, payload)
}

// RecentUpdates returns the most recent updates, newest first.
func (e *Engine) RecentUpdates(limit int) []*model.Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Recent(limit)
}

// UpdatesFor returns updates touching an entity, newest first.
func (e *Engine) UpdatesFor(entityKind, entityID string) []*model.Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.ByEntity(entityKind, entityID)
}

// PendingConflicts returns all unresolved conflicts in detection order.
func (e *Engine) PendingConflicts() []*model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.Pending()
}

// Conflicts returns every conflict, resolved ones included.
func (e *Engine) Conflicts() []*model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.All()
}

// Conflict returns one conflict by id, or nil.
func (e *Engine) Conflict(id string) *model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.Get(id)
}

// --- Live-edit sessions ---

// StartSession begins (or resumes) a live-edit session and announces it on
// the activity feed.
func (e *Engine) StartSession(entityKind, entityID, field, actorID string) *model.LiveEditSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}

	s := e.sessions.StartSession(entityKind, entityID, field, actorID)
	e.feed.Record(model.ActivitySessionStarted, actorID,
		model.EntityRef{Kind: entityKind, ID: entityID}, entityID,
		fmt.Sprintf("%s started editing %s", actorID, field),
		model.Map{"field": model.String(field)})
	return s
}

// Heartbeat refreshes a session's liveness and draft state. Cursor
// positions are dropped when cursors are disabled in configuration.
func (e *Engine) Heartbeat(sessionID string, content *string, cursor *int) *model.LiveEditSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	if e.cfg.CursorsDisabled {
		cursor = nil
	}
	return e.sessions.Heartbeat(sessionID, content, cursor)
}

// EndSession deactivates a session. Unknown ids are a no-op.
func (e *Engine) EndSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.sessions.EndSession(sessionID)
}

// IsBeingEdited reports whether any actor holds an active session on the
// field.
func (e *Engine) IsBeingEdited(entityKind, entityID, field string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.IsBeingEdited(entityKind, entityID, field)
}

// ActiveSessions returns active sessions matching the filter.
func (e *Engine) ActiveSessions(f livedit.Filter) []*model.LiveEditSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.ListActive(f)
}

// scheduleSweep arms the periodic staleness sweep. Called from the
// constructor and from sweep itself under e.mu.
func (e *Engine) scheduleSweep() {
	e.sweepCancel = e.scheduler.Schedule(e.cfg.SweepInterval, e.sweep)
}

// sweep ends sessions whose heartbeat went stale and re-arms itself.
func (e *Engine) sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}

	for _, s := range e.sessions.SweepStale() {
		e.feed.Record(model.ActivitySessionEnded, s.ActorID,
			model.EntityRef{Kind: s.EntityKind, ID: s.EntityID}, s.EntityID,
			fmt.Sprintf("%s stopped editing %s (idle)", s.ActorID, s.Field),
			model.Map{"field": model.String(s.Field), "reason": model.String("stale")})
	}
	e.scheduleSweep()
}

// --- Notifications ---

// NotificationsFor returns notifications targeting an actor, newest first.
func (e *Engine) NotificationsFor(actorID string, limit int) []*model.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifier.ForActor(actorID, limit)
}

// UnreadCount returns how many of an actor's notifications are unread.
func (e *Engine) UnreadCount(actorID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifier.UnreadCount(actorID)
}

// MarkNotificationRead records that an actor read a notification.
// Idempotent; unknown ids and non-targets are a no-op.
func (e *Engine) MarkNotificationRead(notificationID, actorID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.notifier.MarkRead(notificationID, actorID)
}

// Notify dispatches a caller-originated notification (e.g. a mention).
// An empty priority uses the configured default for the kind.
func (e *Engine) Notify(kind model.NotificationKind, sourceID string, targets []string, entity model.EntityRef, message string, priority model.Priority) *model.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	return e.notifier.Dispatch(kind, sourceID, targets, entity, message, priority)
}

// --- Activity ---

// Activity returns feed entries matching the filter, newest first.
func (e *Engine) Activity(limit int, filter activity.QueryFilter) []*model.ActivityEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feed.Query(limit, filter)
}

// Stats is a point-in-time snapshot of engine state sizes.
type Stats struct {
	Collaborators    int
	Updates          int
	PendingConflicts int
	TotalConflicts   int
	ActiveSessions   int
	Notifications    int
	ActivityEntries  int
}

// Stats returns current state sizes for diagnostics and trace output.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Collaborators:    e.registry.Count(),
		Updates:          e.log.Len(),
		PendingConflicts: len(e.conflicts.Pending()),
		TotalConflicts:   len(e.conflicts.All()),
		ActiveSessions:   e.sessions.ActiveCount(),
		Notifications:    e.notifier.Len(),
		ActivityEntries:  e.feed.Len(),
	}
}
