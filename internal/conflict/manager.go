// Package conflict owns the conflict lifecycle: time-windowed detection of
// concurrent same-field edits and the resolution-strategy state machine.
package conflict

import (
	"log/slog"
	"sort"
	"time"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
)

// DefaultWindow is the default detection window: two same-field updates
// from distinct actors closer together than this are conflicting.
const DefaultWindow = 5 * time.Second

// Manager tracks conflicts from detection through resolution.
//
// State machine: PENDING -> RESOLVED, terminal. A second resolve on a
// RESOLVED conflict is an idempotent no-op returning the existing
// resolution unchanged. Conflicts are never deleted; resolved ones remain
// for audit and activity history.
//
// Not internally locked: the engine facade serializes all access.
type Manager struct {
	bus    *bus.Bus
	time   clock.TimeSource
	idGen  ids.Generator
	window time.Duration
	byID   map[string]*model.Conflict
	order  []string // detection order, oldest first
	logger *slog.Logger
}

// NewManager creates an empty manager. window <= 0 falls back to
// DefaultWindow.
func NewManager(b *bus.Bus, ts clock.TimeSource, idGen ids.Generator, window time.Duration, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:    b,
		time:   ts,
		idGen:  idGen,
		window: window,
		byID:   make(map[string]*model.Conflict),
		logger: logger,
	}
}

// Observe runs detection for a freshly recorded update against the log
// snapshot (which already contains it). If prior updates correlate, a
// PENDING conflict is created, all member updates are flagged, and
// conflict-detected is emitted. Returns the new conflict, or nil.
//
// A prior update V correlates when it touches the same
// (entity kind, entity id, operation path) as u, comes from a different
// actor, landed within the detection window, and is not already part of a
// resolved conflict. When several updates from the same actor correlate,
// only the latest per actor becomes a member: conflict members are
// pairwise distinct by actor.
func (m *Manager) Observe(u *model.Update, log []*model.Update) *model.Conflict {
	latestPerActor := make(map[string]*model.Update)
	for _, v := range log {
		if v.ID == u.ID || v.ActorID == u.ActorID {
			continue
		}
		if !u.SamePath(v) {
			continue
		}
		delta := u.Timestamp.Sub(v.Timestamp)
		if delta < 0 || delta >= m.window {
			continue
		}
		if v.Resolved {
			// Already settled by an earlier resolution; re-flagging it
			// would reopen a terminal conflict.
			continue
		}
		if best, ok := latestPerActor[v.ActorID]; !ok || best.Before(v) {
			latestPerActor[v.ActorID] = v
		}
	}

	if len(latestPerActor) == 0 {
		return nil
	}

	members := make([]*model.Update, 0, len(latestPerActor)+1)
	for _, v := range latestPerActor {
		members = append(members, v)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Before(members[j]) })
	members = append(members, u)

	c := &model.Conflict{
		ID:         m.idGen.NewID(),
		EntityKind: u.EntityKind,
		EntityID:   u.EntityID,
		Path:       u.Operation.Path,
		Members:    members,
		State:      model.ConflictPending,
		DetectedAt: m.time.Now(),
	}
	for _, member := range members {
		member.Conflicted = true
	}

	m.byID[c.ID] = c
	m.order = append(m.order, c.ID)

	m.logger.Info("conflict detected",
		"conflict", c.ID,
		"entity", c.EntityKind+"/"+c.EntityID,
		"path", c.Path,
		"members", len(members),
		"actors", c.ActorIDs(),
	)
	m.bus.Publish(bus.Event{Topic: bus.TopicConflictDetected, Conflict: c})
	return c
}

// Resolve computes the final value under the given strategy and moves the
// conflict to RESOLVED.
//
// Returns (conflict, changed, err):
//   - unknown id: (nil, false, nil) - silent no-op, ids race with eviction
//   - already RESOLVED: (existing, false, nil) - idempotent
//   - strategy failure (e.g. missing choice): (nil, false, err) with all
//     prior state left unchanged
//   - success: (conflict, true, nil)
func (m *Manager) Resolve(id string, strategy model.Strategy, actorID string, payload *model.ResolutionPayload) (*model.Conflict, bool, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, false, nil
	}
	if c.State == model.ConflictResolved {
		m.logger.Debug("conflict already resolved, skipping (idempotent)",
			"conflict", id,
			"strategy", string(c.Strategy),
		)
		return c, false, nil
	}

	final, err := compute(c, strategy, payload)
	if err != nil {
		return nil, false, err
	}

	c.State = model.ConflictResolved
	c.Strategy = strategy
	c.ResolvedBy = actorID
	c.ResolvedAt = m.time.Now()
	c.FinalValue = final
	for _, member := range c.Members {
		member.Resolved = true
	}

	m.logger.Info("conflict resolved",
		"conflict", c.ID,
		"strategy", string(strategy),
		"by", actorID,
		"final", model.FormatValue(final),
	)
	m.bus.Publish(bus.Event{Topic: bus.TopicConflictResolved, Conflict: c})
	return c, true, nil
}

// Preview computes the value a strategy would produce without mutating the
// conflict or emitting events. Unknown ids return (nil, nil): read-only
// queries never fail on unknown inputs.
func (m *Manager) Preview(id string, strategy model.Strategy, payload *model.ResolutionPayload) (model.Value, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return compute(c, strategy, payload)
}

// compute is the pure strategy evaluation shared by Resolve and Preview.
func compute(c *model.Conflict, strategy model.Strategy, payload *model.ResolutionPayload) (model.Value, error) {
	switch strategy {
	case model.LastWriterWins:
		return c.LatestMember().Operation.NewValue, nil

	case model.FirstWriterWins:
		return c.EarliestMember().Operation.NewValue, nil

	case model.MergeChanges:
		return mergeMembers(c.Members), nil

	case model.UserChoice:
		if payload == nil || !payload.HasChosenValue {
			return nil, &MissingChoiceError{ConflictID: c.ID}
		}
		return payload.ChosenValue, nil

	case model.CustomResolution:
		if payload != nil && payload.HasCustomValue {
			return payload.CustomValue, nil
		}
		return c.EarliestMember().Operation.NewValue, nil

	default:
		return nil, &UnknownStrategyError{Strategy: string(strategy)}
	}
}

// mergeMembers folds member values in chronological order. Structured
// payloads shallow-merge key by key with later members overwriting
// earlier ones; otherwise the later value wins outright.
func mergeMembers(members []*model.Update) model.Value {
	ordered := make([]*model.Update, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var acc model.Value
	for i, member := range ordered {
		cur := member.Operation.NewValue
		if i == 0 {
			acc = cur
			continue
		}
		accMap, accOK := acc.(model.Map)
		curMap, curOK := cur.(model.Map)
		if accOK && curOK {
			acc = model.MergeMaps(accMap, curMap)
		} else {
			acc = cur
		}
	}
	return acc
}

// Get returns a conflict by id, or nil if unknown.
func (m *Manager) Get(id string) *model.Conflict {
	return m.byID[id]
}

// Pending returns all PENDING conflicts in detection order.
func (m *Manager) Pending() []*model.Conflict {
	var out []*model.Conflict
	for _, id := range m.order {
		if c := m.byID[id]; c.State == model.ConflictPending {
			out = append(out, c)
		}
	}
	return out
}

// All returns every conflict in detection order, resolved ones included.
func (m *Manager) All() []*model.Conflict {
	out := make([]*model.Conflict, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// Window returns the configured detection window.
func (m *Manager) Window() time.Duration {
	return m.window
}
