// Package harness provides a replay framework for the collaboration
// engine.
//
// A scenario is a YAML file describing collaborators, a sequence of engine
// operations, and assertions over the resulting event trace and final
// state. The harness runs each scenario against a real engine wired with
// deterministic helpers (manual clock, manual scheduler, fixed id
// generator), so two runs of the same scenario produce byte-identical
// traces. Golden files pin those traces down for regression testing.
package harness

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/engine"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
	"github.com/lanternsoft/concord/internal/testutil"
)

// Harness executes one scenario against a freshly built engine.
type Harness struct {
	engine    *engine.Engine
	clock     *testutil.ManualClock
	scheduler *testutil.ManualScheduler
	logger    *slog.Logger
}

// BusTap observes the engine's event stream for the duration of a run.
// Callers use it to attach extra consumers - the archive sink, most
// notably - before any event fires.
type BusTap func(*bus.Bus)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine for isolation. Execution flow:
//
//  1. Build engine config from scenario overrides
//  2. Construct engine with deterministic clock, scheduler and id generator
//  3. Subscribe to every bus topic to collect the trace, then apply taps
//  4. Register declared collaborators
//  5. Execute steps in order
//  6. Snapshot final stats and evaluate assertions
func Run(scenario *Scenario, taps ...BusTap) (*Result, error) {
	clk := testutil.NewManualClock()
	sched := testutil.NewManualScheduler()
	gen := ids.NewFixedGenerator("gen")

	eng := engine.New(buildConfig(scenario.Config),
		engine.WithTimeSource(clk),
		engine.WithScheduler(sched),
		engine.WithIDGenerator(gen),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer eng.Destroy()

	h := &Harness{
		engine:    eng,
		clock:     clk,
		scheduler: sched,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	h.attachTrace(result)
	for _, tap := range taps {
		tap(eng.Bus())
	}

	for i, c := range scenario.Collaborators {
		if _, err := eng.AddCollaborator(model.Collaborator{
			ID:          c.ID,
			DisplayName: c.Name,
			Role:        model.Role(c.Role),
		}); err != nil {
			return nil, fmt.Errorf("collaborators[%d]: %w", i, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
		h.logger.Info("step completed", "step", i, "op", step.Op)
	}

	stats := eng.Stats()
	result.Final = map[string]int{
		"collaborators":     stats.Collaborators,
		"updates":           stats.Updates,
		"pending_conflicts": stats.PendingConflicts,
		"total_conflicts":   stats.TotalConflicts,
		"active_sessions":   stats.ActiveSessions,
		"notifications":     stats.Notifications,
		"activity_entries":  stats.ActivityEntries,
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// buildConfig overlays scenario overrides on the engine defaults.
func buildConfig(sc *ScenarioConfig) engine.Config {
	cfg := engine.DefaultConfig()
	if sc == nil {
		return cfg
	}

	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	if sc.MaxCollaborators != nil {
		cfg.MaxCollaborators = *sc.MaxCollaborators
	}
	if sc.DetectionWindowMs != nil {
		cfg.DetectionWindow = ms(*sc.DetectionWindowMs)
	}
	if sc.SessionTTLMs != nil {
		cfg.SessionTTL = ms(*sc.SessionTTLMs)
	}
	if sc.SweepIntervalMs != nil {
		cfg.SweepInterval = ms(*sc.SweepIntervalMs)
	}
	if sc.ConflictResolutionTimeoutMs != nil {
		cfg.ConflictResolutionTimeout = ms(*sc.ConflictResolutionTimeoutMs)
	}
	if sc.UpdateLogCap != nil {
		cfg.UpdateLogCap = *sc.UpdateLogCap
	}
	if sc.NotificationCap != nil {
		cfg.NotificationCap = *sc.NotificationCap
	}
	if sc.ActivityCap != nil {
		cfg.ActivityCap = *sc.ActivityCap
	}
	if sc.CursorsEnabled != nil {
		cfg.CursorsDisabled = !*sc.CursorsEnabled
	}
	if sc.ActivityFeedEnabled != nil {
		cfg.ActivityFeedDisabled = !*sc.ActivityFeedEnabled
	}
	if sc.AutoResolveConflicts != nil {
		cfg.AutoResolveConflicts = *sc.AutoResolveConflicts
	}
	return cfg
}

// attachTrace subscribes to every bus topic and flattens events into the
// result trace.
func (h *Harness) attachTrace(result *Result) {
	topics := []bus.Topic{
		bus.TopicPresenceChanged,
		bus.TopicUpdateRecorded,
		bus.TopicConflictDetected,
		bus.TopicConflictResolved,
		bus.TopicSessionStarted,
		bus.TopicSessionUpdated,
		bus.TopicSessionEnded,
		bus.TopicNotificationAdded,
		bus.TopicNotificationUpdated,
		bus.TopicActivityAdded,
	}
	for _, topic := range topics {
		h.engine.Bus().Subscribe(topic, func(ev bus.Event) {
			result.AddTrace(flatten(ev))
		})
	}
}

// flatten extracts the assertion-relevant fields from a bus event.
func flatten(ev bus.Event) TraceEvent {
	te := TraceEvent{Event: ev.Topic.String()}

	switch {
	case ev.Collaborator != nil:
		te.Actor = ev.Collaborator.ID
		te.Detail = string(ev.Collaborator.Status)
	case ev.Update != nil:
		te.Actor = ev.Update.ActorID
		te.Entity = ev.Update.EntityKind + "/" + ev.Update.EntityID
		te.Path = ev.Update.Operation.Path
		te.Detail = ev.Update.ID
	case ev.Conflict != nil:
		te.Entity = ev.Conflict.EntityKind + "/" + ev.Conflict.EntityID
		te.Path = ev.Conflict.Path
		if ev.Conflict.State == model.ConflictResolved {
			te.Actor = ev.Conflict.ResolvedBy
			te.Detail = fmt.Sprintf("%s via %s", ev.Conflict.ID, ev.Conflict.Strategy)
		} else {
			te.Detail = fmt.Sprintf("%s members=%d", ev.Conflict.ID, len(ev.Conflict.Members))
		}
	case ev.Session != nil:
		te.Actor = ev.Session.ActorID
		te.Entity = ev.Session.EntityKind + "/" + ev.Session.EntityID
		te.Path = ev.Session.Field
		te.Detail = ev.Session.ID
	case ev.Notification != nil:
		te.Actor = ev.Notification.SourceID
		te.Entity = ev.Notification.Entity.Kind + "/" + ev.Notification.Entity.ID
		te.Detail = string(ev.Notification.Kind)
	case ev.Activity != nil:
		te.Actor = ev.Activity.ActorID
		te.Entity = ev.Activity.Entity.Kind + "/" + ev.Activity.Entity.ID
		te.Detail = ev.Activity.Description
	}
	return te
}

// executeStep dispatches one scenario step to the engine.
func (h *Harness) executeStep(step Step) error {
	switch step.Op {
	case OpAddCollaborator:
		_, err := h.engine.AddCollaborator(model.Collaborator{
			ID:          step.Actor,
			DisplayName: step.Name,
			Role:        model.Role(step.Role),
		})
		return err

	case OpRemoveCollaborator:
		h.engine.RemoveCollaborator(step.Actor)
		return nil

	case OpUpdatePresence:
		var status *model.PresenceStatus
		if step.Status != "" {
			s := model.PresenceStatus(step.Status)
			status = &s
		}
		h.engine.UpdatePresence(step.Actor, model.Location{
			EntityKind: step.EntityKind,
			EntityID:   step.EntityID,
		}, status)
		return nil

	case OpRecordUpdate:
		value, err := model.ValueFromAny(step.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		kind := model.UpdateKind(step.Kind)
		if kind == "" {
			kind = model.UpdateContentEdit
		}
		h.engine.RecordUpdate(model.Update{
			Kind:       kind,
			EntityKind: step.EntityKind,
			EntityID:   step.EntityID,
			ActorID:    step.Actor,
			Operation: model.Operation{
				Kind:     model.OpReplace,
				Path:     step.Path,
				NewValue: value,
			},
		})
		return nil

	case OpStartSession:
		h.engine.StartSession(step.EntityKind, step.EntityID, step.Path, step.Actor)
		return nil

	case OpHeartbeat:
		h.engine.Heartbeat(step.Session, step.Content, step.Cursor)
		return nil

	case OpEndSession:
		h.engine.EndSession(step.Session)
		return nil

	case OpResolve:
		id := step.Conflict
		if id == "" {
			pending := h.engine.PendingConflicts()
			if len(pending) == 0 {
				return fmt.Errorf("no pending conflict to resolve")
			}
			id = pending[0].ID
		}
		payload, err := buildPayload(step)
		if err != nil {
			return err
		}
		actor := step.Actor
		if actor == "" {
			actor = model.SystemActorID
		}
		_, err = h.engine.ResolveConflict(id, model.Strategy(step.Strategy), actor, payload)
		return err

	case OpMarkRead:
		h.engine.MarkNotificationRead(step.Notification, step.Actor)
		return nil

	case OpAdvance:
		h.clock.Advance(time.Duration(step.Ms) * time.Millisecond)
		return nil

	case OpFireTimers:
		if step.ElapsedMs > 0 {
			h.scheduler.FireDue(time.Duration(step.ElapsedMs) * time.Millisecond)
		} else {
			h.scheduler.FireAll()
		}
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// buildPayload converts the step's chosen/custom values to a resolution
// payload, or nil when neither is set.
func buildPayload(step Step) (*model.ResolutionPayload, error) {
	if step.Chosen == nil && step.Custom == nil {
		return nil, nil
	}

	payload := &model.ResolutionPayload{}
	if step.Chosen != nil {
		v, err := model.ValueFromAny(step.Chosen)
		if err != nil {
			return nil, fmt.Errorf("chosen: %w", err)
		}
		payload.ChosenValue = v
		payload.HasChosenValue = true
	}
	if step.Custom != nil {
		v, err := model.ValueFromAny(step.Custom)
		if err != nil {
			return nil, fmt.Errorf("custom: %w", err)
		}
		payload.CustomValue = v
		payload.HasCustomValue = true
	}
	return payload, nil
}
