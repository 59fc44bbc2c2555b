package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a replayable collaboration session.
// Scenarios register collaborators, drive engine operations step by step
// with a manual clock, and assert on the resulting event trace and final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides engine defaults for this scenario.
	Config *ScenarioConfig `yaml:"config,omitempty"`

	// Collaborators are registered before the steps run.
	Collaborators []CollaboratorSpec `yaml:"collaborators"`

	// Steps drive the engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state after the last step.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig is the subset of engine configuration scenarios may
// override. Millisecond fields mirror the CUE configuration schema.
type ScenarioConfig struct {
	MaxCollaborators            *int  `yaml:"maxCollaborators,omitempty"`
	DetectionWindowMs           *int  `yaml:"detectionWindowMs,omitempty"`
	SessionTTLMs                *int  `yaml:"sessionTTLMs,omitempty"`
	SweepIntervalMs             *int  `yaml:"sweepIntervalMs,omitempty"`
	ConflictResolutionTimeoutMs *int  `yaml:"conflictResolutionTimeoutMs,omitempty"`
	UpdateLogCap                *int  `yaml:"updateLogCap,omitempty"`
	NotificationCap             *int  `yaml:"notificationCap,omitempty"`
	ActivityCap                 *int  `yaml:"activityCap,omitempty"`
	CursorsEnabled              *bool `yaml:"cursorsEnabled,omitempty"`
	ActivityFeedEnabled         *bool `yaml:"activityFeedEnabled,omitempty"`
	AutoResolveConflicts        *bool `yaml:"autoResolveConflicts,omitempty"`
}

// CollaboratorSpec declares a collaborator to register during setup.
type CollaboratorSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"`
}

// Step is one engine operation in the scenario flow.
// Op selects the operation; the remaining fields are op-specific.
type Step struct {
	// Op is one of: add_collaborator, remove_collaborator,
	// update_presence, record_update, start_session, heartbeat,
	// end_session, resolve, mark_read, advance, fire_timers.
	Op string `yaml:"op"`

	// Actor is the acting collaborator id.
	Actor string `yaml:"actor,omitempty"`

	// Name is the display name for add_collaborator.
	Name string `yaml:"name,omitempty"`

	// Role is the role for add_collaborator.
	Role string `yaml:"role,omitempty"`

	// Status is the presence status for update_presence.
	Status string `yaml:"status,omitempty"`

	// EntityKind and EntityID locate the target entity.
	EntityKind string `yaml:"entity_kind,omitempty"`
	EntityID   string `yaml:"entity_id,omitempty"`

	// Path is the field path for record_update and start_session.
	Path string `yaml:"path,omitempty"`

	// Kind is the update kind for record_update (default content_edit).
	Kind string `yaml:"kind,omitempty"`

	// Value is the new value for record_update; converted via
	// model.ValueFromAny.
	Value interface{} `yaml:"value,omitempty"`

	// Session is a session id for heartbeat and end_session. Session ids
	// come from the fixed generator, so scenarios can predict them.
	Session string `yaml:"session,omitempty"`

	// Content and Cursor carry heartbeat draft state.
	Content *string `yaml:"content,omitempty"`
	Cursor  *int    `yaml:"cursor,omitempty"`

	// Conflict names the conflict for resolve. Empty resolves the
	// earliest pending conflict.
	Conflict string `yaml:"conflict,omitempty"`

	// Strategy is the resolution strategy for resolve.
	Strategy string `yaml:"strategy,omitempty"`

	// Chosen is the chosen value for a user_choice resolution.
	Chosen interface{} `yaml:"chosen,omitempty"`

	// Custom is the custom value for a custom_resolution resolution.
	Custom interface{} `yaml:"custom,omitempty"`

	// Notification is the notification id for mark_read.
	Notification string `yaml:"notification,omitempty"`

	// Ms advances the manual clock (advance).
	Ms int `yaml:"ms,omitempty"`

	// ElapsedMs fires scheduled timers with delay <= elapsed
	// (fire_timers). Zero fires everything pending.
	ElapsedMs int `yaml:"elapsed_ms,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with matching fields appears in the trace
	// - "trace_order": events appear in order (not necessarily adjacent)
	// - "trace_count": an event appears exactly N times
	// - "final_state": final engine stats match expected values
	Type string `yaml:"type"`

	// Event is the event name (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Fields are expected trace field values, subset match
	// (trace_contains). Keys: actor, entity, path, detail.
	Fields map[string]string `yaml:"fields,omitempty"`

	// Events is the expected event order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected occurrence count (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect maps stat names to expected values (final_state). Keys:
	// collaborators, updates, pending_conflicts, total_conflicts,
	// active_sessions, notifications, activity_entries.
	Expect map[string]int `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step op constants.
const (
	OpAddCollaborator    = "add_collaborator"
	OpRemoveCollaborator = "remove_collaborator"
	OpUpdatePresence     = "update_presence"
	OpRecordUpdate       = "record_update"
	OpStartSession       = "start_session"
	OpHeartbeat          = "heartbeat"
	OpEndSession         = "end_session"
	OpResolve            = "resolve"
	OpMarkRead           = "mark_read"
	OpAdvance            = "advance"
	OpFireTimers         = "fire_timers"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, c := range s.Collaborators {
		if c.ID == "" {
			return fmt.Errorf("collaborators[%d]: id is required", i)
		}
		if c.Name == "" {
			return fmt.Errorf("collaborators[%d]: name is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, step *Step) error {
	switch step.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpAddCollaborator:
		if step.Actor == "" || step.Name == "" {
			return fmt.Errorf("steps[%d]: add_collaborator requires actor and name", index)
		}
	case OpRemoveCollaborator, OpUpdatePresence:
		if step.Actor == "" {
			return fmt.Errorf("steps[%d]: %s requires actor", index, step.Op)
		}
	case OpRecordUpdate:
		if step.Actor == "" || step.EntityKind == "" || step.EntityID == "" || step.Path == "" {
			return fmt.Errorf("steps[%d]: record_update requires actor, entity_kind, entity_id and path", index)
		}
	case OpStartSession:
		if step.Actor == "" || step.EntityKind == "" || step.EntityID == "" || step.Path == "" {
			return fmt.Errorf("steps[%d]: start_session requires actor, entity_kind, entity_id and path", index)
		}
	case OpHeartbeat, OpEndSession:
		if step.Session == "" {
			return fmt.Errorf("steps[%d]: %s requires session", index, step.Op)
		}
	case OpResolve:
		if step.Strategy == "" {
			return fmt.Errorf("steps[%d]: resolve requires strategy", index)
		}
	case OpMarkRead:
		if step.Notification == "" || step.Actor == "" {
			return fmt.Errorf("steps[%d]: mark_read requires notification and actor", index)
		}
	case OpAdvance:
		if step.Ms <= 0 {
			return fmt.Errorf("steps[%d]: advance requires positive ms", index)
		}
	case OpFireTimers:
		// elapsed_ms optional; zero fires everything
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
