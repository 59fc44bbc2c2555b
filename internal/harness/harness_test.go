package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ConcurrentEditDetectsConflict(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/concurrent-title-edit.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
	assert.Equal(t, 1, result.Final["total_conflicts"])
	assert.Equal(t, 0, result.Final["pending_conflicts"])
}

func TestRun_IsolatedEditsNoConflict(t *testing.T) {
	scenario := &Scenario{
		Name:        "isolated-edits",
		Description: "Edits to different paths never conflict",
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Steps: []Step{
			{Op: OpRecordUpdate, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "title", Value: "A"},
			{Op: OpRecordUpdate, Actor: "bob", EntityKind: "document", EntityID: "doc-1", Path: "body", Value: "B"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: "conflict-detected", Count: 0},
			{Type: AssertFinalState, Expect: map[string]int{"total_conflicts": 0, "updates": 2}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestRun_WindowBoundaryExcluded(t *testing.T) {
	// Delta exactly equal to the window must not conflict: the window is
	// a half-open interval.
	scenario := &Scenario{
		Name:        "window-boundary",
		Description: "Updates exactly one window apart do not conflict",
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Steps: []Step{
			{Op: OpRecordUpdate, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "title", Value: "A"},
			{Op: OpAdvance, Ms: 5000},
			{Op: OpRecordUpdate, Actor: "bob", EntityKind: "document", EntityID: "doc-1", Path: "title", Value: "B"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: "conflict-detected", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestRun_RemoveCollaboratorEndsSessions(t *testing.T) {
	scenario := &Scenario{
		Name:        "remove-ends-sessions",
		Description: "Removing a collaborator ends their active sessions first",
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Steps: []Step{
			{Op: OpStartSession, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "body"},
			{Op: OpRemoveCollaborator, Actor: "alice"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Events: []string{"session-started", "session-ended", "presence-changed"}},
			{Type: AssertFinalState, Expect: map[string]int{"active_sessions": 0, "collaborators": 1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestRun_StaleSessionSwept(t *testing.T) {
	scenario := &Scenario{
		Name:        "stale-session-swept",
		Description: "A session without heartbeats past the TTL is ended by the sweep",
		Config: &ScenarioConfig{
			SessionTTLMs: intp(30000),
		},
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
		},
		Steps: []Step{
			{Op: OpStartSession, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "body"},
			{Op: OpAdvance, Ms: 31000},
			{Op: OpFireTimers},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: "session-ended", Count: 1},
			{Type: AssertFinalState, Expect: map[string]int{"active_sessions": 0}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestRun_UserChoiceWithoutChoiceFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "user-choice-missing",
		Description: "user_choice without a chosen value is a step error",
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Steps: []Step{
			{Op: OpRecordUpdate, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "title", Value: "A"},
			{Op: OpRecordUpdate, Actor: "bob", EntityKind: "document", EntityID: "doc-1", Path: "title", Value: "B"},
			{Op: OpResolve, Strategy: "user_choice", Actor: "alice"},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a chosen value")
}

func TestRun_MergeChanges(t *testing.T) {
	scenario := &Scenario{
		Name:        "merge-structured",
		Description: "merge_changes shallow-merges structured values",
		Collaborators: []CollaboratorSpec{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
		},
		Steps: []Step{
			{Op: OpRecordUpdate, Actor: "alice", EntityKind: "document", EntityID: "doc-1", Path: "props",
				Value: map[string]interface{}{"a": 1}},
			{Op: OpRecordUpdate, Actor: "bob", EntityKind: "document", EntityID: "doc-1", Path: "props",
				Value: map[string]interface{}{"b": 2}},
			{Op: OpResolve, Strategy: "merge_changes", Actor: "alice"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Event: "conflict-resolved", Fields: map[string]string{"actor": "alice"}},
			{Type: AssertFinalState, Expect: map[string]int{"pending_conflicts": 0, "total_conflicts": 1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func intp(n int) *int { return &n }
