package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conflictScenario = `
name: two-actor-conflict
description: Two actors collide on the same field
collaborators:
  - id: alice
    name: Alice
  - id: bob
    name: Bob
steps:
  - op: record_update
    actor: alice
    entity_kind: document
    entity_id: doc-1
    path: title
    value: A
  - op: record_update
    actor: bob
    entity_kind: document
    entity_id: doc-1
    path: title
    value: B
assertions:
  - type: trace_count
    event: conflict-detected
    count: 1
`

func TestSimulate_PrintsTraceAndState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(conflictScenario), 0644))

	out, err := execute(t, "simulate", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: two-actor-conflict")
	assert.Contains(t, out, "conflict-detected")
	assert.Contains(t, out, "pending_conflicts: 1")
	assert.Contains(t, out, "✓ All assertions passed")
}

func TestSimulate_JSONOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(conflictScenario), 0644))

	out, err := execute(t, "--format", "json", "simulate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
	assert.Contains(t, out, `"event": "conflict-detected"`)
}

func TestSimulate_ArchivePersistsRunHistory(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "conflict.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, []byte(conflictScenario), 0644))
	dbPath := filepath.Join(dir, "history.db")

	_, err := execute(t, "simulate", scenarioPath, "--archive", dbPath)
	require.NoError(t, err)

	// The archived run is readable back through trace.
	out, err := execute(t, "trace", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "update_1_1717243200000")
	assert.Contains(t, out, "update_2_1717243200000")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "conflict on title between 2 actors")
}

func TestSimulate_ScenarioNotFound(t *testing.T) {
	_, err := execute(t, "simulate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_FailedAssertionsExitCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0644))

	out, err := execute(t, "simulate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Assertions failed")
}
