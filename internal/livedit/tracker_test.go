package livedit

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/testutil"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *bus.Bus, *testutil.ManualClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	clk := testutil.NewManualClock()
	return NewTracker(b, clk, ids.NewFixedGenerator("session"), ttl, logger), b, clk
}

func TestStartSession(t *testing.T) {
	tr, b, _ := newTestTracker(t, time.Minute)

	started := 0
	b.Subscribe(bus.TopicSessionStarted, func(bus.Event) { started++ })

	s := tr.StartSession("document", "doc-1", "title", "alice")

	assert.Equal(t, "session-1", s.ID)
	assert.True(t, s.Active)
	assert.Equal(t, testutil.Epoch, s.StartedAt)
	assert.Equal(t, testutil.Epoch, s.LastHeartbeatAt)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.True(t, tr.IsBeingEdited("document", "doc-1", "title"))
}

func TestStartSession_ReusesActiveSlot(t *testing.T) {
	tr, _, clk := newTestTracker(t, time.Minute)

	first := tr.StartSession("document", "doc-1", "title", "alice")
	clk.Advance(10 * time.Second)
	second := tr.StartSession("document", "doc-1", "title", "alice")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Equal(t, testutil.Epoch.Add(10*time.Second), second.LastHeartbeatAt)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestStartSession_DistinctTuplesGetDistinctSessions(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)

	a := tr.StartSession("document", "doc-1", "title", "alice")
	b := tr.StartSession("document", "doc-1", "title", "bob")
	c := tr.StartSession("document", "doc-1", "body", "alice")

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 3, tr.ActiveCount())
}

func TestHeartbeat(t *testing.T) {
	tr, b, clk := newTestTracker(t, time.Minute)
	s := tr.StartSession("document", "doc-1", "title", "alice")

	updated := 0
	b.Subscribe(bus.TopicSessionUpdated, func(bus.Event) { updated++ })

	clk.Advance(5 * time.Second)
	content := "Draft title"
	cursor := 11
	got := tr.Heartbeat(s.ID, &content, &cursor)

	require.NotNil(t, got)
	assert.Equal(t, testutil.Epoch.Add(5*time.Second), got.LastHeartbeatAt)
	assert.Equal(t, "Draft title", got.DraftContent)
	assert.Equal(t, 11, got.CursorPosition)
	assert.True(t, got.HasCursor)
	assert.Equal(t, 1, updated)
}

func TestHeartbeat_NilFieldsKeepState(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)
	s := tr.StartSession("document", "doc-1", "title", "alice")

	content := "Draft"
	cursor := 3
	tr.Heartbeat(s.ID, &content, &cursor)

	got := tr.Heartbeat(s.ID, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, "Draft", got.DraftContent)
	assert.Equal(t, 3, got.CursorPosition)
}

func TestHeartbeat_UnknownOrEndedIsNoOp(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)

	assert.Nil(t, tr.Heartbeat("ghost", nil, nil))

	s := tr.StartSession("document", "doc-1", "title", "alice")
	tr.EndSession(s.ID)
	assert.Nil(t, tr.Heartbeat(s.ID, nil, nil))
}

func TestEndSession(t *testing.T) {
	tr, b, _ := newTestTracker(t, time.Minute)
	s := tr.StartSession("document", "doc-1", "title", "alice")

	ended := 0
	b.Subscribe(bus.TopicSessionEnded, func(bus.Event) { ended++ })

	got := tr.EndSession(s.ID)
	require.NotNil(t, got)
	assert.False(t, got.Active)
	assert.Equal(t, 0, tr.ActiveCount())
	assert.False(t, tr.IsBeingEdited("document", "doc-1", "title"))
	assert.Equal(t, 1, ended)

	// The record survives for lookup; ending again is a no-op.
	assert.NotNil(t, tr.Get(s.ID))
	assert.Nil(t, tr.EndSession(s.ID))
	assert.Equal(t, 1, ended)
}

func TestEndSession_FreesSlotForRestart(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)

	first := tr.StartSession("document", "doc-1", "title", "alice")
	tr.EndSession(first.ID)
	second := tr.StartSession("document", "doc-1", "title", "alice")

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestEndSessionsFor(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)

	tr.StartSession("document", "doc-1", "title", "alice")
	tr.StartSession("document", "doc-1", "body", "alice")
	tr.StartSession("document", "doc-1", "title", "bob")

	ended := tr.EndSessionsFor("alice")
	assert.Len(t, ended, 2)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.True(t, tr.IsBeingEdited("document", "doc-1", "title"))
	assert.False(t, tr.IsBeingEdited("document", "doc-1", "body"))

	assert.Empty(t, tr.EndSessionsFor("ghost"))
}

func TestSweepStale(t *testing.T) {
	tr, _, clk := newTestTracker(t, 30*time.Second)

	stale := tr.StartSession("document", "doc-1", "title", "alice")
	fresh := tr.StartSession("document", "doc-1", "body", "bob")

	clk.Advance(20 * time.Second)
	tr.Heartbeat(fresh.ID, nil, nil)
	clk.Advance(15 * time.Second)

	ended := tr.SweepStale()
	require.Len(t, ended, 1)
	assert.Equal(t, stale.ID, ended[0].ID)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestSweepStale_TTLBoundaryIsInclusive(t *testing.T) {
	tr, _, clk := newTestTracker(t, 30*time.Second)

	tr.StartSession("document", "doc-1", "title", "alice")
	clk.Advance(30 * time.Second)

	// Exactly at the TTL the session is still alive.
	assert.Empty(t, tr.SweepStale())

	clk.Advance(time.Millisecond)
	assert.Len(t, tr.SweepStale(), 1)
}

func TestListActive(t *testing.T) {
	tr, _, clk := newTestTracker(t, time.Minute)

	a := tr.StartSession("document", "doc-1", "title", "alice")
	clk.Advance(time.Second)
	b := tr.StartSession("document", "doc-1", "body", "bob")
	clk.Advance(time.Second)
	tr.StartSession("task", "task-9", "status", "carol")

	all := tr.ListActive(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)

	byEntity := tr.ListActive(Filter{EntityKind: "document", EntityID: "doc-1"})
	assert.Len(t, byEntity, 2)

	byActor := tr.ListActive(Filter{ActorID: "carol"})
	require.Len(t, byActor, 1)
	assert.Equal(t, "task-9", byActor[0].EntityID)

	assert.Empty(t, tr.ListActive(Filter{Field: "missing"}))
}

func TestGetUnknownReturnsNil(t *testing.T) {
	tr, _, _ := newTestTracker(t, time.Minute)
	assert.Nil(t, tr.Get("ghost"))
}

func TestDefaultTTL(t *testing.T) {
	tr, _, _ := newTestTracker(t, 0)
	assert.Equal(t, DefaultTTL, tr.TTL())
}
