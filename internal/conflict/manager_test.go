package conflict

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
	"github.com/lanternsoft/concord/internal/testutil"
)

func newTestManager(t *testing.T, window time.Duration) (*Manager, *bus.Bus, *testutil.ManualClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	clk := testutil.NewManualClock()
	return NewManager(b, clk, ids.NewFixedGenerator("conflict"), window, logger), b, clk
}

func titleEdit(seq int64, actor string, at time.Time, val model.Value) *model.Update {
	return &model.Update{
		ID:         ids.UpdateID(seq, at),
		Kind:       model.UpdateContentEdit,
		EntityKind: "document",
		EntityID:   "doc-1",
		ActorID:    actor,
		Timestamp:  at,
		Seq:        seq,
		Operation:  model.Operation{Kind: model.OpReplace, Path: "title", NewValue: val},
	}
}

func TestObserve_DetectsConcurrentEdit(t *testing.T) {
	m, b, _ := newTestManager(t, 5*time.Second)

	var events []bus.Event
	b.Subscribe(bus.TopicConflictDetected, func(ev bus.Event) { events = append(events, ev) })

	prior := titleEdit(1, "alice", testutil.Epoch, model.String("A"))
	current := titleEdit(2, "bob", testutil.Epoch.Add(time.Second), model.String("B"))

	c := m.Observe(current, []*model.Update{current, prior})
	require.NotNil(t, c)

	assert.Equal(t, "conflict-1", c.ID)
	assert.Equal(t, model.ConflictPending, c.State)
	assert.Equal(t, "title", c.Path)
	require.Len(t, c.Members, 2)
	assert.Same(t, prior, c.Members[0])
	assert.Same(t, current, c.Members[1])
	assert.True(t, prior.Conflicted)
	assert.True(t, current.Conflicted)
	require.Len(t, events, 1)
}

func TestObserve_WindowBoundaryIsExclusive(t *testing.T) {
	m, _, _ := newTestManager(t, 5*time.Second)

	prior := titleEdit(1, "alice", testutil.Epoch, model.String("A"))
	atBoundary := titleEdit(2, "bob", testutil.Epoch.Add(5*time.Second), model.String("B"))
	justInside := titleEdit(3, "bob", testutil.Epoch.Add(5*time.Second-time.Millisecond), model.String("B"))

	assert.Nil(t, m.Observe(atBoundary, []*model.Update{atBoundary, prior}))
	assert.NotNil(t, m.Observe(justInside, []*model.Update{justInside, prior}))
}

func TestObserve_NoConflictCases(t *testing.T) {
	m, _, _ := newTestManager(t, 5*time.Second)

	prior := titleEdit(1, "alice", testutil.Epoch, model.String("A"))

	sameActor := titleEdit(2, "alice", testutil.Epoch.Add(time.Second), model.String("A2"))
	assert.Nil(t, m.Observe(sameActor, []*model.Update{sameActor, prior}))

	otherPath := titleEdit(3, "bob", testutil.Epoch.Add(time.Second), model.String("B"))
	otherPath.Operation.Path = "body"
	assert.Nil(t, m.Observe(otherPath, []*model.Update{otherPath, prior}))

	otherEntity := titleEdit(4, "bob", testutil.Epoch.Add(time.Second), model.String("B"))
	otherEntity.EntityID = "doc-2"
	assert.Nil(t, m.Observe(otherEntity, []*model.Update{otherEntity, prior}))
}

func TestObserve_SkipsResolvedMembers(t *testing.T) {
	m, _, _ := newTestManager(t, 5*time.Second)

	prior := titleEdit(1, "alice", testutil.Epoch, model.String("A"))
	prior.Resolved = true
	current := titleEdit(2, "bob", testutil.Epoch.Add(time.Second), model.String("B"))

	assert.Nil(t, m.Observe(current, []*model.Update{current, prior}))
}

func TestObserve_LatestPerActorBecomesMember(t *testing.T) {
	m, _, _ := newTestManager(t, 5*time.Second)

	older := titleEdit(1, "alice", testutil.Epoch, model.String("A1"))
	newer := titleEdit(2, "alice", testutil.Epoch.Add(time.Second), model.String("A2"))
	current := titleEdit(3, "bob", testutil.Epoch.Add(2*time.Second), model.String("B"))

	c := m.Observe(current, []*model.Update{current, newer, older})
	require.NotNil(t, c)
	require.Len(t, c.Members, 2)
	assert.Same(t, newer, c.Members[0])
	assert.Same(t, current, c.Members[1])
	assert.False(t, older.Conflicted)
}

func TestObserve_ThreeActorMembersSorted(t *testing.T) {
	m, _, _ := newTestManager(t, 5*time.Second)

	a := titleEdit(1, "alice", testutil.Epoch, model.String("A"))
	b := titleEdit(2, "bob", testutil.Epoch.Add(time.Second), model.String("B"))
	c := titleEdit(3, "carol", testutil.Epoch.Add(2*time.Second), model.String("C"))

	detected := m.Observe(c, []*model.Update{c, b, a})
	require.NotNil(t, detected)
	require.Len(t, detected.Members, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, detected.ActorIDs())
}

func detectOne(t *testing.T, m *Manager, values ...model.Value) *model.Conflict {
	t.Helper()
	require.NotEmpty(t, values)

	actors := []string{"alice", "bob", "carol", "dave"}
	log := make([]*model.Update, 0, len(values))
	var latest *model.Update
	for i, v := range values {
		u := titleEdit(int64(i+1), actors[i], testutil.Epoch.Add(time.Duration(i)*time.Second), v)
		log = append([]*model.Update{u}, log...)
		latest = u
	}
	c := m.Observe(latest, log)
	require.NotNil(t, c)
	return c
}

func TestResolve_LastWriterWins(t *testing.T) {
	m, b, clk := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	resolved := 0
	b.Subscribe(bus.TopicConflictResolved, func(bus.Event) { resolved++ })

	clk.Advance(10 * time.Second)
	got, changed, err := m.Resolve(c.ID, model.LastWriterWins, "alice", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, model.ConflictResolved, got.State)
	assert.Equal(t, model.String("B"), got.FinalValue)
	assert.Equal(t, "alice", got.ResolvedBy)
	assert.Equal(t, testutil.Epoch.Add(10*time.Second), got.ResolvedAt)
	assert.Equal(t, 1, resolved)
	for _, member := range got.Members {
		assert.True(t, member.Resolved)
	}
}

func TestResolve_LastWriterWinsThreeMembers(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)

	// Detection appends the triggering update last, so the member slice
	// is not timestamp-ordered by construction: carol's edit lands
	// between alice's and bob's but arrives at the detector last.
	alice := titleEdit(1, "alice", testutil.Epoch, model.String("A"))
	bob := titleEdit(2, "bob", testutil.Epoch.Add(2*time.Second), model.String("B"))
	carol := titleEdit(3, "carol", testutil.Epoch.Add(time.Second), model.String("C"))

	c := m.Observe(carol, []*model.Update{carol, bob, alice})
	require.NotNil(t, c)
	require.Len(t, c.Members, 3)
	assert.Same(t, carol, c.Members[2])

	got, changed, err := m.Resolve(c.ID, model.LastWriterWins, "alice", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	// Bob's edit has the maximum timestamp even though carol's was the
	// trigger, so bob's value wins.
	assert.Equal(t, model.String("B"), got.FinalValue)
}

func TestResolve_FirstWriterWins(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	got, changed, err := m.Resolve(c.ID, model.FirstWriterWins, "bob", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.String("A"), got.FinalValue)
}

func TestResolve_MergeChangesShallowMergesMaps(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m,
		model.Map{"title": model.String("Old"), "tags": model.String("draft")},
		model.Map{"title": model.String("New")},
	)

	got, changed, err := m.Resolve(c.ID, model.MergeChanges, "alice", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.Map{
		"title": model.String("New"),
		"tags":  model.String("draft"),
	}, got.FinalValue)
}

func TestResolve_MergeChangesScalarFallsBackToLatest(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	got, _, err := m.Resolve(c.ID, model.MergeChanges, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, model.String("B"), got.FinalValue)
}

func TestResolve_UserChoice(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	payload := &model.ResolutionPayload{ChosenValue: model.String("compromise"), HasChosenValue: true}
	got, changed, err := m.Resolve(c.ID, model.UserChoice, "carol", payload)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.String("compromise"), got.FinalValue)
}

func TestResolve_UserChoiceWithoutChoiceFails(t *testing.T) {
	m, b, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	resolved := 0
	b.Subscribe(bus.TopicConflictResolved, func(bus.Event) { resolved++ })

	_, changed, err := m.Resolve(c.ID, model.UserChoice, "carol", nil)
	require.Error(t, err)
	assert.True(t, IsMissingChoice(err))
	assert.False(t, changed)

	// The conflict stays PENDING and untouched.
	assert.Equal(t, model.ConflictPending, m.Get(c.ID).State)
	assert.Equal(t, 0, resolved)
}

func TestResolve_CustomResolution(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)

	c := detectOne(t, m, model.String("A"), model.String("B"))
	payload := &model.ResolutionPayload{CustomValue: model.Int(42), HasCustomValue: true}
	got, _, err := m.Resolve(c.ID, model.CustomResolution, "alice", payload)
	require.NoError(t, err)
	assert.Equal(t, model.Int(42), got.FinalValue)

	// Without a custom value the earliest member wins.
	c2 := detectOne(t, m, model.String("C"), model.String("D"))
	got, _, err = m.Resolve(c2.ID, model.CustomResolution, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, model.String("C"), got.FinalValue)
}

func TestResolve_UnknownStrategyFails(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	_, changed, err := m.Resolve(c.ID, "coin_flip", "alice", nil)
	require.Error(t, err)
	assert.False(t, changed)

	var unknown *UnknownStrategyError
	assert.ErrorAs(t, err, &unknown)
}

func TestResolve_IsIdempotent(t *testing.T) {
	m, b, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	resolved := 0
	b.Subscribe(bus.TopicConflictResolved, func(bus.Event) { resolved++ })

	first, changed, err := m.Resolve(c.ID, model.LastWriterWins, "alice", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// A second resolve under a different strategy changes nothing.
	second, changed, err := m.Resolve(c.ID, model.FirstWriterWins, "bob", nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, first, second)
	assert.Equal(t, model.LastWriterWins, second.Strategy)
	assert.Equal(t, "alice", second.ResolvedBy)
	assert.Equal(t, 1, resolved)
}

func TestResolve_UnknownIDIsSilentNoOp(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)

	got, changed, err := m.Resolve("ghost", model.LastWriterWins, "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, changed)
}

func TestPreview_DoesNotMutate(t *testing.T) {
	m, b, _ := newTestManager(t, time.Minute)
	c := detectOne(t, m, model.String("A"), model.String("B"))

	resolved := 0
	b.Subscribe(bus.TopicConflictResolved, func(bus.Event) { resolved++ })

	v, err := m.Preview(c.ID, model.LastWriterWins, nil)
	require.NoError(t, err)
	assert.Equal(t, model.String("B"), v)

	assert.Equal(t, model.ConflictPending, m.Get(c.ID).State)
	assert.Nil(t, m.Get(c.ID).FinalValue)
	assert.Equal(t, 0, resolved)

	v, err = m.Preview("ghost", model.LastWriterWins, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPendingAndAll(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)

	first := detectOne(t, m, model.String("A"), model.String("B"))
	second := detectOne(t, m, model.String("C"), model.String("D"))

	assert.Len(t, m.Pending(), 2)
	assert.Len(t, m.All(), 2)

	_, _, err := m.Resolve(first.ID, model.LastWriterWins, "alice", nil)
	require.NoError(t, err)

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
	// Resolved conflicts stay around for audit.
	assert.Len(t, m.All(), 2)
}

func TestDefaultWindow(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	assert.Equal(t, DefaultWindow, m.Window())
}
