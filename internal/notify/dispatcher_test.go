package notify

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
	"github.com/lanternsoft/concord/internal/testutil"
)

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *bus.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	clk := testutil.NewManualClock()
	return NewDispatcher(b, clk, ids.NewFixedGenerator("notif"), opts, logger), b
}

var docRef = model.EntityRef{Kind: "document", ID: "doc-1"}

func TestDispatch(t *testing.T) {
	d, b := newTestDispatcher(t, Options{})

	added := 0
	b.Subscribe(bus.TopicNotificationAdded, func(bus.Event) { added++ })

	n := d.Dispatch(model.NotifyMention, "alice", []string{"bob", "carol"}, docRef, "alice mentioned you", model.PriorityMedium)

	require.NotNil(t, n)
	assert.Equal(t, "notif-1", n.ID)
	assert.Equal(t, []string{"bob", "carol"}, n.Targets)
	assert.Equal(t, model.PriorityMedium, n.Priority)
	assert.Equal(t, testutil.Epoch, n.CreatedAt)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, d.Len())
}

func TestDispatch_StripsSourceFromTargets(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	n := d.Dispatch(model.NotifyMention, "alice", []string{"alice", "bob"}, docRef, "msg", model.PriorityLow)
	require.NotNil(t, n)
	assert.Equal(t, []string{"bob"}, n.Targets)
}

func TestDispatch_SystemSourceMayTargetAnyone(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	n := d.Dispatch(model.NotifyConflictDetected, model.SystemActorID, []string{model.SystemActorID, "alice"}, docRef, "msg", model.PriorityHigh)
	require.NotNil(t, n)
	assert.Equal(t, []string{model.SystemActorID, "alice"}, n.Targets)
}

func TestDispatch_DeduplicatesTargets(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	n := d.Dispatch(model.NotifyMention, "alice", []string{"bob", "bob", "carol", "bob"}, docRef, "msg", model.PriorityLow)
	require.NotNil(t, n)
	assert.Equal(t, []string{"bob", "carol"}, n.Targets)
}

func TestDispatch_EmptyTargetsDropped(t *testing.T) {
	d, b := newTestDispatcher(t, Options{})

	added := 0
	b.Subscribe(bus.TopicNotificationAdded, func(bus.Event) { added++ })

	assert.Nil(t, d.Dispatch(model.NotifyUserJoined, "alice", nil, docRef, "msg", model.PriorityLow))
	assert.Nil(t, d.Dispatch(model.NotifyUserJoined, "alice", []string{"alice"}, docRef, "msg", model.PriorityLow))
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, d.Len())
}

func TestDispatch_AllowListFilters(t *testing.T) {
	d, b := newTestDispatcher(t, Options{
		Allowed: map[model.NotificationKind]bool{model.NotifyConflictDetected: true},
	})

	added := 0
	b.Subscribe(bus.TopicNotificationAdded, func(bus.Event) { added++ })

	assert.Nil(t, d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, "msg", model.PriorityLow))
	assert.NotNil(t, d.Dispatch(model.NotifyConflictDetected, "alice", []string{"bob"}, docRef, "msg", model.PriorityHigh))
	assert.Equal(t, 1, added)
}

func TestDispatch_EmptyPriorityUsesDefaults(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{
		PriorityDefaults: map[model.NotificationKind]model.Priority{
			model.NotifyConflictDetected: model.PriorityHigh,
		},
	})

	n := d.Dispatch(model.NotifyConflictDetected, "alice", []string{"bob"}, docRef, "msg", "")
	require.NotNil(t, n)
	assert.Equal(t, model.PriorityHigh, n.Priority)

	// Kinds without a configured default fall back to low.
	n = d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, "msg", "")
	require.NotNil(t, n)
	assert.Equal(t, model.PriorityLow, n.Priority)
}

func TestDispatch_CapEvictsOldest(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{Cap: 3})

	for i := 0; i < 5; i++ {
		d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, fmt.Sprintf("msg %d", i), model.PriorityLow)
	}

	assert.Equal(t, 3, d.Len())
	recent := d.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "msg 4", recent[0].Message)
	assert.Equal(t, "msg 2", recent[2].Message)
}

func TestMarkRead(t *testing.T) {
	d, b := newTestDispatcher(t, Options{})
	n := d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, "msg", model.PriorityLow)
	require.NotNil(t, n)

	updated := 0
	b.Subscribe(bus.TopicNotificationUpdated, func(bus.Event) { updated++ })

	assert.True(t, d.MarkRead(n.ID, "bob"))
	assert.Equal(t, 1, updated)
	assert.Equal(t, 0, d.UnreadCount("bob"))

	// Repeat reads and non-targets change nothing.
	assert.False(t, d.MarkRead(n.ID, "bob"))
	assert.False(t, d.MarkRead(n.ID, "carol"))
	assert.False(t, d.MarkRead("ghost", "bob"))
	assert.Equal(t, 1, updated)
}

func TestForActorAndUnreadCount(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	first := d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, "for bob", model.PriorityLow)
	d.Dispatch(model.NotifyMention, "alice", []string{"carol"}, docRef, "for carol", model.PriorityLow)
	d.Dispatch(model.NotifyMention, "alice", []string{"bob", "carol"}, docRef, "for both", model.PriorityLow)

	forBob := d.ForActor("bob", 0)
	require.Len(t, forBob, 2)
	assert.Equal(t, "for both", forBob[0].Message)
	assert.Equal(t, "for bob", forBob[1].Message)

	assert.Len(t, d.ForActor("bob", 1), 1)
	assert.Equal(t, 2, d.UnreadCount("bob"))

	d.MarkRead(first.ID, "bob")
	assert.Equal(t, 1, d.UnreadCount("bob"))
	// Carol's read state is independent.
	assert.Equal(t, 2, d.UnreadCount("carol"))
}

func TestRecent_Limit(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	for i := 0; i < 4; i++ {
		d.Dispatch(model.NotifyMention, "alice", []string{"bob"}, docRef, fmt.Sprintf("msg %d", i), model.PriorityLow)
	}

	assert.Len(t, d.Recent(2), 2)
	assert.Len(t, d.Recent(0), 4)
	assert.Len(t, d.Recent(100), 4)
}

func TestDefaultCap(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})
	assert.Equal(t, DefaultCap, d.Cap())
}
