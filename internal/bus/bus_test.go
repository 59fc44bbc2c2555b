package bus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanternsoft/concord/internal/model"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b := newTestBus()

	var got []Event
	b.Subscribe(TopicUpdateRecorded, func(ev Event) {
		got = append(got, ev)
	})

	u := &model.Update{ID: "update_1_1"}
	b.Publish(Event{Topic: TopicUpdateRecorded, Update: u})

	assert.Len(t, got, 1)
	assert.Same(t, u, got[0].Update)
}

func TestBus_TopicIsolation(t *testing.T) {
	b := newTestBus()

	calls := 0
	b.Subscribe(TopicConflictDetected, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicUpdateRecorded})
	b.Publish(Event{Topic: TopicConflictDetected})

	assert.Equal(t, 1, calls)
}

func TestBus_DeliveryFollowsSubscriptionOrder(t *testing.T) {
	b := newTestBus()

	var order []string
	b.Subscribe(TopicPresenceChanged, func(Event) { order = append(order, "first") })
	b.Subscribe(TopicPresenceChanged, func(Event) { order = append(order, "second") })
	b.Subscribe(TopicPresenceChanged, func(Event) { order = append(order, "third") })

	b.Publish(Event{Topic: TopicPresenceChanged})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newTestBus()

	calls := 0
	id := b.Subscribe(TopicSessionStarted, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicSessionStarted})
	b.Unsubscribe(TopicSessionStarted, id)
	b.Publish(Event{Topic: TopicSessionStarted})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.HandlerCount(TopicSessionStarted))
}

func TestBus_UnsubscribeUnknownIDIsNoOp(t *testing.T) {
	b := newTestBus()
	b.Subscribe(TopicSessionEnded, func(Event) {})

	b.Unsubscribe(TopicSessionEnded, Subscription(999))

	assert.Equal(t, 1, b.HandlerCount(TopicSessionEnded))
}

func TestBus_PanickingHandlerDoesNotBlockDelivery(t *testing.T) {
	b := newTestBus()

	delivered := false
	b.Subscribe(TopicActivityAdded, func(Event) { panic("handler blew up") })
	b.Subscribe(TopicActivityAdded, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		b.Publish(Event{Topic: TopicActivityAdded})
	})
	assert.True(t, delivered)
}

func TestBus_Clear(t *testing.T) {
	b := newTestBus()

	calls := 0
	b.Subscribe(TopicNotificationAdded, func(Event) { calls++ })
	b.Subscribe(TopicNotificationUpdated, func(Event) { calls++ })

	b.Clear()
	b.Publish(Event{Topic: TopicNotificationAdded})
	b.Publish(Event{Topic: TopicNotificationUpdated})

	assert.Equal(t, 0, calls)
}

func TestTopic_String(t *testing.T) {
	tests := []struct {
		topic Topic
		want  string
	}{
		{TopicPresenceChanged, "presence-changed"},
		{TopicUpdateRecorded, "update-recorded"},
		{TopicConflictDetected, "conflict-detected"},
		{TopicConflictResolved, "conflict-resolved"},
		{TopicSessionStarted, "session-started"},
		{TopicSessionUpdated, "session-updated"},
		{TopicSessionEnded, "session-ended"},
		{TopicNotificationAdded, "notification-added"},
		{TopicNotificationUpdated, "notification-updated"},
		{TopicActivityAdded, "activity-added"},
		{Topic(0), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.topic.String())
	}
}
