package history_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/history"
)

func scheduled(id, status string, sendAt, createdAt time.Time) core.ScheduledMessage {
	return core.ScheduledMessage{
		ID: id, EventID: "ev1", Content: "x", Status: status,
		SendAt: sendAt, CreatedAt: createdAt,
	}
}

func realized(id, scheduledID string, sentAt time.Time) core.Message {
	m := core.Message{ID: id, EventID: "ev1", Content: "x", CreatedAt: sentAt, SentAt: &sentAt}
	if scheduledID != "" {
		m.ScheduledMessageID = &scheduledID
	}
	return m
}

func TestReconcile_DispatchedScheduleAppearsOnce(t *testing.T) {
	sm := scheduled("s1", core.StatusSent, t0, t0.Add(-time.Hour))
	m := realized("m1", "s1", t0)

	items := history.Reconcile([]core.Message{m}, []core.ScheduledMessage{sm})
	require.Len(t, items, 1)
	require.Equal(t, "message", items[0].Kind)
	require.Equal(t, "m1", items[0].Message.ID)
}

func TestReconcile_SentWithoutRealizedRowIsKept(t *testing.T) {
	// A sent schedule whose message row has not landed yet still shows.
	sm := scheduled("s1", core.StatusSent, t0, t0.Add(-time.Hour))
	items := history.Reconcile(nil, []core.ScheduledMessage{sm})
	require.Len(t, items, 1)
	require.Equal(t, "scheduled", items[0].Kind)
}

func TestReconcile_PendingFirstSoonestFirst(t *testing.T) {
	later := scheduled("s-later", core.StatusScheduled, t0.Add(2*time.Hour), t0)
	sooner := scheduled("s-sooner", core.StatusScheduled, t0.Add(time.Hour), t0)
	m1 := realized("m1", "", t0.Add(-time.Hour))
	m2 := realized("m2", "", t0.Add(-30*time.Minute))

	items := history.Reconcile([]core.Message{m1, m2}, []core.ScheduledMessage{later, sooner})
	require.Len(t, items, 4)
	require.Equal(t, "s-sooner", items[0].Scheduled.ID)
	require.Equal(t, "s-later", items[1].Scheduled.ID)
	// Realized messages follow, newest first.
	require.Equal(t, "m2", items[2].Message.ID)
	require.Equal(t, "m1", items[3].Message.ID)
}

func TestReconcile_CancelledAndFailedSortWithHistory(t *testing.T) {
	cancelled := scheduled("s-cancelled", core.StatusCancelled, t0.Add(time.Hour), t0.Add(-10*time.Minute))
	m := realized("m1", "", t0)

	items := history.Reconcile([]core.Message{m}, []core.ScheduledMessage{cancelled})
	require.Len(t, items, 2)
	// Cancelled schedules are history, not upcoming; newest-first puts the
	// realized message ahead of it.
	require.Equal(t, "message", items[0].Kind)
	require.Equal(t, "scheduled", items[1].Kind)
}
