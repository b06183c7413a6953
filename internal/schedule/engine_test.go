package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/schedule"
	"github.com/unveil/guest-messaging/internal/store"
)

var frozenNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*schedule.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := schedule.NewEngine(mem, mem)
	e.Now = func() time.Time { return frozenNow }
	seedRoster(t, mem)
	return e, mem
}

func seedRoster(t *testing.T, mem *store.Memory) {
	t.Helper()
	phones := map[string]string{"g1": "+14155550101", "g2": "+14155550102", "g3": "+14155550103"}
	for id, p := range phones {
		phone := p
		require.NoError(t, mem.UpsertGuest(context.Background(), core.Guest{
			ID: id, EventID: "ev1", Phone: &phone, Tags: []string{"family"},
		}))
	}
}

func createReq(clock string) schedule.CreateRequest {
	return schedule.CreateRequest{
		EventID:     "ev1",
		Content:     "Ceremony starts soon!",
		MessageType: core.TypeAnnouncement,
		Filter:      core.RecipientFilter{Kind: core.FilterAll},
		Date:        "2025-06-01",
		Clock:       clock,
		Timezone:    "UTC",
	}
}

func TestCreate_SnapshotsRecipientsAndDefaults(t *testing.T) {
	e, _ := newEngine(t)

	sm, existing, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)
	require.False(t, existing)
	require.Equal(t, core.StatusScheduled, sm.Status)
	require.Equal(t, []string{"g1", "g2", "g3"}, sm.RecipientIDs)
	require.Equal(t, 3, sm.RecipientCount)
	require.Equal(t, int64(1), sm.Version)
	require.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), sm.SendAt)
	require.Equal(t, "2025-06-01 14:00", sm.ScheduledLocal)
	require.NotEmpty(t, sm.IdempotencyKey)
}

func TestCreate_IdempotentReplayReturnsSameRow(t *testing.T) {
	e, _ := newEngine(t)

	first, existing, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)
	require.False(t, existing)

	second, existing, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)
	require.True(t, existing)
	require.Equal(t, first.ID, second.ID)
}

func TestCreate_DifferentContentIsANewSchedule(t *testing.T) {
	e, mem := newEngine(t)

	req := createReq("14:00")
	_, _, err := e.Create(context.Background(), req)
	require.NoError(t, err)

	req.Content = "Different text"
	sm, existing, err := e.Create(context.Background(), req)
	require.NoError(t, err)
	require.False(t, existing)
	require.NotEmpty(t, sm.ID)

	items, err := mem.ListScheduledByEvent(context.Background(), "ev1")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestCreate_LeadTimeTooShort(t *testing.T) {
	e, mem := newEngine(t)

	// now is 12:00; 12:04 is inside the 5 minute minimum lead.
	_, _, err := e.Create(context.Background(), createReq("12:04"))
	require.ErrorIs(t, err, core.ErrLeadTimeTooShort)

	items, err := mem.ListScheduledByEvent(context.Background(), "ev1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCreate_RejectsBeforePersisting(t *testing.T) {
	e, mem := newEngine(t)

	req := createReq("14:00")
	req.Content = "   "
	_, _, err := e.Create(context.Background(), req)
	require.ErrorIs(t, err, core.ErrEmptyContent)

	req = createReq("14:00")
	req.Timezone = "Not/AZone"
	_, _, err = e.Create(context.Background(), req)
	require.ErrorIs(t, err, core.ErrInvalidTimezone)

	// Spring-forward gap: no side effects either.
	req = schedule.CreateRequest{
		EventID: "ev1", Content: "x", Filter: core.RecipientFilter{Kind: core.FilterAll},
		Date: "2025-03-09", Clock: "02:30", Timezone: "America/Denver",
	}
	_, _, err = e.Create(context.Background(), req)
	require.ErrorIs(t, err, core.ErrInvalidWallClock)

	items, err := mem.ListScheduledByEvent(context.Background(), "ev1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestModify_BumpsCountersAndReresolves(t *testing.T) {
	e, mem := newEngine(t)

	sm, _, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)

	// Narrow the audience to one explicit guest.
	filter := core.RecipientFilter{Kind: core.FilterExplicit, GuestIDs: []string{"g2"}}
	got, err := e.Modify(context.Background(), sm.ID, schedule.ModifyRequest{Filter: &filter})
	require.NoError(t, err)
	require.Equal(t, 1, got.ModificationCount)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, []string{"g2"}, got.RecipientIDs)
	require.Equal(t, 1, got.RecipientCount)

	stored, err := mem.GetScheduled(context.Background(), sm.ID)
	require.NoError(t, err)
	require.Equal(t, got.Version, stored.Version)
}

func TestModify_TimeChangeRevalidatesLeadTime(t *testing.T) {
	e, _ := newEngine(t)

	sm, _, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)

	clock := "12:03"
	_, err = e.Modify(context.Background(), sm.ID, schedule.ModifyRequest{Clock: &clock})
	require.ErrorIs(t, err, core.ErrLeadTimeTooShort)
}

func TestModifyAndCancel_InsideFreezeWindow(t *testing.T) {
	e, _ := newEngine(t)

	sm, _, err := e.Create(context.Background(), createReq("12:30"))
	require.NoError(t, err)

	e.Now = func() time.Time { return frozenNow.Add(25 * time.Minute) } // 12:25, send in 5m

	content := "edited"
	_, err = e.Modify(context.Background(), sm.ID, schedule.ModifyRequest{Content: &content})
	require.ErrorIs(t, err, core.ErrTooCloseToSend)

	_, err = e.Cancel(context.Background(), sm.ID)
	require.ErrorIs(t, err, core.ErrTooCloseToSend)
}

func TestCancel_ThenTerminalGuards(t *testing.T) {
	e, _ := newEngine(t)

	sm, _, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)

	got, err := e.Cancel(context.Background(), sm.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCancelled, got.Status)

	// No resurrecting a cancelled message.
	_, err = e.Cancel(context.Background(), sm.ID)
	require.ErrorIs(t, err, core.ErrAlreadyTerminal)

	content := "edited"
	_, err = e.Modify(context.Background(), sm.ID, schedule.ModifyRequest{Content: &content})
	require.ErrorIs(t, err, core.ErrAlreadyTerminal)
}

func TestModify_RejectedWhileSending(t *testing.T) {
	e, mem := newEngine(t)

	sm, _, err := e.Create(context.Background(), createReq("14:00"))
	require.NoError(t, err)

	won, err := mem.ClaimScheduled(context.Background(), sm.ID, sm.Version)
	require.NoError(t, err)
	require.True(t, won)

	content := "edited"
	_, err = e.Modify(context.Background(), sm.ID, schedule.ModifyRequest{Content: &content})
	require.ErrorIs(t, err, core.ErrTooCloseToSend)
}

func TestModify_NotFound(t *testing.T) {
	e, _ := newEngine(t)
	content := "x"
	_, err := e.Modify(context.Background(), "nope", schedule.ModifyRequest{Content: &content})
	require.ErrorIs(t, err, core.ErrNotFound)
}
