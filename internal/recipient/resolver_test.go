package recipient_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/recipient"
)

func ptr(s string) *string { return &s }

func guest(id string, phone *string, tags ...string) core.Guest {
	return core.Guest{ID: id, EventID: "ev1", Phone: phone, Tags: tags}
}

func TestResolveAll_PartitionsContactableAndSkipped(t *testing.T) {
	// 10 guests: 2 opted out, 1 invalid phone.
	var roster []core.Guest
	for i := 0; i < 10; i++ {
		g := guest(fmt.Sprintf("g%02d", i), ptr(fmt.Sprintf("+1415555010%d", i)))
		roster = append(roster, g)
	}
	roster[3].OptedOutOfSMS = true
	roster[7].OptedOutOfSMS = true
	roster[5].Phone = ptr("not-a-phone")

	res := recipient.Resolve(roster, core.RecipientFilter{Kind: core.FilterAll})
	require.Equal(t, 10, res.TotalMatched)
	require.Len(t, res.Contactable, 7)
	require.Equal(t, 3, res.Skipped)
	require.Equal(t, res.TotalMatched, len(res.Contactable)+res.Skipped)
}

func TestResolve_RemovedAndNilPhoneAreSkippedNotDropped(t *testing.T) {
	roster := []core.Guest{
		guest("a", ptr("+14155550100")),
		guest("b", nil),
		{ID: "c", EventID: "ev1", Phone: ptr("+14155550101"), Removed: true},
	}
	res := recipient.Resolve(roster, core.RecipientFilter{Kind: core.FilterAll})
	require.Equal(t, 3, res.TotalMatched)
	require.Len(t, res.Contactable, 1)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, "a", res.Contactable[0].ID)
}

func TestResolveTags_AnyVsAll(t *testing.T) {
	roster := []core.Guest{
		guest("a", ptr("+14155550100"), "family"),
		guest("b", ptr("+14155550101"), "friends"),
		guest("c", ptr("+14155550102"), "family", "friends"),
		guest("d", ptr("+14155550103")),
	}

	anyOf := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterTags, Tags: []string{"family", "friends"},
	})
	require.Equal(t, 3, anyOf.TotalMatched)

	allOf := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterTags, Tags: []string{"family", "friends"}, RequireAll: true,
	})
	require.Equal(t, 1, allOf.TotalMatched)
	require.Equal(t, "c", allOf.Contactable[0].ID)
}

func TestResolveExplicitSelection(t *testing.T) {
	roster := []core.Guest{
		guest("a", ptr("+14155550100")),
		guest("b", ptr("+14155550101")),
		guest("c", ptr("+14155550102")),
	}
	res := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterExplicit, GuestIDs: []string{"c", "a", "zz"},
	})
	require.Equal(t, 2, res.TotalMatched)
	require.Equal(t, "a", res.Contactable[0].ID)
	require.Equal(t, "c", res.Contactable[1].ID)
}

func TestResolveRSVP(t *testing.T) {
	roster := []core.Guest{
		guest("a", ptr("+14155550100")),
		{ID: "b", EventID: "ev1", Phone: ptr("+14155550101"), Declined: true},
	}

	attending := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterRSVP, Statuses: []string{core.RSVPAttending},
	})
	require.Equal(t, 1, attending.TotalMatched)
	require.Equal(t, "a", attending.Contactable[0].ID)

	declined := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterRSVP, Statuses: []string{core.RSVPDeclined},
	})
	require.Equal(t, 1, declined.TotalMatched)
	require.Equal(t, "b", declined.Contactable[0].ID)

	both := recipient.Resolve(roster, core.RecipientFilter{
		Kind: core.FilterRSVP, Statuses: []string{core.RSVPAttending, core.RSVPDeclined},
	})
	require.Equal(t, 2, both.TotalMatched)
}

func TestResolve_StableOrderByGuestID(t *testing.T) {
	roster := []core.Guest{
		guest("z", ptr("+14155550100")),
		guest("a", ptr("+14155550101")),
		guest("m", ptr("+14155550102")),
	}
	res := recipient.Resolve(roster, core.RecipientFilter{Kind: core.FilterAll})
	ids := make([]string, len(res.Contactable))
	for i, r := range res.Contactable {
		ids[i] = r.ID
	}
	require.True(t, sort.StringsAreSorted(ids))
}

func TestResolve_EmptyMatchIsNotAnError(t *testing.T) {
	roster := []core.Guest{guest("a", ptr("+14155550100"), "family")}
	res := recipient.Resolve(roster, core.RecipientFilter{Kind: core.FilterTags, Tags: []string{"vendors"}})
	require.Zero(t, res.TotalMatched)
	require.Empty(t, res.Contactable)
	require.Zero(t, res.Skipped)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+14155550100", "+14155550100", true},
		{"(415) 555-0100", "+14155550100", true},
		{"415.555.0100", "+14155550100", true},
		{"14155550100", "+14155550100", true},
		{"+442071838750", "+442071838750", true},
		{"not-a-phone", "", false},
		{"+0123456789", "", false},
		{"12345", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := recipient.NormalizePhone(c.in)
		require.Equal(t, c.ok, ok, "input %q", c.in)
		require.Equal(t, c.want, got, "input %q", c.in)
	}
}
