package recipient

import (
	"sort"

	"github.com/unveil/guest-messaging/internal/core"
)

// Result partitions the guests matched by a filter. Contactable and the
// skipped count together cover the matched set exactly: nobody is counted
// twice and nobody is dropped silently. Skipped is surfaced so callers can
// warn the host before sending.
type Result struct {
	Contactable  []core.GuestRef
	TotalMatched int
	Skipped      int
}

// Resolve applies a recipient filter to a roster snapshot and splits the
// matched guests into contactable refs and a skipped count. Output order is
// stable: ascending by guest ID. An empty result is not an error; the caller
// decides whether to block sending on TotalMatched == 0.
func Resolve(roster []core.Guest, f core.RecipientFilter) Result {
	var res Result
	for _, g := range roster {
		if !matches(g, f) {
			continue
		}
		res.TotalMatched++
		phone, ok := contactablePhone(g)
		if !ok {
			res.Skipped++
			continue
		}
		res.Contactable = append(res.Contactable, core.GuestRef{ID: g.ID, Phone: phone})
	}
	sort.Slice(res.Contactable, func(i, j int) bool {
		return res.Contactable[i].ID < res.Contactable[j].ID
	})
	return res
}

func matches(g core.Guest, f core.RecipientFilter) bool {
	switch f.Kind {
	case core.FilterAll:
		return true
	case core.FilterTags:
		if len(f.Tags) == 0 {
			return false
		}
		have := make(map[string]bool, len(g.Tags))
		for _, t := range g.Tags {
			have[t] = true
		}
		if f.RequireAll {
			for _, t := range f.Tags {
				if !have[t] {
					return false
				}
			}
			return true
		}
		for _, t := range f.Tags {
			if have[t] {
				return true
			}
		}
		return false
	case core.FilterExplicit:
		for _, id := range f.GuestIDs {
			if id == g.ID {
				return true
			}
		}
		return false
	case core.FilterRSVP:
		status := core.RSVPAttending
		if g.Declined {
			status = core.RSVPDeclined
		}
		for _, s := range f.Statuses {
			if s == status {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// contactablePhone applies the contactability invariant: a valid phone,
// not opted out of SMS, not removed from the roster.
func contactablePhone(g core.Guest) (string, bool) {
	if g.Removed || g.OptedOutOfSMS || g.Phone == nil {
		return "", false
	}
	return NormalizePhone(*g.Phone)
}
