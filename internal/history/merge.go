package history

import (
	"sort"

	"github.com/unveil/guest-messaging/internal/core"
)

// Merge folds a batch of incoming messages into an existing timeline:
// duplicates by ID are dropped, then the union is sorted by CreatedAt
// ascending with ID as the tie-break for equal-resolution clocks. The
// function is pure and idempotent — merging the same batch twice is a no-op —
// so any transport (push, polling, backfill) can feed it.
func Merge(existing, incoming []core.Message) []core.Message {
	seen := make(map[string]bool, len(existing))
	out := make([]core.Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range incoming {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
