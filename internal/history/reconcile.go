package history

import (
	"sort"
	"time"

	"github.com/unveil/guest-messaging/internal/core"
)

// Item is one entry of the unified history view: either a realized message
// or a still-pending (or cancelled/failed) scheduled message, never both for
// the same logical send.
type Item struct {
	Kind      string                 `json:"kind"` // message | scheduled
	Message   *core.Message          `json:"message,omitempty"`
	Scheduled *core.ScheduledMessage `json:"scheduled,omitempty"`
}

// Reconcile merges Message and ScheduledMessage rows into one timeline.
// A sent ScheduledMessage whose realized Message row exists is dropped so
// the send appears once, as the message. Ordering: pending scheduled sends
// first, soonest first; everything else newest first by sent-or-created time.
func Reconcile(messages []core.Message, scheduled []core.ScheduledMessage) []Item {
	realized := make(map[string]bool, len(messages))
	for _, m := range messages {
		if m.ScheduledMessageID != nil {
			realized[*m.ScheduledMessageID] = true
		}
	}

	var pending, rest []Item
	for i := range scheduled {
		sm := &scheduled[i]
		if sm.Status == core.StatusSent && realized[sm.ID] {
			continue
		}
		it := Item{Kind: "scheduled", Scheduled: sm}
		if sm.Status == core.StatusScheduled {
			pending = append(pending, it)
		} else {
			rest = append(rest, it)
		}
	}
	for i := range messages {
		rest = append(rest, Item{Kind: "message", Message: &messages[i]})
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Scheduled.SendAt.Before(pending[j].Scheduled.SendAt)
	})
	sort.SliceStable(rest, func(i, j int) bool {
		return itemTime(rest[i]).After(itemTime(rest[j]))
	})
	return append(pending, rest...)
}

func itemTime(it Item) time.Time {
	if it.Message != nil {
		if it.Message.SentAt != nil {
			return *it.Message.SentAt
		}
		return it.Message.CreatedAt
	}
	return it.Scheduled.CreatedAt
}
