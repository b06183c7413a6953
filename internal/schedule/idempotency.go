package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// IdempotencyKey fingerprints a scheduling request. Two requests hash the
// same iff they target the same event and audience with the same trimmed
// content at the same local time and zone, so a client retry collapses onto
// the original row while any material change produces a new key.
func IdempotencyKey(eventID string, recipientIDs []string, content, localClock, tz string) string {
	ids := make([]string, len(recipientIDs))
	copy(ids, recipientIDs)
	sort.Strings(ids)

	h := sha256.New()
	parts := append([]string{eventID}, ids...)
	parts = append(parts, strings.TrimSpace(content), localClock, tz)
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0}) // field separator, keeps adjacent fields from bleeding
	}
	return hex.EncodeToString(h.Sum(nil))
}
