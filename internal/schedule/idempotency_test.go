package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unveil/guest-messaging/internal/schedule"
)

func TestIdempotencyKey_StableAndOrderInsensitive(t *testing.T) {
	a := schedule.IdempotencyKey("ev1", []string{"g1", "g2", "g3"}, "hello", "2025-06-15 14:00", "America/Denver")
	b := schedule.IdempotencyKey("ev1", []string{"g3", "g1", "g2"}, "hello", "2025-06-15 14:00", "America/Denver")
	require.Equal(t, a, b)

	// Same again on a fresh call.
	c := schedule.IdempotencyKey("ev1", []string{"g1", "g2", "g3"}, "hello", "2025-06-15 14:00", "America/Denver")
	require.Equal(t, a, c)
}

func TestIdempotencyKey_TrimsContent(t *testing.T) {
	a := schedule.IdempotencyKey("ev1", []string{"g1"}, "hello", "2025-06-15 14:00", "UTC")
	b := schedule.IdempotencyKey("ev1", []string{"g1"}, "  hello \n", "2025-06-15 14:00", "UTC")
	require.Equal(t, a, b)
}

func TestIdempotencyKey_SensitiveToEveryField(t *testing.T) {
	base := schedule.IdempotencyKey("ev1", []string{"g1", "g2"}, "hello", "2025-06-15 14:00", "UTC")

	require.NotEqual(t, base,
		schedule.IdempotencyKey("ev2", []string{"g1", "g2"}, "hello", "2025-06-15 14:00", "UTC"))
	require.NotEqual(t, base,
		schedule.IdempotencyKey("ev1", []string{"g1"}, "hello", "2025-06-15 14:00", "UTC"))
	require.NotEqual(t, base,
		schedule.IdempotencyKey("ev1", []string{"g1", "g2"}, "hello!", "2025-06-15 14:00", "UTC"))
	require.NotEqual(t, base,
		schedule.IdempotencyKey("ev1", []string{"g1", "g2"}, "hello", "2025-06-15 15:00", "UTC"))
	require.NotEqual(t, base,
		schedule.IdempotencyKey("ev1", []string{"g1", "g2"}, "hello", "2025-06-15 14:00", "America/Denver"))
}

func TestIdempotencyKey_FieldBoundaries(t *testing.T) {
	// Content bleeding into the recipient list must not collide.
	a := schedule.IdempotencyKey("ev1", []string{"g1,g2"}, "x", "2025-06-15 14:00", "UTC")
	b := schedule.IdempotencyKey("ev1", []string{"g1", "g2"}, "x", "2025-06-15 14:00", "UTC")
	require.NotEqual(t, a, b)
}
