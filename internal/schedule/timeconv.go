package schedule

import (
	"fmt"
	"time"

	"github.com/unveil/guest-messaging/internal/core"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// LocalTime is the wall-clock rendering of an instant in a given zone.
type LocalTime struct {
	Date         string `json:"date"`   // 2006-01-02
	Clock        string `json:"time"`   // 15:04
	Formatted    string `json:"formatted"`
	Abbreviation string `json:"abbreviation"`
}

// ToUTC converts a host-entered wall-clock date+time in an IANA zone to an
// absolute UTC instant. Wall clocks that do not exist (spring-forward gap)
// or occur twice (fall-back overlap) are rejected rather than silently
// resolved to one interpretation.
func ToUTC(date, clock, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" || tz == "Local" {
		return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidTimezone, tz)
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", core.ErrInvalidWallClock, date)
	}
	c, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", core.ErrInvalidWallClock, clock)
	}

	t := time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc)

	// time.Date normalizes nonexistent wall clocks by shifting them across
	// the DST gap; detect that by comparing the clock we got back.
	if t.Hour() != c.Hour() || t.Minute() != c.Minute() || t.Day() != d.Day() {
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s (DST gap)",
			core.ErrInvalidWallClock, date, clock, tz)
	}

	if ambiguous(t, loc) {
		return time.Time{}, fmt.Errorf("%w: %s %s occurs twice in %s (DST overlap)",
			core.ErrInvalidWallClock, date, clock, tz)
	}

	return t.UTC(), nil
}

// ambiguous reports whether another instant within a few hours of t renders
// to the same wall clock, which happens inside a fall-back overlap. Probes
// cover half-hour transitions (e.g. Australia/Lord_Howe) as well as the
// common one-hour shift.
func ambiguous(t time.Time, loc *time.Location) bool {
	_, off := t.Zone()
	probes := []time.Duration{
		-2 * time.Hour, -time.Hour, -30 * time.Minute,
		30 * time.Minute, time.Hour, 2 * time.Hour,
	}
	for _, p := range probes {
		alt := t.Add(p)
		_, altOff := alt.Zone()
		if altOff == off {
			continue
		}
		// Re-derive the instant that the alternate offset would assign to
		// this wall clock and check it really lands on the same clock face.
		cand := t.Add(time.Duration(off-altOff) * time.Second).In(loc)
		if cand.Equal(t) {
			continue
		}
		if cand.Year() == t.Year() && cand.Month() == t.Month() && cand.Day() == t.Day() &&
			cand.Hour() == t.Hour() && cand.Minute() == t.Minute() {
			return true
		}
	}
	return false
}

// FromUTC renders an instant as wall-clock components in the given zone.
// Display-only: the outputs are never used for comparisons.
func FromUTC(t time.Time, tz string) (LocalTime, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		return LocalTime{}, fmt.Errorf("%w: %q", core.ErrInvalidTimezone, tz)
	}
	local := t.In(loc)
	abbr, _ := local.Zone()
	return LocalTime{
		Date:         local.Format(dateLayout),
		Clock:        local.Format(clockLayout),
		Formatted:    local.Format("Mon, Jan 2 2006 at 3:04 PM MST"),
		Abbreviation: abbr,
	}, nil
}
