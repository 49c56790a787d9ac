// Package timeutil holds the clock and duration arithmetic shared by the race
// components. Everything here is pure.
package timeutil

import (
	"fmt"
	"math"
	"time"
)

const (
	// TimePlaceholder is rendered for an absent instant.
	TimePlaceholder = "--:--:--.--"
	// DurationPlaceholder is rendered for an absent or invalid duration.
	DurationPlaceholder = "--:--.--"
)

// Invalid is returned by ComputeDuration when the end precedes the start or
// either instant is missing. It sorts after every real duration.
const Invalid = time.Duration(math.MaxInt64)

// FormatTime renders t as HH:MM:SS.cc on a 24-hour clock in t's location.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return TimePlaceholder
	}
	return fmt.Sprintf("%s.%02d", t.Format("15:04:05"), t.Nanosecond()/int(10*time.Millisecond))
}

// FormatTimeIn is FormatTime after converting t to loc.
func FormatTimeIn(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() || loc == nil {
		return FormatTime(t)
	}
	in := t.In(loc)
	return FormatTime(&in)
}

// ComputeDuration returns end-start, or Invalid when either side is missing
// or end is before start.
func ComputeDuration(start, end *time.Time) time.Duration {
	if start == nil || end == nil || start.IsZero() || end.IsZero() {
		return Invalid
	}
	if end.Before(*start) {
		return Invalid
	}
	return end.Sub(*start)
}

// FormatDuration renders d as MM:SS.cc, or HH:MM:SS.cc from one hour up.
func FormatDuration(d time.Duration) string {
	if d == Invalid || d < 0 {
		return DurationPlaceholder
	}
	ms := d.Milliseconds()
	hours := ms / 3_600_000
	minutes := (ms / 60_000) % 60
	seconds := (ms / 1000) % 60
	centis := (ms % 1000) / 10

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%02d", hours, minutes, seconds, centis)
	}
	return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, centis)
}

// FormatElapsed renders the running time of an on-track rider as "Xm Ys".
// Clock skew that puts now before start clamps to zero.
func FormatElapsed(start *time.Time, now time.Time) string {
	if start == nil || start.IsZero() {
		return ""
	}
	diff := now.Sub(*start)
	if diff < 0 {
		diff = 0
	}
	return fmt.Sprintf("%dm %ds", int64(diff/time.Minute), int64(diff%time.Minute/time.Second))
}

// Ptr returns a pointer to a copy of t.
func Ptr(t time.Time) *time.Time {
	return &t
}
