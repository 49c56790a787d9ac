package timeutil

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 5, 7, 456_000_000, time.UTC)
	if got := FormatTime(&ts); got != "09:05:07.45" {
		t.Errorf("FormatTime() = %q, want %q", got, "09:05:07.45")
	}

	afternoon := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	if got := FormatTime(&afternoon); got != "17:00:00.00" {
		t.Errorf("FormatTime() = %q, want %q", got, "17:00:00.00")
	}
}

func TestFormatTime_Absent(t *testing.T) {
	if got := FormatTime(nil); got != TimePlaceholder {
		t.Errorf("FormatTime(nil) = %q, want %q", got, TimePlaceholder)
	}
	var zero time.Time
	if got := FormatTime(&zero); got != TimePlaceholder {
		t.Errorf("FormatTime(zero) = %q, want %q", got, TimePlaceholder)
	}
}

func TestFormatTimeIn(t *testing.T) {
	loc := time.FixedZone("AEST", 10*3600)
	ts := time.Date(2026, 3, 14, 0, 30, 0, 0, time.UTC)
	if got := FormatTimeIn(&ts, loc); got != "10:30:00.00" {
		t.Errorf("FormatTimeIn() = %q, want %q", got, "10:30:00.00")
	}
}

func TestComputeDuration(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	if got := ComputeDuration(&start, &end); got != 90*time.Second {
		t.Errorf("ComputeDuration() = %v, want %v", got, 90*time.Second)
	}
}

func TestComputeDuration_Invalid(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	before := start.Add(-time.Second)

	if got := ComputeDuration(&start, &before); got != Invalid {
		t.Errorf("ComputeDuration(end < start) = %v, want Invalid", got)
	}
	if got := ComputeDuration(nil, &start); got != Invalid {
		t.Errorf("ComputeDuration(nil start) = %v, want Invalid", got)
	}
	if got := ComputeDuration(&start, nil); got != Invalid {
		t.Errorf("ComputeDuration(nil end) = %v, want Invalid", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00.00"},
		{90 * time.Second, "01:30.00"},
		{59*time.Minute + 59*time.Second + 990*time.Millisecond, "59:59.99"},
		{time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond, "01:02:03.04"},
		{12*time.Hour + 5*time.Millisecond, "12:00:00.00"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestFormatDuration_Placeholder(t *testing.T) {
	if got := FormatDuration(Invalid); got != DurationPlaceholder {
		t.Errorf("FormatDuration(Invalid) = %q, want %q", got, DurationPlaceholder)
	}
	if got := FormatDuration(-time.Second); got != DurationPlaceholder {
		t.Errorf("FormatDuration(negative) = %q, want %q", got, DurationPlaceholder)
	}
}

func TestZeroDurationRoundTrip(t *testing.T) {
	now := time.Now()
	if got := FormatDuration(ComputeDuration(&now, &now)); got != "00:00.00" {
		t.Errorf("zero duration round trip = %q, want %q", got, "00:00.00")
	}
}

func TestFormatElapsed(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if got := FormatElapsed(&start, start.Add(125*time.Second)); got != "2m 5s" {
		t.Errorf("FormatElapsed() = %q, want %q", got, "2m 5s")
	}
	if got := FormatElapsed(&start, start.Add(-time.Minute)); got != "0m 0s" {
		t.Errorf("FormatElapsed(skew) = %q, want %q", got, "0m 0s")
	}
	if got := FormatElapsed(nil, start); got != "" {
		t.Errorf("FormatElapsed(nil) = %q, want empty", got)
	}
}
