// Package results ranks finished riders and renders the results export.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"timing-backend/internal/models"
	"timing-backend/internal/timeutil"
)

// Header is the first line of every export.
var Header = []string{"Rank", "Rider Number", "Rider Name", "CA Licence", "Race Time", "Start Time", "Finish Time", "Status"}

// Entry is one ranked rider.
type Entry struct {
	Rank     int           `json:"rank"`
	Rider    models.Rider  `json:"rider"`
	Duration time.Duration `json:"-"`

	// DurationMs is nil when the duration is invalid.
	DurationMs *int64 `json:"durationMs"`
	RaceTime   string `json:"raceTime"`
}

// Rank orders finished riders by race duration, fastest first. Equal
// durations go to the earlier finish, then to rider number in string order.
// Riders without a valid duration rank last. Non-finished riders are ignored.
func Rank(riders []models.Rider) []Entry {
	entries := make([]Entry, 0, len(riders))
	for _, r := range riders {
		if r.Status != models.StatusFinished {
			continue
		}
		d := timeutil.ComputeDuration(r.StartTime, r.FinishTime)
		e := Entry{Rider: r, Duration: d, RaceTime: timeutil.FormatDuration(d)}
		if d != timeutil.Invalid {
			ms := d.Milliseconds()
			e.DurationMs = &ms
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Duration != b.Duration {
			return a.Duration < b.Duration
		}
		fa, fb := finishOf(a.Rider), finishOf(b.Rider)
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return a.Rider.RiderNumber < b.Rider.RiderNumber
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Riders returns the riders of ranked entries in rank order.
func Riders(entries []Entry) []models.Rider {
	out := make([]models.Rider, len(entries))
	for i, e := range entries {
		out[i] = e.Rider
	}
	return out
}

func finishOf(r models.Rider) time.Time {
	if r.FinishTime == nil {
		return time.Time{}
	}
	return *r.FinishTime
}

// WriteCSV writes the header and one row per entry. Clock times are
// rendered in loc; nil means each time's own location.
func WriteCSV(w io.Writer, entries []Entry, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing results header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.Itoa(e.Rank),
			e.Rider.RiderNumber,
			e.Rider.DisplayName(),
			e.Rider.CALicenceNumber,
			e.RaceTime,
			timeutil.FormatTimeIn(e.Rider.StartTime, loc),
			timeutil.FormatTimeIn(e.Rider.FinishTime, loc),
			string(e.Rider.Status),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing results row %d: %w", e.Rank, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing results: %w", err)
	}
	return nil
}

// ToCSV is WriteCSV into a string.
func ToCSV(entries []Entry, loc *time.Location) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, entries, loc); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename is the download name for a race's export.
func Filename(raceID string) string {
	name := strings.Trim(unsafeFilename.ReplaceAllString(raceID, "_"), "_")
	if name == "" {
		name = "race"
	}
	return name + "_Results.csv"
}
