// Package race enforces the rider state machine for one race. Every accepted
// operator action is journaled locally, applied to the registry at once and
// pushed to the remote store.
package race

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/backup"
	"timing-backend/internal/importer"
	"timing-backend/internal/models"
	"timing-backend/internal/registry"
	"timing-backend/internal/timeutil"
)

// Pusher sends rider writes to the remote store. Both calls report whether
// the write was queued for later delivery.
type Pusher interface {
	PushCreate(ctx context.Context, rider models.Rider) bool
	PushUpdate(ctx context.Context, raceID, riderNumber, id string, patch models.Patch) bool
}

type Controller struct {
	raceID string
	reg    *registry.Registry
	push   Pusher
	log    *backup.Log
	clock  clockwork.Clock

	// mu serializes operator actions so guards and writes see one order.
	mu          sync.Mutex
	captures    []models.PendingFinishCapture
	lastStarted *models.Rider
}

func NewController(raceID string, reg *registry.Registry, push Pusher, journal *backup.Log, clock clockwork.Clock) *Controller {
	return &Controller{
		raceID: raceID,
		reg:    reg,
		push:   push,
		log:    journal,
		clock:  clock,
	}
}

func (c *Controller) RaceID() string {
	return c.raceID
}

// SkippedRow explains why an import row was not registered.
type SkippedRow struct {
	Line   int    `json:"line"`
	Number string `json:"riderNumber"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Imported []string     `json:"imported"`
	Skipped  []SkippedRow `json:"skipped"`
}

// Import registers each row as a WAITING rider. Blank numbers, numbers
// repeated in the file and numbers already present in the race are skipped
// and reported.
func (c *Controller) Import(ctx context.Context, rows []importer.Row) ImportReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := ImportReport{Imported: []string{}, Skipped: []SkippedRow{}}
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		number := strings.TrimSpace(row.Number)
		skip := func(code, reason string) {
			report.Skipped = append(report.Skipped, SkippedRow{Line: row.Line, Number: number, Code: code, Reason: reason})
		}

		if number == "" {
			skip(ErrCodeInvalidArgument, "missing rider number")
			continue
		}
		if seen[number] {
			skip(ErrCodeDuplicateNumber, "rider number repeated in file")
			continue
		}
		seen[number] = true

		if existing, ok := c.reg.FindByNumber(number); ok {
			reason := "rider number already registered"
			if existing.Status == models.StatusFinished {
				reason = "rider has already finished; start a re-run instead"
			}
			skip(ErrCodeDuplicateNumber, reason)
			continue
		}

		rider := models.Rider{
			ID:              models.DocKey(c.raceID, number, nil),
			RaceID:          c.raceID,
			RiderNumber:     number,
			Status:          models.StatusWaiting,
			Name:            row.Name,
			Category:        row.Category,
			CALicenceNumber: row.Licence,
		}
		queued := c.push.PushCreate(ctx, rider)
		c.reg.Upsert(rider, queued)
		report.Imported = append(report.Imported, number)
	}

	log.Info().Str("race_id", c.raceID).Int("imported", len(report.Imported)).Int("skipped", len(report.Skipped)).
		Msg("Roster imported")
	return report
}

// Start puts a rider on course at the current time. An unknown number is
// created on the spot. A finished rider is only restarted when confirmRerun
// is set.
func (c *Controller) Start(ctx context.Context, number string, confirmRerun bool) (models.Rider, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return models.Rider{}, NewInvalidArgumentError("rider number is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	existing, found := c.reg.FindByNumber(number)

	var rider models.Rider
	var queued bool
	switch {
	case !found:
		rider = models.Rider{
			ID:          models.DocKey(c.raceID, number, &now),
			RaceID:      c.raceID,
			RiderNumber: number,
			Status:      models.StatusOnTrack,
			StartTime:   timeutil.Ptr(now),
			Name:        importer.DefaultName,
			Category:    importer.DefaultCategory,
		}
		queued = c.push.PushCreate(ctx, rider)
		log.Info().Str("race_id", c.raceID).Str("rider_number", number).Msg("Ad-hoc rider started")

	case existing.Status == models.StatusOnTrack:
		return existing, NewAlreadyOnTrackError(number)

	case existing.Status == models.StatusFinished && !confirmRerun:
		return existing, NewRerunConfirmationError(number)

	default:
		onTrack := models.StatusOnTrack
		patch := models.Patch{Status: &onTrack, StartTime: timeutil.Ptr(now)}
		if existing.Status == models.StatusFinished {
			patch.ClearFinish = true
			log.Info().Str("race_id", c.raceID).Str("rider_number", number).Msg("Re-run confirmed")
		}
		rider = existing
		patch.Apply(&rider)
		queued = c.push.PushUpdate(ctx, c.raceID, number, rider.ID, patch)
	}

	c.log.Append(backup.Starts, rider)
	c.reg.Upsert(rider, queued)
	started := rider.Clone()
	c.lastStarted = &started
	return rider, nil
}

// Finish records the finish of an on-track rider at the given instant.
func (c *Controller) Finish(ctx context.Context, number string, at time.Time) (models.Rider, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return models.Rider{}, NewInvalidArgumentError("rider number is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLocked(ctx, number, at)
}

// FinishNow is Finish at the current time.
func (c *Controller) FinishNow(ctx context.Context, number string) (models.Rider, error) {
	return c.Finish(ctx, number, c.clock.Now())
}

func (c *Controller) finishLocked(ctx context.Context, number string, at time.Time) (models.Rider, error) {
	existing, found := c.reg.FindByNumber(number)
	if !found || existing.Status != models.StatusOnTrack {
		return models.Rider{}, NewNotOnTrackError(number)
	}

	finished := models.StatusFinished
	raceTime := timeutil.FormatDuration(timeutil.ComputeDuration(existing.StartTime, &at))
	patch := models.Patch{Status: &finished, FinishTime: timeutil.Ptr(at), RaceTime: &raceTime}

	rider := existing
	patch.Apply(&rider)
	queued := c.push.PushUpdate(ctx, c.raceID, number, rider.ID, patch)

	c.log.Append(backup.Finishes, rider)
	c.reg.Upsert(rider, queued)
	log.Info().Str("race_id", c.raceID).Str("rider_number", number).Str("race_time", raceTime).Msg("Rider finished")
	return rider, nil
}

// LastStarted returns the most recent rider started through this controller.
func (c *Controller) LastStarted() (models.Rider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastStarted == nil {
		return models.Rider{}, false
	}
	return c.lastStarted.Clone(), true
}
