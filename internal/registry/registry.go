// Package registry holds the canonical rider set for the joined race and
// derives the board views from it.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"timing-backend/internal/models"
	"timing-backend/internal/timeutil"
)

// DefaultHold is how long an optimistic overlay survives snapshots that
// do not yet reflect it.
const DefaultHold = 5 * time.Second

// OnTrackRider is a rider on course annotated with the running time.
type OnTrackRider struct {
	models.Rider
	Elapsed     time.Duration `json:"-"`
	ElapsedMs   int64         `json:"elapsedMs"`
	ElapsedText string        `json:"elapsedTime"`
}

type overlay struct {
	rider  models.Rider
	at     time.Time
	sticky bool
}

// Registry is safe for concurrent use. Snapshot replacement and operator
// overlays serialize on the same lock.
type Registry struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	hold     time.Duration
	riders   []models.Rider
	overlays map[string]*overlay
	onChange func()
}

func New(clock clockwork.Clock, hold time.Duration) *Registry {
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Registry{
		clock:    clock,
		hold:     hold,
		overlays: make(map[string]*overlay),
	}
}

// OnChange registers fn to run after every mutation. fn is called without
// the registry lock held.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// ReplaceAll swaps in a full snapshot. Overlays that the snapshot already
// reflects, or whose hold has lapsed, are dropped; the rest are re-applied.
func (r *Registry) ReplaceAll(riders []models.Rider) {
	next := make([]models.Rider, 0, len(riders))
	for _, rider := range riders {
		next = append(next, rider.Clone())
	}

	r.mu.Lock()
	now := r.clock.Now()
	r.riders = next
	for number, ov := range r.overlays {
		idx := r.indexFor(ov.rider)
		if idx >= 0 && reflects(r.riders[idx], ov.rider) {
			delete(r.overlays, number)
			continue
		}
		if !ov.sticky && now.Sub(ov.at) >= r.hold {
			delete(r.overlays, number)
			continue
		}
		r.apply(ov.rider, idx)
	}
	r.mu.Unlock()

	r.notify()
}

// Upsert applies an operator change immediately. A sticky overlay is kept
// until a snapshot reflects it or Release is called.
func (r *Registry) Upsert(rider models.Rider, sticky bool) {
	rider = rider.Clone()

	r.mu.Lock()
	r.overlays[rider.RiderNumber] = &overlay{rider: rider, at: r.clock.Now(), sticky: sticky}
	r.apply(rider, r.indexFor(rider))
	r.mu.Unlock()

	r.notify()
}

// Release turns every sticky overlay into a timed one starting now.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for _, ov := range r.overlays {
		if ov.sticky {
			ov.sticky = false
			ov.at = now
		}
	}
}

// Reset empties the registry for a new race.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.riders = nil
	r.overlays = make(map[string]*overlay)
	r.mu.Unlock()

	r.notify()
}

func (r *Registry) apply(rider models.Rider, idx int) {
	if idx >= 0 {
		r.riders[idx] = rider
		return
	}
	r.riders = append(r.riders, rider)
}

// indexFor must be called with r.mu held.
func (r *Registry) indexFor(rider models.Rider) int {
	if rider.ID != "" {
		for i := range r.riders {
			if r.riders[i].ID == rider.ID {
				return i
			}
		}
	}
	return r.preferred(rider.RiderNumber)
}

// preferred picks the rider record that operator actions on number refer
// to: ON_TRACK first, then WAITING, then the latest FINISHED.
func (r *Registry) preferred(number string) int {
	best := -1
	for i := range r.riders {
		if r.riders[i].RiderNumber != number {
			continue
		}
		if best < 0 || better(r.riders[i], r.riders[best]) {
			best = i
		}
	}
	return best
}

func rank(s models.Status) int {
	switch s {
	case models.StatusOnTrack:
		return 0
	case models.StatusWaiting:
		return 1
	default:
		return 2
	}
}

func better(a, b models.Rider) bool {
	if rank(a.Status) != rank(b.Status) {
		return rank(a.Status) < rank(b.Status)
	}
	return startOf(a).After(startOf(b))
}

func reflects(remote, local models.Rider) bool {
	return remote.Status == local.Status &&
		sameTime(remote.StartTime, local.StartTime) &&
		sameTime(remote.FinishTime, local.FinishTime)
}

// sameTime compares at millisecond precision. Remote stores truncate the
// local clock's nanoseconds.
func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}

func startOf(r models.Rider) time.Time {
	if r.StartTime == nil {
		return time.Time{}
	}
	return *r.StartTime
}

// FindByNumber returns the rider an operator action on number applies to.
func (r *Registry) FindByNumber(number string) (models.Rider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.preferred(number)
	if idx < 0 {
		return models.Rider{}, false
	}
	return r.riders[idx].Clone(), true
}

// All returns every rider in snapshot order.
func (r *Registry) All() []models.Rider {
	return r.filter(func(models.Rider) bool { return true })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.riders)
}

func (r *Registry) filter(keep func(models.Rider) bool) []models.Rider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Rider, 0)
	for _, rider := range r.riders {
		if keep(rider) {
			out = append(out, rider.Clone())
		}
	}
	return out
}

func (r *Registry) Waiting() []models.Rider {
	return r.filter(func(rd models.Rider) bool { return rd.Status == models.StatusWaiting })
}

func (r *Registry) Finished() []models.Rider {
	return r.filter(func(rd models.Rider) bool { return rd.Status == models.StatusFinished })
}

// OnTrack returns on-course riders, earliest start first, with elapsed time
// measured against now.
func (r *Registry) OnTrack(now time.Time) []OnTrackRider {
	riders := r.filter(func(rd models.Rider) bool { return rd.Status == models.StatusOnTrack })
	sort.SliceStable(riders, func(i, j int) bool {
		return startOf(riders[i]).Before(startOf(riders[j]))
	})

	out := make([]OnTrackRider, 0, len(riders))
	for _, rider := range riders {
		elapsed := now.Sub(startOf(rider))
		if elapsed < 0 {
			elapsed = 0
		}
		out = append(out, OnTrackRider{
			Rider:       rider,
			Elapsed:     elapsed,
			ElapsedMs:   elapsed.Milliseconds(),
			ElapsedText: timeutil.FormatElapsed(rider.StartTime, now),
		})
	}
	return out
}

// RecentlyFinished returns up to n finished riders, latest finish first.
func (r *Registry) RecentlyFinished(n int) []models.Rider {
	riders := r.Finished()
	sort.SliceStable(riders, func(i, j int) bool {
		return finishOf(riders[i]).After(finishOf(riders[j]))
	})
	if n > 0 && len(riders) > n {
		riders = riders[:n]
	}
	return riders
}

func finishOf(r models.Rider) time.Time {
	if r.FinishTime == nil {
		return time.Time{}
	}
	return *r.FinishTime
}
