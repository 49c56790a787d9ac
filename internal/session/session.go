// Package session owns the per-race state: registry, sync engine and
// controller. One Service exists per process; joining a race rebinds it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/backup"
	"timing-backend/internal/localstore"
	"timing-backend/internal/models"
	"timing-backend/internal/race"
	"timing-backend/internal/registry"
	"timing-backend/internal/results"
	"timing-backend/internal/store"
	"timing-backend/internal/syncengine"
)

// ErrNoRace is returned by race operations before a race is joined.
var ErrNoRace = errors.New("no race joined")

// RecentFinishes is how many finishers the board shows.
const RecentFinishes = 10

type Options struct {
	Remote       store.Store
	Local        localstore.Store
	Clock        clockwork.Clock
	Sync         syncengine.Config
	Hold         time.Duration
	BackupLimit  int
	TickInterval time.Duration
	Location     *time.Location
}

type Service struct {
	clock    clockwork.Clock
	tick     time.Duration
	loc      *time.Location
	registry *registry.Registry
	engine   *syncengine.Engine
	journal  *backup.Log

	mu   sync.RWMutex
	ctrl *race.Controller

	now     atomic.Pointer[time.Time]
	changes chan struct{}
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	reg := registry.New(opts.Clock, opts.Hold)
	queue := syncengine.NewQueue(opts.Local, opts.Clock)
	s := &Service{
		clock:    opts.Clock,
		tick:     opts.TickInterval,
		loc:      opts.Location,
		registry: reg,
		engine:   syncengine.New(opts.Remote, reg, queue, opts.Clock, opts.Sync),
		journal:  backup.New(opts.Local, opts.Clock, opts.BackupLimit),
		changes:  make(chan struct{}, 1),
	}
	s.refresh()
	reg.OnChange(s.signal)
	return s
}

// Join subscribes to raceID, replacing any race joined before.
func (s *Service) Join(raceID string) error {
	raceID = strings.TrimSpace(raceID)
	if raceID == "" {
		return race.NewInvalidArgumentError("race id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Unsubscribe()
	s.registry.Reset()
	s.ctrl = race.NewController(raceID, s.registry, s.engine, s.journal, s.clock)
	s.engine.Subscribe(raceID)

	log.Info().Str("race_id", raceID).Msg("Joined race")
	return nil
}

// Leave cancels the subscription and clears the board.
func (s *Service) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Unsubscribe()
	s.registry.Reset()
	if s.ctrl != nil {
		log.Info().Str("race_id", s.ctrl.RaceID()).Msg("Left race")
	}
	s.ctrl = nil
}

// Controller returns the controller of the joined race.
func (s *Service) Controller() (*race.Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctrl == nil {
		return nil, ErrNoRace
	}
	return s.ctrl, nil
}

// WithController runs fn with the controller of the joined race. Join and
// Leave wait for fn to return, so fn never mutates a race that was replaced
// under it. fn must not call back into the Service.
func (s *Service) WithController(fn func(*race.Controller) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctrl == nil {
		return ErrNoRace
	}
	return fn(s.ctrl)
}

func (s *Service) RaceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctrl == nil {
		return ""
	}
	return s.ctrl.RaceID()
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) Engine() *syncengine.Engine {
	return s.engine
}

func (s *Service) Journal() *backup.Log {
	return s.journal
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Now is the shared current moment used for elapsed times. It advances
// only on ticks.
func (s *Service) Now() time.Time {
	return *s.now.Load()
}

func (s *Service) refresh() {
	now := s.clock.Now()
	s.now.Store(&now)
}

// Changes delivers a signal after registry changes and ticks. Signals
// coalesce; a slow reader sees one pending signal.
func (s *Service) Changes() <-chan struct{} {
	return s.changes
}

func (s *Service) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Run refreshes the current moment every tick until ctx is done. Each tick
// also lets the engine recover from a remote outage in the background.
func (s *Service) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.refresh()
			s.signal()
			go s.engine.Heal(ctx)
		}
	}
}

// Close cancels the subscription.
func (s *Service) Close() {
	s.engine.Unsubscribe()
}

// Board is the operator view of the joined race.
type Board struct {
	RaceID           string                  `json:"raceId"`
	Now              time.Time               `json:"now"`
	Waiting          []models.Rider          `json:"waiting"`
	OnTrack          []registry.OnTrackRider `json:"onTrack"`
	RecentlyFinished []models.Rider          `json:"recentlyFinished"`
	LastStarted      *models.Rider           `json:"lastStarted,omitempty"`
	Pending          int                     `json:"pending"`
	Online           bool                    `json:"online"`
}

func (s *Service) Board() Board {
	now := s.Now()
	b := Board{
		RaceID:           s.RaceID(),
		Now:              now,
		Waiting:          s.registry.Waiting(),
		OnTrack:          s.registry.OnTrack(now),
		RecentlyFinished: s.registry.RecentlyFinished(RecentFinishes),
		Pending:          s.engine.PendingCount(),
		Online:           s.engine.Online(),
	}
	if ctrl, err := s.Controller(); err == nil {
		if last, ok := ctrl.LastStarted(); ok {
			b.LastStarted = &last
		}
	}
	return b
}

// Results ranks the finished riders of the joined race.
func (s *Service) Results() []results.Entry {
	return results.Rank(s.registry.Finished())
}
