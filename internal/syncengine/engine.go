// Package syncengine bridges the rider registry to the remote store. It
// keeps one live subscription per race and routes writes through a durable
// pending queue whenever the remote is unreachable.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/models"
	"timing-backend/internal/registry"
	"timing-backend/internal/store"
)

type Config struct {
	// WriteTimeout bounds each remote write attempt.
	WriteTimeout time.Duration
	// RetryDelay is the base of the linear backoff used for subscription
	// re-opens and drain retries. Zero retries immediately.
	RetryDelay time.Duration
	// SubscribeMaxRetries is the number of consecutive transport failures
	// tolerated before the listener gives up.
	SubscribeMaxRetries int
	// FlushMaxAttempts is the number of attempts per queued write.
	FlushMaxAttempts int
}

// maxHealBackoff caps the multiplier of RetryDelay between Heal drains.
const maxHealBackoff = 10

func DefaultConfig() Config {
	return Config{
		WriteTimeout:        5 * time.Second,
		RetryDelay:          2 * time.Second,
		SubscribeMaxRetries: 5,
		FlushMaxAttempts:    3,
	}
}

type Engine struct {
	remote store.Store
	reg    *registry.Registry
	queue  *Queue
	clock  clockwork.Clock
	cfg    Config

	mu     sync.Mutex
	online bool
	cancel func()
	raceID string
	// stalled is set when the listener for raceID gave up.
	stalled bool
	// hostOffline mirrors the last host connectivity signal. Transient
	// write failures clear online but leave it alone.
	hostOffline  bool
	healAt       time.Time
	healFailures int

	// gen counts Subscribe calls. Reopens keep the generation.
	gen     uint64
	subMu   sync.Mutex
	flushMu sync.Mutex
	healing atomic.Bool
}

func New(remote store.Store, reg *registry.Registry, queue *Queue, clock clockwork.Clock, cfg Config) *Engine {
	if cfg.FlushMaxAttempts <= 0 {
		cfg.FlushMaxAttempts = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Engine{
		remote: remote,
		reg:    reg,
		queue:  queue,
		clock:  clock,
		cfg:    cfg,
		online: true,
	}
}

// Subscribe opens the live query for raceID, cancelling any previous
// subscription first. The returned func is idempotent and returns only
// once no further snapshot can reach the registry, including from a
// listener reopened after giving up.
func (e *Engine) Subscribe(raceID string) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.mu.Unlock()
	e.subscribeLocked(raceID)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()

			e.mu.Lock()
			var stop func()
			if e.gen == gen {
				stop = e.cancel
				e.cancel = nil
				e.stalled = false
			}
			e.mu.Unlock()
			if stop != nil {
				stop()
			}
		})
	}
}

func (e *Engine) subscribeLocked(raceID string) {
	e.mu.Lock()
	prev := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if prev != nil {
		prev()
	}

	e.mu.Lock()
	e.raceID = raceID
	e.stalled = false
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.listen(ctx, raceID)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}

	e.mu.Lock()
	e.cancel = stop
	e.mu.Unlock()
}

// Unsubscribe cancels the current subscription, if any.
func (e *Engine) Unsubscribe() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.mu.Lock()
	stop := e.cancel
	e.cancel = nil
	e.raceID = ""
	e.stalled = false
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (e *Engine) RaceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raceID
}

// Listening reports whether a subscription is open and has not given up.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raceID != "" && !e.stalled
}

// resume reopens a subscription that gave up, with a fresh retry budget.
func (e *Engine) resume() bool {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.mu.Lock()
	raceID, stalled := e.raceID, e.stalled
	e.mu.Unlock()
	if !stalled || raceID == "" {
		return false
	}

	log.Info().Str("race_id", raceID).Msg("Reopening race subscription")
	e.subscribeLocked(raceID)
	return true
}

func (e *Engine) listen(ctx context.Context, raceID string) {
	failures := 0
	for {
		err := e.remote.Subscribe(ctx, raceID, func(docs []models.Document) {
			if ctx.Err() != nil {
				return
			}
			failures = 0
			e.reg.ReplaceAll(Normalize(raceID, docs))
		})
		if ctx.Err() != nil {
			return
		}

		failures++
		if failures > e.cfg.SubscribeMaxRetries {
			log.Error().Err(err).Str("race_id", raceID).Msg("Giving up on race subscription, keeping last snapshot")
			e.mu.Lock()
			if e.raceID == raceID {
				e.stalled = true
			}
			e.mu.Unlock()
			return
		}
		log.Warn().Err(err).Str("race_id", raceID).Int("attempt", failures).Msg("Race subscription failed, retrying")

		if !e.wait(ctx, e.cfg.RetryDelay*time.Duration(failures)) {
			return
		}
	}
}

// wait blocks for d on the engine clock. It reports false if ctx ended first.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}

// Normalize maps remote documents into riders and collapses documents that
// describe the same start, keeping the most recently updated one.
func Normalize(raceID string, docs []models.Document) []models.Rider {
	type key struct {
		number string
		start  int64
	}
	index := make(map[key]int, len(docs))
	riders := make([]models.Rider, 0, len(docs))

	for _, doc := range docs {
		r := models.FromDocument(doc)
		if r.RiderNumber == "" {
			log.Warn().Str("race_id", raceID).Str("doc_id", doc.ID).Msg("Dropping rider document without a number")
			continue
		}
		if r.RaceID == "" {
			r.RaceID = raceID
		}

		k := key{number: r.RiderNumber}
		if r.StartTime != nil {
			k.start = r.StartTime.UnixMilli()
		}
		if i, ok := index[k]; ok {
			if newer(r, riders[i]) {
				riders[i] = r
			}
			continue
		}
		index[k] = len(riders)
		riders = append(riders, r)
	}
	return riders
}

func newer(a, b models.Rider) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if a.Timestamp != nil && b.Timestamp != nil {
		return a.Timestamp.After(*b.Timestamp)
	}
	return false
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records the host connectivity signal. Going online reopens a
// subscription that gave up and drains the pending queue.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.hostOffline = !online
	if online {
		e.healFailures = 0
		e.healAt = time.Time{}
	}
	e.mu.Unlock()

	if was != online {
		log.Info().Bool("online", online).Int("pending", e.queue.Len()).Msg("Connectivity changed")
	}
	if !online {
		return nil
	}
	e.resume()
	if e.queue.Len() == 0 {
		return nil
	}
	return e.FlushPending(ctx)
}

// Heal retries what a remote outage left behind while the host itself stays
// online: a subscription that gave up is reopened and pending writes are
// drained. Failed drains back off linearly on the engine clock. Concurrent
// calls return at once.
func (e *Engine) Heal(ctx context.Context) {
	if !e.healing.CompareAndSwap(false, true) {
		return
	}
	defer e.healing.Store(false)

	e.mu.Lock()
	due := !e.hostOffline && !e.clock.Now().Before(e.healAt)
	e.mu.Unlock()
	if !due {
		return
	}

	e.resume()
	if e.queue.Len() == 0 {
		return
	}

	if err := e.FlushPending(ctx); err != nil {
		e.mu.Lock()
		if e.healFailures < maxHealBackoff {
			e.healFailures++
		}
		e.healAt = e.clock.Now().Add(e.cfg.RetryDelay * time.Duration(e.healFailures))
		e.mu.Unlock()
		log.Warn().Err(err).Int("pending", e.queue.Len()).Msg("Pending writes still not drained")
		return
	}

	e.mu.Lock()
	was := e.online
	e.online = !e.hostOffline
	e.healFailures = 0
	e.healAt = time.Time{}
	e.mu.Unlock()
	if !was {
		log.Info().Msg("Remote store reachable again")
	}
}

func (e *Engine) markOffline(err error) {
	e.mu.Lock()
	was := e.online
	e.online = false
	e.mu.Unlock()
	if was {
		log.Warn().Err(err).Msg("Remote store unreachable, queueing writes")
	}
}

func (e *Engine) PendingCount() int {
	return e.queue.Len()
}

func (e *Engine) Pending() []PendingWrite {
	return e.queue.Entries()
}

// PushCreate writes a new rider document under rider.ID. It reports true
// when the write was queued instead of acknowledged.
func (e *Engine) PushCreate(ctx context.Context, rider models.Rider) bool {
	return e.push(ctx, PendingWrite{
		Kind:        KindCreate,
		DocID:       rider.ID,
		RaceID:      rider.RaceID,
		RiderNumber: rider.RiderNumber,
		Rider:       &rider,
	})
}

// PushUpdate merges patch into the document id. It reports true when the
// write was queued instead of acknowledged.
func (e *Engine) PushUpdate(ctx context.Context, raceID, riderNumber, id string, patch models.Patch) bool {
	return e.push(ctx, PendingWrite{
		Kind:        KindUpdate,
		DocID:       id,
		RaceID:      raceID,
		RiderNumber: riderNumber,
		Patch:       &patch,
	})
}

func (e *Engine) push(ctx context.Context, w PendingWrite) bool {
	// Anything already queued must reach the remote first.
	if !e.Online() || e.queue.Len() > 0 {
		e.enqueue(w)
		return true
	}

	err := e.send(ctx, w)
	if err == nil {
		return false
	}

	log.Warn().Err(err).Str("rider_number", w.RiderNumber).Str("kind", string(w.Kind)).
		Msg("Remote write failed, queueing")
	if store.IsTransient(err) {
		e.markOffline(err)
	}
	e.enqueue(w)
	return true
}

func (e *Engine) enqueue(w PendingWrite) {
	queued := e.queue.Enqueue(w)
	log.Info().Str("pending_id", queued.ID).Str("rider_number", w.RiderNumber).Str("kind", string(w.Kind)).
		Int("pending", e.queue.Len()).Msg("Write queued")
}

func (e *Engine) send(ctx context.Context, w PendingWrite) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()

	switch w.Kind {
	case KindCreate:
		return e.remote.Create(ctx, w.DocID, w.Fields())
	case KindUpdate:
		return e.remote.Update(ctx, w.DocID, w.Fields())
	}
	return fmt.Errorf("unknown write kind %q", w.Kind)
}

// FlushPending drains the queue in FIFO order. The first write that still
// fails after FlushMaxAttempts halts the drain; it and everything after it
// stay queued. Only one drain runs at a time.
func (e *Engine) FlushPending(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	entries := e.queue.Entries()
	if len(entries) == 0 {
		return nil
	}
	log.Info().Int("pending", len(entries)).Msg("Draining pending writes")

	sent := make([]string, 0, len(entries))
	for _, w := range entries {
		if err := e.sendWithRetry(ctx, w); err != nil {
			e.queue.Ack(sent...)
			if store.IsTransient(err) {
				e.markOffline(err)
			}
			return fmt.Errorf("flushing pending write %s: %w", w.ID, err)
		}
		sent = append(sent, w.ID)
	}

	e.queue.Ack(sent...)
	if e.queue.Len() == 0 {
		e.reg.Release()
	}
	log.Info().Int("sent", len(sent)).Msg("Pending writes drained")
	return nil
}

func (e *Engine) sendWithRetry(ctx context.Context, w PendingWrite) error {
	var err error
	for attempt := 1; attempt <= e.cfg.FlushMaxAttempts; attempt++ {
		if err = e.send(ctx, w); err == nil {
			return nil
		}
		log.Warn().Err(err).Str("pending_id", w.ID).Int("attempt", attempt).Msg("Pending write failed")
		if attempt < e.cfg.FlushMaxAttempts && !e.wait(ctx, e.cfg.RetryDelay*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
	return err
}
