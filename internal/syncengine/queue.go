package syncengine

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/localstore"
	"timing-backend/internal/models"
)

type WriteKind string

const (
	KindCreate WriteKind = "create"
	KindUpdate WriteKind = "update"
)

// PendingWrite is a remote write that has not been acknowledged. Exactly
// one of Rider (create) or Patch (update) is set.
type PendingWrite struct {
	ID          string        `json:"id"`
	Kind        WriteKind     `json:"kind"`
	DocID       string        `json:"docId"`
	RaceID      string        `json:"raceId"`
	RiderNumber string        `json:"riderNumber"`
	Rider       *models.Rider `json:"rider,omitempty"`
	Patch       *models.Patch `json:"patch,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueuedAt"`
}

// Fields renders the document body sent to the remote store.
func (w PendingWrite) Fields() map[string]any {
	switch {
	case w.Kind == KindCreate && w.Rider != nil:
		return w.Rider.Document()
	case w.Patch != nil:
		return w.Patch.Fields()
	}
	return map[string]any{}
}

// Queue is the durable FIFO of pending writes. Entry ids are ULIDs so the
// persisted order and the id order agree.
type Queue struct {
	mu      sync.Mutex
	store   localstore.Store
	clock   clockwork.Clock
	entropy io.Reader
	entries []PendingWrite
}

// NewQueue loads any writes left over from a previous run. An unreadable
// queue is logged and started empty.
func NewQueue(store localstore.Store, clock clockwork.Clock) *Queue {
	q := &Queue{
		store:   store,
		clock:   clock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if _, err := store.Load(localstore.KeyPendingWrites, &q.entries); err != nil {
		log.Error().Err(err).Msg("Pending write queue is unreadable, starting empty")
		q.entries = nil
	}
	return q
}

// Enqueue assigns w an id, appends it and persists the queue. The write is
// kept in memory even if persisting fails.
func (q *Queue) Enqueue(w PendingWrite) PendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), q.entropy)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond; fall back
		// to fresh randomness.
		id = ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	}
	w.ID = id.String()
	w.EnqueuedAt = now
	q.entries = append(q.entries, w)
	q.persist()
	return w
}

// Entries returns a copy of the queue in FIFO order.
func (q *Queue) Entries() []PendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingWrite, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Ack removes the given ids and persists what is left.
func (q *Queue) Ack(ids ...string) {
	if len(ids) == 0 {
		return
	}
	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, w := range q.entries {
		if _, ok := done[w.ID]; !ok {
			kept = append(kept, w)
		}
	}
	q.entries = kept
	q.persist()
}

func (q *Queue) persist() {
	if len(q.entries) == 0 {
		if err := q.store.Delete(localstore.KeyPendingWrites); err != nil {
			log.Error().Err(err).Msg("Failed to clear pending write queue")
		}
		return
	}
	if err := q.store.Save(localstore.KeyPendingWrites, q.entries); err != nil {
		log.Error().Err(err).Int("pending", len(q.entries)).Msg("Failed to persist pending write queue")
	}
}

func (w PendingWrite) String() string {
	return fmt.Sprintf("%s %s rider=%s doc=%s", w.ID, w.Kind, w.RiderNumber, w.DocID)
}
