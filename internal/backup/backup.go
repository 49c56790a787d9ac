// Package backup keeps a bounded local journal of start and finish events.
// It is an audit trail for the operator and is never replayed.
package backup

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/localstore"
	"timing-backend/internal/models"
)

type EventType string

const (
	Starts   EventType = "starts"
	Finishes EventType = "finishes"
)

// DefaultLimit is the number of entries kept per event type.
const DefaultLimit = 50

// DefaultRecent is how many entries Recent returns when n <= 0.
const DefaultRecent = 5

func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case Starts, Finishes:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

func (e EventType) key() string {
	if e == Finishes {
		return localstore.KeyBackupFinishes
	}
	return localstore.KeyBackupStarts
}

type Log struct {
	mu    sync.Mutex
	store localstore.Store
	clock clockwork.Clock
	limit int
	mem   map[EventType][]models.BackupEntry
}

func New(store localstore.Store, clock clockwork.Clock, limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{
		store: store,
		clock: clock,
		limit: limit,
		mem:   make(map[EventType][]models.BackupEntry),
	}
}

// Append prepends a snapshot of rider to the journal for eventType and
// truncates it to the limit. Persistence failures are logged only.
func (l *Log) Append(eventType EventType, rider models.Rider) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load(eventType)
	entry := models.BackupEntry{Rider: rider.Clone(), LocalTimestamp: l.clock.Now()}
	entries = append([]models.BackupEntry{entry}, entries...)
	if len(entries) > l.limit {
		entries = entries[:l.limit]
	}
	l.mem[eventType] = entries

	if err := l.store.Save(eventType.key(), entries); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Str("rider_number", rider.RiderNumber).
			Msg("Failed to persist backup entry")
	}
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(eventType EventType, n int) []models.BackupEntry {
	if n <= 0 {
		n = DefaultRecent
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load(eventType)
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]models.BackupEntry, len(entries))
	copy(out, entries)
	return out
}

// load must be called with l.mu held. A journal that cannot be read is
// treated as empty and will be overwritten by the next append.
func (l *Log) load(eventType EventType) []models.BackupEntry {
	if entries, ok := l.mem[eventType]; ok {
		return entries
	}
	var entries []models.BackupEntry
	if _, err := l.store.Load(eventType.key(), &entries); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Discarding unreadable backup journal")
		entries = nil
	}
	l.mem[eventType] = entries
	return entries
}
