package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"timing-backend/internal/models"
)

type subscriber struct {
	raceID string
	ch     chan []models.Document
}

// MemoryStore is an in-process stand-in for the remote collection. It can
// be switched offline to exercise the pending queue.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]models.Document
	subs    map[*subscriber]struct{}
	offline bool
	writes  int
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]models.Document),
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
}

// SetOffline makes every subsequent call fail with codes.Unavailable.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *MemoryStore) unavailable() error {
	return status.Error(codes.Unavailable, "remote store unreachable")
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Create(_ context.Context, id string, data map[string]any) error {
	m.mu.Lock()
	if m.offline {
		m.mu.Unlock()
		return m.unavailable()
	}

	doc := models.Document{ID: id, Data: copyData(data), UpdateTime: m.now()}
	doc.Data[models.FieldTimestamp] = doc.UpdateTime
	m.docs[id] = doc
	m.writes++
	raceID := stringOf(doc.Data[models.FieldRaceID])
	m.mu.Unlock()

	m.publish(raceID)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	if m.offline {
		m.mu.Unlock()
		return m.unavailable()
	}

	doc, ok := m.docs[id]
	if !ok {
		doc = models.Document{ID: id, Data: make(map[string]any)}
	}
	for k, v := range fields {
		doc.Data[k] = v
	}
	doc.UpdateTime = m.now()
	m.docs[id] = doc
	m.writes++
	raceID := stringOf(doc.Data[models.FieldRaceID])
	m.mu.Unlock()

	m.publish(raceID)
	return nil
}

func (m *MemoryStore) ListRiders(_ context.Context, raceID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return nil, m.unavailable()
	}
	return m.snapshotLocked(raceID), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, raceID string, fn func([]models.Document)) error {
	m.mu.Lock()
	if m.offline {
		m.mu.Unlock()
		return m.unavailable()
	}
	sub := &subscriber{raceID: raceID, ch: make(chan []models.Document, 16)}
	m.subs[sub] = struct{}{}
	initial := m.snapshotLocked(raceID)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}()

	fn(initial)
	for {
		select {
		case <-ctx.Done():
			return nil
		case docs := <-sub.ch:
			if ctx.Err() != nil {
				return nil
			}
			fn(docs)
		}
	}
}

// Push delivers docs to every subscriber of raceID as-is, bypassing the
// stored collection. Tests use it to script snapshot sequences.
func (m *MemoryStore) Push(raceID string, docs []models.Document) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for sub := range m.subs {
		if sub.raceID == raceID {
			sub.ch <- docs
		}
	}
}

// Docs returns every stored document for raceID.
func (m *MemoryStore) Docs(raceID string) []models.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(raceID)
}

// Writes counts successful Create and Update calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Subscribers counts open subscriptions.
func (m *MemoryStore) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *MemoryStore) publish(raceID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.snapshotLocked(raceID)
	for sub := range m.subs {
		if sub.raceID != raceID {
			continue
		}
		select {
		case sub.ch <- snapshot:
		default:
			// Subscriber is behind; it will see a later full snapshot.
		}
	}
}

func (m *MemoryStore) snapshotLocked(raceID string) []models.Document {
	docs := make([]models.Document, 0)
	for _, d := range m.docs {
		if stringOf(d.Data[models.FieldRaceID]) != raceID {
			continue
		}
		docs = append(docs, models.Document{ID: d.ID, Data: copyData(d.Data), UpdateTime: d.UpdateTime})
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := startKey(docs[i]), startKey(docs[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func startKey(d models.Document) time.Time {
	if t, ok := d.Data[models.FieldStartTime].(time.Time); ok {
		return t
	}
	return time.Time{}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
