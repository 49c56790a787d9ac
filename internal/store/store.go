package store

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"timing-backend/internal/models"
)

// DefaultCollection is the riders collection used when none is configured.
const DefaultCollection = "mtb_riders"

// Store is the authoritative remote rider collection.
// Implementations can back this with in-memory storage or Firestore.
type Store interface {
	// Subscribe delivers a full snapshot of the race's riders, ordered by
	// startTime, on every change. It blocks until ctx is cancelled (returning
	// nil) or the stream fails.
	Subscribe(ctx context.Context, raceID string, fn func([]models.Document)) error

	// Create writes the whole document under id, replacing any existing one.
	Create(ctx context.Context, id string, data map[string]any) error
	// Update merges fields into the document id.
	Update(ctx context.Context, id string, fields map[string]any) error

	ListRiders(ctx context.Context, raceID string) ([]models.Document, error)
	Close() error
}

// IsTransient reports whether err is a connectivity failure that should
// send writes to the pending queue.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled,
		codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
