package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"timing-backend/internal/models"
)

// FirestoreStore keeps riders as documents in a single collection, scoped
// by their raceId field.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore opens a client for projectID. An empty databaseID uses
// the default database; an empty credentialsFile uses application default
// credentials.
func NewFirestoreStore(ctx context.Context, projectID, databaseID, collection, credentialsFile string) (*FirestoreStore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	if collection == "" {
		collection = DefaultCollection
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

func (f *FirestoreStore) riders() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

func (f *FirestoreStore) raceQuery(raceID string) firestore.Query {
	return f.riders().Where(models.FieldRaceID, "==", raceID).OrderBy(models.FieldStartTime, firestore.Asc)
}

func (f *FirestoreStore) Subscribe(ctx context.Context, raceID string, fn func([]models.Document)) error {
	it := f.raceQuery(raceID).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listening to race %s: %w", raceID, err)
		}

		docs, err := snap.Documents.GetAll()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading snapshot for race %s: %w", raceID, err)
		}
		fn(toDocuments(docs))
	}
}

func (f *FirestoreStore) Create(ctx context.Context, id string, data map[string]any) error {
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc[models.FieldTimestamp] = firestore.ServerTimestamp

	if _, err := f.riders().Doc(id).Set(ctx, doc); err != nil {
		return fmt.Errorf("creating rider %s: %w", id, err)
	}
	return nil
}

func (f *FirestoreStore) Update(ctx context.Context, id string, fields map[string]any) error {
	if _, err := f.riders().Doc(id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("updating rider %s: %w", id, err)
	}
	return nil
}

func (f *FirestoreStore) ListRiders(ctx context.Context, raceID string) ([]models.Document, error) {
	iter := f.raceQuery(raceID).Documents(ctx)
	defer iter.Stop()

	var docs []models.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing riders for race %s: %w", raceID, err)
		}
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

func toDocuments(snaps []*firestore.DocumentSnapshot) []models.Document {
	docs := make([]models.Document, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, toDocument(s))
	}
	return docs
}

func toDocument(s *firestore.DocumentSnapshot) models.Document {
	return models.Document{
		ID:         s.Ref.ID,
		Data:       s.Data(),
		UpdateTime: s.UpdateTime,
	}
}
