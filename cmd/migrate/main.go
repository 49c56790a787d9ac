package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timing-backend/internal/localstore"
	"timing-backend/internal/registry"
	"timing-backend/internal/store"
	"timing-backend/internal/syncengine"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		log.Fatal().Msg("GCP_PROJECT_ID is required")
	}

	databaseID := os.Getenv("FIRESTORE_DATABASE")
	collection := os.Getenv("FIRESTORE_COLLECTION")
	if collection == "" {
		collection = store.DefaultCollection
	}

	ctx := context.Background()

	src, err := localstore.NewFileStore(dataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dataDir).Msg("Failed to open local store")
	}

	dst, err := store.NewFirestoreStore(ctx, projectID, databaseID, collection, os.Getenv("GOOGLE_CREDENTIALS_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open firestore store")
	}
	defer dst.Close()

	dbName := databaseID
	if dbName == "" {
		dbName = "(default)"
	}
	fmt.Printf("Draining %s -> Firestore (project: %s, database: %s, collection: %s)\n\n", dataDir, projectID, dbName, collection)

	clock := clockwork.NewRealClock()
	queue := syncengine.NewQueue(src, clock)
	entries := queue.Entries()
	fmt.Printf("Pending writes: %d\n", len(entries))
	for _, w := range entries {
		fmt.Printf("  %s\n", w)
		fmt.Printf("    Race: %s  Queued: %s\n", w.RaceID, w.EnqueuedAt.Format("2006-01-02 15:04:05"))
	}
	if len(entries) == 0 {
		fmt.Println("\nNothing to do.")
		return
	}

	engine := syncengine.New(dst, registry.New(clock, 0), queue, clock, syncengine.DefaultConfig())
	if err := engine.FlushPending(ctx); err != nil {
		fmt.Printf("\nStopped: %v\n", err)
	}

	left := queue.Len()
	fmt.Printf("\nDone. Sent %d write(s), %d still queued.\n", len(entries)-left, left)
	if left > 0 {
		os.Exit(1)
	}
}
