package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"timing-backend/internal/auth"
	"timing-backend/internal/config"
	"timing-backend/internal/email"
	"timing-backend/internal/feed"
	"timing-backend/internal/handlers"
	"timing-backend/internal/localstore"
	"timing-backend/internal/session"
	"timing-backend/internal/store"
	"timing-backend/internal/syncengine"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote, err := openRemote(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to initialize rider store")
	}
	defer remote.Close()

	local, err := localstore.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to initialize local store")
	}

	svc := session.New(session.Options{
		Remote: remote,
		Local:  local,
		Sync: syncengine.Config{
			WriteTimeout:        cfg.WriteTimeout,
			RetryDelay:          cfg.RetryDelay,
			SubscribeMaxRetries: cfg.SubscribeMaxRetries,
			FlushMaxAttempts:    cfg.FlushMaxAttempts,
		},
		Hold:         cfg.HoldWindow,
		BackupLimit:  cfg.BackupLimit,
		TickInterval: cfg.TickInterval,
		Location:     cfg.Location(),
	})
	defer svc.Close()

	if cfg.RaceID != "" {
		if err := svc.Join(cfg.RaceID); err != nil {
			log.Fatal().Err(err).Msg("Failed to join race")
		}
	}

	smtpPort := cfg.SMTP.Port
	if smtpPort == "" {
		smtpPort = "587"
	}
	hub := feed.NewHub()
	h := handlers.New(svc, hub, handlers.Options{
		PasswordHash: cfg.OperatorPasswordHash,
		AuthSecret:   cfg.AuthSecret,
		Origins:      []string{cfg.CORSOrigin},
		Mail: &email.Config{
			Host: cfg.SMTP.Host,
			Port: smtpPort,
			User: cfg.SMTP.User,
			Pass: cfg.SMTP.Pass,
			From: cfg.SMTP.From,
		},
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	admins := auth.AdminSet(cfg.AdminOperators)
	authed := auth.Middleware(cfg.DevMode, admins, cfg.AuthSecret)(mux)

	// CORS wraps auth so preflight requests never need a token.
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(authed),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.DevMode {
		log.Warn().Msg("DEV_MODE enabled - authentication disabled")
	}
	log.Info().
		Str("port", cfg.Port).
		Str("origin", cfg.CORSOrigin).
		Int("admins", len(admins)).
		Msg("Server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx, svc, func() any { return svc.Board() }) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	log.Info().Int("pending", svc.Engine().PendingCount()).Msg("Server stopped")
}

func openRemote(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "firestore":
		fs, err := store.NewFirestoreStore(ctx, cfg.GCPProjectID, cfg.FirestoreDatabase, cfg.FirestoreCollection, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("project", cfg.GCPProjectID).
			Str("collection", cfg.FirestoreCollection).
			Msg("Using Firestore rider store")
		return fs, nil
	default:
		log.Info().Msg("Using in-memory rider store")
		return store.NewMemoryStore(), nil
	}
}
