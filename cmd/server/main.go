package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/config"
	"github.com/parley-chat/backend/internal/firebase"
	"github.com/parley-chat/backend/internal/handlers"
	"github.com/parley-chat/backend/internal/lease"
	"github.com/parley-chat/backend/internal/metrics"
	"github.com/parley-chat/backend/internal/services"
	"github.com/parley-chat/backend/internal/store"
	"github.com/parley-chat/backend/internal/websocket"
)

const (
	dispatchLeaseKey = "parley:dispatch-lease"
	dispatchLeaseTTL = 90 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// backend is the storage and identity wiring chosen by STORE_BACKEND.
type backend struct {
	db         store.Store
	signer     capability.Signer
	users      handlers.UserVerifier
	spectators capability.Verifier
	devSigner  handlers.UserTokenSigner
	close      func()
}

func main() {
	// Load configuration from environment
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", cfg.StoreBackend, err)
	}
	defer be.close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize services
	chatLog := services.NewChatLog(be.db)
	chats := services.NewChatService(be.db)
	schedule := services.NewScheduleService(be.db)

	opts := []services.SchedulerOption{services.WithMetrics(m)}
	if cfg.RedisURL != "" {
		rdb, err := lease.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()

		l := lease.New(rdb, dispatchLeaseKey, dispatchLeaseTTL)
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := l.Release(releaseCtx); err != nil {
				log.Printf("[Scheduler] Failed to release lease: %v", err)
			}
		}()
		opts = append(opts, services.WithLease(l, dispatchLeaseTTL))
		log.Printf("[Scheduler] Dispatch lease enabled (owner %s)", l.Owner())
	}

	sched, err := services.NewScheduler(be.db, services.NewDispatcher(be.db, chatLog), cfg.DispatchSchedule, opts...)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	// Start background workers
	go sched.Start(ctx)
	defer sched.Stop()

	hub := websocket.NewHub(chatLog, m)
	go hub.Run(ctx)

	r := handlers.NewRouter(handlers.RouterConfig{
		Spectator:   handlers.NewSpectatorHandler(capability.NewIssuer(be.signer), chatLog, m),
		Rooms:       handlers.NewRoomHandler(chats),
		Messages:    handlers.NewMessageHandler(chats, chatLog),
		Schedule:    handlers.NewScheduleHandler(schedule),
		Users:       be.users,
		Spectators:  be.spectators,
		SpectatorWS: websocket.NewHandler(hub).ServeWS,
		DevSigner:   be.devSigner,
		Metrics:     promhttp.Handler(),
		CORSOrigins: cfg.CORSOrigins,
	})
	log.Printf("CORS allowed origins: %v", cfg.CORSOrigins)

	// Start server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: r,
	}

	go func() {
		log.Printf("Parley backend starting on %s (backend: %s)", srv.Addr, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}

func newBackend(cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		secret := cfg.SpectatorSigningSecret
		if secret == "" {
			secret = uuid.NewString()
			log.Println("SPECTATOR_SIGNING_SECRET not set, tokens will not survive a restart")
		}
		auth := capability.NewLocalAuthority([]byte(secret))
		db := store.NewMemory()
		log.Println("Using in-memory store; POST /dev/login issues user tokens")
		return &backend{
			db:         db,
			signer:     auth,
			users:      auth,
			spectators: auth,
			devSigner:  auth,
			close:      db.Close,
		}, nil

	default:
		sa, err := firebase.LoadServiceAccount(cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
		if err != nil {
			return nil, err
		}
		signer := firebase.NewCustomTokenSigner(sa)
		ids := firebase.NewIDTokenVerifier(sa.ProjectID)
		return &backend{
			db:     firebase.NewDatabase(cfg.DatabaseURL, firebase.NewTokenSource(sa)),
			signer: signer,
			users:  ids,
			// Spectators present either the ID token obtained by signing
			// in with their custom token, or the custom token itself.
			spectators: capability.Chain{ids, signer},
			close:      func() {},
		}, nil
	}
}
