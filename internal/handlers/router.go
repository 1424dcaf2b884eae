package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/parley-chat/backend/internal/capability"
)

// RouterConfig wires the handlers into the HTTP surface.
type RouterConfig struct {
	Spectator *SpectatorHandler
	Rooms     *RoomHandler
	Messages  *MessageHandler
	Schedule  *ScheduleHandler

	// Users verifies primary bearer tokens
	Users UserVerifier

	// Spectators verifies capability tokens
	Spectators capability.Verifier

	// SpectatorWS serves the live room feed; optional
	SpectatorWS http.HandlerFunc

	// DevSigner enables POST /dev/login when set
	DevSigner UserTokenSigner

	// Metrics serves GET /metrics when set
	Metrics http.Handler

	CORSOrigins []string
	Now         func() time.Time
}

// NewRouter builds the chi router with the middleware stack and routes.
func NewRouter(cfg RouterConfig) chi.Router {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Post("/spectator-token", cfg.Spectator.IssueToken)
	r.Post("/schedule-message", cfg.Schedule.ScheduleMessage)
	if cfg.DevSigner != nil {
		r.Post("/dev/login", DevLogin(cfg.DevSigner))
	}

	// Primary user routes
	r.Group(func(r chi.Router) {
		r.Use(RequireUser(cfg.Users))
		r.Post("/start-chat", cfg.Rooms.StartChat)
		r.Get("/scheduled-messages", cfg.Schedule.ListScheduled)
		r.Get("/chats/{chatId}/messages", cfg.Messages.GetMessages)
		r.Post("/chats/{chatId}/messages", cfg.Messages.SendMessage)
	})

	// Spectator routes
	r.Route("/spectator", func(r chi.Router) {
		r.Use(RequireSpectator(cfg.Spectators, now))
		r.Get("/rooms", cfg.Spectator.Rooms)
		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Use(RequireRoomAccess(now))
			r.Get("/messages", cfg.Spectator.Messages)
			if cfg.SpectatorWS != nil {
				r.Get("/ws", cfg.SpectatorWS)
			}
		})
	})

	return r
}
