package routes

import (
	"net/http"
	"time"

	"github.com/Dosada05/skill-arena/docs"
	"github.com/Dosada05/skill-arena/handlers"
	"github.com/Dosada05/skill-arena/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Config struct {
	JWTSecret      []byte
	AllowedOrigins []string
	AutomationKey  string
}

type Handlers struct {
	Tournament *handlers.TournamentHandler
	Match      *handlers.MatchHandler
	Dispute    *handlers.DisputeHandler
	Admin      *handlers.AdminHandler
	WebSocket  *handlers.WebSocketHandler
	Health     *handlers.HealthHandler
}

func SetupRoutes(router chi.Router, cfg Config, h Handlers) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(cfg.JWTSecret)

	router.Get("/healthz", h.Health.Healthz)
	router.Get("/swagger/doc.json", docs.ServeJSON)
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// websocket handshake has its own timeouts, so it stays outside the request timeout
	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeWs)

	router.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/{tournamentID}", h.Tournament.GetByIDHandler)
			r.Get("/{tournamentID}/bracket", h.Tournament.GetBracketHandler)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Post("/", h.Tournament.CreateHandler)
				r.Post("/{tournamentID}/join", h.Tournament.JoinHandler)
				r.Delete("/{tournamentID}/join", h.Tournament.LeaveHandler)
				r.Post("/{tournamentID}/cancel", h.Tournament.CancelHandler)
				r.Post("/{tournamentID}/bracket", h.Tournament.GenerateBracketHandler)
				r.Post("/{tournamentID}/advancement/resume", h.Tournament.ResumeAdvancementHandler)
			})
		})

		r.Route("/matches", func(r chi.Router) {
			r.Get("/{matchID}", h.Match.GetByIDHandler)
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Post("/{matchID}/report", h.Match.ReportHandler)
				r.Post("/{matchID}/resolve", h.Match.ResolveHandler)
			})
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/", h.Dispute.ListHandler)
			r.Post("/{disputeID}/resolve", h.Dispute.ResolveHandler)
		})

		r.With(middleware.RequireKey(cfg.AutomationKey)).
			Post("/internal/automation/run", h.Admin.RunAutomationHandler)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("{\"error\":\"the requested resource could not be found\"}\n"))
	})
}
