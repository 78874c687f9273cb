package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examportal/internal/auth"
	"examportal/internal/db"
	"examportal/internal/exams"
	"examportal/internal/metrics"
	"examportal/internal/requests"
	"examportal/internal/settings"
	"examportal/internal/users"
)

type Deps struct {
	Store         db.Store
	Authenticator *auth.Authenticator
	Requests      *requests.Service
	Exams         *exams.Service
	Users         *users.Service
	Settings      *settings.Reader
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type Server struct {
	store    db.Store
	authn    *auth.Authenticator
	requests *requests.Service
	exams    *exams.Service
	users    *users.Service
	settings *settings.Reader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    deps.Store,
		authn:    deps.Authenticator,
		requests: deps.Requests,
		exams:    deps.Exams,
		users:    deps.Users,
		settings: deps.Settings,
		metrics:  deps.Metrics,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/settings", s.handleGetSettings)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.handleDashboard)
		r.Post("/access-requests", s.handleRequestAccess)
		r.Get("/categories/{categoryId}/access", s.handleHasAccess)
		r.Post("/categories/{categoryId}/sessions", s.handleCreateSession)
		r.Get("/categories/{categoryId}/sessions/active", s.handleActiveSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionId}", s.handleGetSession)
		r.Put("/sessions/{sessionId}/answers/{questionId}", s.handleSubmitAnswer)
		r.Post("/sessions/{sessionId}/complete", s.handleCompleteSession)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/access-requests", s.handleListPending)
			r.Post("/access-requests/approve", s.handleApprove)
			r.Post("/access-requests/{requestId}/reject", s.handleReject)
			r.Post("/entitlements", s.handleGrant)
			r.Put("/users/{userId}/suspension", s.handleSetSuspension)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.settings.Get(r.Context())
	if err != nil {
		s.logger.Warn("settings unavailable", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, values)
}
