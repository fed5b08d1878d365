package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/metrics"
	"sigsummary/internal/middleware"
	"sigsummary/internal/models"
	"sigsummary/internal/service"
	"sigsummary/internal/tracing"
)

const healthCheckTimeout = 2 * time.Second

// StatusProvider reports worker state for /api/status
type StatusProvider interface {
	Status() service.EngineStatus
}

// ScheduleReader is the read side of the schedule store
type ScheduleReader interface {
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListSchedules(ctx context.Context, filter database.ScheduleFilter) ([]models.Schedule, error)
}

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	cfg       models.ServerConfig
	status    StatusProvider
	schedules ScheduleReader
	checks    map[string]HealthCheck
	server    *http.Server
}

func NewServer(cfg models.ServerConfig, status StatusProvider, schedules ScheduleReader, checks map[string]HealthCheck, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		cfg:       cfg,
		status:    status,
		schedules: schedules,
		checks:    checks,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	observe := middleware.Observability(s.logger, s.cfg.TrustProxy)
	s.router.Use(middleware.Recover(s.logger), observe)
	s.router.NotFoundHandler = observe(http.HandlerFunc(s.handleNotFound))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMinute, time.Minute)
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(limiter, s.cfg.TrustProxy))
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	api.HandleFunc("/schedules", s.handleListSchedules()).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", s.handleGetSchedule()).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
		code := http.StatusOK
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		s.writeJSON(w, r, code, resp)
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.status.Status())
	}
}

// scheduleView is a schedule with its in-memory trigger state
type scheduleView struct {
	models.Schedule
	State service.ScheduleState `json:"state"`
}

func (s *Server) handleListSchedules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := database.ScheduleFilter{
			EnabledOnly: r.URL.Query().Get("enabled") == "true",
			SourceGroup: r.URL.Query().Get("source_group"),
		}
		list, err := s.schedules.ListSchedules(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreIntegrityError("list schedules", err))
			return
		}

		states := s.status.Status().Schedules
		views := make([]scheduleView, 0, len(list))
		for _, sched := range list {
			views = append(views, scheduleView{Schedule: sched, State: stateOf(states, sched.ID)})
		}
		s.writeJSON(w, r, http.StatusOK, views)
	}
}

func (s *Server) handleGetSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["id"]
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, r, apperrors.NewValidationError("id", raw, "must be a positive integer"))
			return
		}

		sched, err := s.schedules.GetSchedule(r.Context(), id)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreIntegrityError("load schedule", err))
			return
		}
		if sched == nil {
			s.writeError(w, r, apperrors.NewNotFoundError("schedule", raw))
			return
		}
		s.writeJSON(w, r, http.StatusOK, scheduleView{Schedule: *sched, State: stateOf(s.status.Status().Schedules, id)})
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apperrors.NewNotFoundError("route", r.URL.Path))
}

func stateOf(states map[int64]service.ScheduleState, id int64) service.ScheduleState {
	if st, ok := states[id]; ok {
		return st
	}
	return service.StateIdle
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": tracing.GetRequestID(r.Context()),
			"error":      err,
		}).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.HTTPStatusCode(err)
	if code >= http.StatusInternalServerError {
		apperrors.FromLogrus(s.logger).LogError(err, "API request failed")
	}
	s.writeJSON(w, r, code, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
