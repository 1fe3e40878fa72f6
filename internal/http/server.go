package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Clark-Hu/triage-ratings/internal/config"
	"github.com/Clark-Hu/triage-ratings/internal/domain"
	"github.com/Clark-Hu/triage-ratings/internal/metrics"
	"github.com/Clark-Hu/triage-ratings/internal/rating"
)

// StoreHeader names the request header that picks the write target for the
// request.
const StoreHeader = "X-Rating-Store"

// HealthChecker reports whether the primary store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RatingService is the rating core as seen by the handlers.
type RatingService interface {
	Submit(ctx context.Context, sub rating.Submission, target domain.Origin) (domain.Rating, error)
	ListAll(ctx context.Context) rating.Listing
	ListFrom(ctx context.Context, origin domain.Origin) ([]domain.Rating, error)
	Get(ctx context.Context, identity string) (domain.Rating, error)
	GetFrom(ctx context.Context, origin domain.Origin, identity string) (domain.Rating, error)
	Similar(ctx context.Context, r domain.Rating, limit int) []domain.Rating
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	health  HealthChecker
	ratings RatingService
	metrics *metrics.Collector
	loc     *time.Location
	logger  *zap.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, health HealthChecker, ratings RatingService, m *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", StoreHeader},
			MaxAge:         300,
		}))
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Server{
		cfg:     cfg,
		health:  health,
		ratings: ratings,
		metrics: m,
		loc:     loc,
		logger:  logger,
		router:  r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	s.router.Route("/ratings", func(r chi.Router) {
		r.Use(s.storeSelector)
		r.Get("/", s.handleListRatings)
		r.Post("/", s.handleSubmitRating)
		r.Get("/stats", s.handleStats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRating)
			r.Get("/similar", s.handleSimilar)
		})
	})
	s.router.Route("/stores/{origin}/ratings", func(r chi.Router) {
		r.Get("/", s.handleListFrom)
		r.Get("/{id}", s.handleGetFrom)
	})
}

// Start boots the HTTP server and blocks until ctx is done or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Relational store unreachable")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeSelector scopes the write target named by the X-Rating-Store header or
// the store query parameter to the request.
func (s *Server) storeSelector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(StoreHeader))
		if raw == "" {
			raw = strings.TrimSpace(r.URL.Query().Get("store"))
		}
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		origin, err := domain.ParseOrigin(raw)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(rating.WithDefaultTarget(r.Context(), origin)))
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
