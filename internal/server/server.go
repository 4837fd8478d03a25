// Package server exposes the task lifecycle, the night planner and the
// catalog over a JSON REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/hevelius/hevelius/internal/metrics"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/heatmap"
	"github.com/hevelius/hevelius/pkg/logging"
	"github.com/hevelius/hevelius/pkg/planner"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// Config wires a Server. Tasks, Planner, Catalog, Frames and JWT are required.
type Config struct {
	Tasks   *tasks.Lifecycle
	Planner *planner.Planner
	Catalog *catalog.Index
	Frames  heatmap.Store
	JWT     *JWTManager
	Metrics *metrics.Collector // optional; nil disables /metrics
	Log     logging.Logger     // optional; nil = no logging

	// Site and PlanDefaults fill the fields a night-plan request omits.
	Site         sky.Site
	PlanDefaults planner.Request

	Version   string
	RateLimit int // requests per minute per client IP; 0 disables
	MaxConns  int // concurrent connections; 0 = unlimited
}

type Server struct {
	tasks    *tasks.Lifecycle
	planner  *planner.Planner
	catalog  *catalog.Index
	frames   heatmap.Store
	jwt      *JWTManager
	metrics  *metrics.Collector
	log      logging.Logger
	site     sky.Site
	defaults planner.Request
	version  string
	limit    int
	maxConns int
}

func New(cfg Config) (*Server, error) {
	if cfg.Tasks == nil || cfg.Planner == nil || cfg.Catalog == nil || cfg.Frames == nil {
		return nil, errors.New("server: tasks, planner, catalog and frames are required")
	}
	if cfg.JWT == nil {
		return nil, errors.New("server: a JWT manager is required")
	}
	s := &Server{
		tasks:    cfg.Tasks,
		planner:  cfg.Planner,
		catalog:  cfg.Catalog,
		frames:   cfg.Frames,
		jwt:      cfg.JWT,
		metrics:  cfg.Metrics,
		log:      logging.OrNop(cfg.Log),
		site:     cfg.Site,
		defaults: cfg.PlanDefaults,
		version:  cfg.Version,
		limit:    cfg.RateLimit,
		maxConns: cfg.MaxConns,
	}
	if s.defaults.Step == 0 {
		s.defaults = planner.NewRequest(cfg.Site, time.Time{})
	}
	return s, nil
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.requestLog)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.limit > 0 {
			r.Use(httprate.Limit(s.limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/tasks", s.handleListTasks)
			r.Post("/tasks", s.handleCreateTask)
			r.Get("/tasks/{id}", s.handleGetTask)
			r.Patch("/tasks/{id}", s.handleUpdateTask)

			r.Post("/night-plan", s.handlePlan)
			r.Delete("/night-plan/{planID}", s.handleDiscardPlan)

			r.Get("/catalogs", s.handleCatalogs)
			r.Get("/catalogs/objects", s.handleCatalogObjects)
			r.Get("/catalogs/search", s.handleCatalogSearch)
			r.Get("/frames/search", s.handleFrameSearch)
			r.Get("/heatmap", s.handleHeatmap)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such endpoint"})
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugf("%s %s from %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start).Round(time.Microsecond))
	})
}

// Start listens on addr and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("Starting server on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Infof("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
