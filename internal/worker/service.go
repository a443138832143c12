// Package worker provides the HTTP worker service for hotspotd.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gridwatch/hotspotd/internal/config"
	"github.com/gridwatch/hotspotd/internal/db/sqlite"
	"github.com/gridwatch/hotspotd/internal/engine"
	"github.com/gridwatch/hotspotd/internal/worker/sse"
)

// Service configuration constants.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps incoming request bodies.
	MaxRequestBody = 1 << 20 // 1 MiB

	// storeWatchDebounce is how long the store watcher waits after the last
	// file event before scheduling a reload.
	storeWatchDebounce = 2 * time.Second
)

// Service is the worker orchestrator: it owns the store, the ranking
// engine, and the HTTP surface around them.
type Service struct {
	version string
	config  *config.Config

	store   *sqlite.Store
	reports *sqlite.ReportStore
	engine  *engine.Engine

	broadcaster *sse.Broadcaster
	router      *chi.Mux
	server      *http.Server
	startTime   time.Time

	// reloads collapses concurrent refresh requests into one replay.
	reloads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the worker service and performs the initial load of
// the engine from the report store.
func NewService(version string, cfg *config.Config) (*Service, error) {
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	eng, err := engine.New(cfg.EngineConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:     version,
		config:      cfg,
		store:       store,
		reports:     sqlite.NewReportStore(store),
		engine:      eng,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	if err := svc.reloadEngine(ctx); err != nil {
		cancel()
		_ = store.Close()
		return nil, fmt.Errorf("initial engine load: %w", err)
	}
	stats := eng.Statistics()
	log.Info().
		Int("reports", stats.TotalReports).
		Int("clusters", stats.TotalClusters).
		Msg("Engine loaded from store")

	return svc, nil
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/api/events", s.broadcaster.HandleSSE)

	s.router.Post("/api/reports", s.handleCreateReport)
	s.router.Get("/api/reports/similar", s.handleSimilarReports)
	s.router.Post("/api/reports/{id}/resolve", s.handleResolveReport)
	s.router.Get("/api/clusters", s.handleClusters)
	s.router.Get("/api/hotspots", s.handleHotspots)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Post("/api/reload", s.handleReload)
}

// reloadEngine clears the engine and replays all open reports from the
// store in chronological ascending order. On a store failure the engine is
// left fully cleared, never half-loaded.
func (s *Service) reloadEngine(ctx context.Context) error {
	records, err := s.reports.ListOpenReports(ctx)
	if err != nil {
		s.engine.Clear()
		return fmt.Errorf("list open reports: %w", err)
	}

	source := make([]engine.SourceRecord, len(records))
	for i, rec := range records {
		source[i] = engine.SourceRecord{Text: rec.Content, ReportedAt: rec.ReportedAt}
	}
	if err := s.engine.LoadFromSource(source); err != nil {
		return fmt.Errorf("replay reports: %w", err)
	}
	return nil
}

// refreshShared runs reloadEngine with concurrent callers collapsed into a
// single replay.
func (s *Service) refreshShared(ctx context.Context) error {
	_, err, _ := s.reloads.Do("reload", func() (interface{}, error) {
		return nil, s.reloadEngine(ctx)
	})
	return err
}

// Start starts the HTTP server and, when configured, the store watcher.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.ListenPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if s.config.WatchStore {
		if err := s.startStoreWatcher(); err != nil {
			log.Warn().Err(err).Msg("Store watcher not started")
		}
	}

	log.Info().
		Int("port", s.config.ListenPort).
		Str("db", s.config.DBPath).
		Msg("Worker HTTP server started")
	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	if err := s.store.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}

	s.wg.Wait()
	log.Info().Msg("Worker service shutdown complete")
	return nil
}

// Router returns the HTTP handler, exposed for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// broadcastRanking pushes the refreshed top ranking to SSE subscribers.
func (s *Service) broadcastRanking(now time.Time) {
	if s.broadcaster.ClientCount() == 0 {
		return
	}
	s.broadcaster.Broadcast(map[string]interface{}{
		"type":      "hotspot_update",
		"timestamp": now.Format(time.RFC3339),
		"ranking":   s.engine.HotspotRanking(s.config.RankingSize, now),
	})
}
