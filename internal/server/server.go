// Package server provides the HTTP surface of the PODPLAYR media
// engine. It implements a REST API for URL resolution, queue and
// playback management, and audio streaming with HTTP Range support.
// The server uses chi/v5 for routing with CORS support and WebSocket
// connections for real-time play events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/podplayr/media-engine/internal/chunkcache"
	"github.com/podplayr/media-engine/internal/fetch"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/playlist"
	"github.com/podplayr/media-engine/internal/playstore"
	"github.com/podplayr/media-engine/internal/preload"
	"github.com/podplayr/media-engine/internal/resolver"
	"github.com/podplayr/media-engine/internal/session"
	"github.com/podplayr/media-engine/pkg/config"
)

// Server wires the engine components behind an HTTP API: resolver,
// fallback fetcher, chunk cache, queue, play-session tracker, preloader
// and the persistent play store.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	store      *playstore.Store
	resolver   *resolver.Resolver
	cache      *chunkcache.Cache
	fetcher    *fetch.Fetcher
	queue      *playlist.Queue
	tracker    *session.Tracker
	preloader  *preload.Preloader
	httpServer *http.Server
	router     chi.Router

	wsMutex   sync.RWMutex
	wsClients map[*wsClient]bool
}

// New creates a fully wired server instance. The play-session tracker
// records through the play store and broadcasts play events to
// WebSocket clients.
func New(cfg *config.Config, store *playstore.Store, logger *slog.Logger) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		store:     store,
		queue:     playlist.New(),
		wsClients: make(map[*wsClient]bool),
	}

	s.resolver = resolver.New(&cfg.Gateways, logger)
	s.cache = chunkcache.New(cfg.Cache.CacheBudgetBytes(), logger)
	s.fetcher = fetch.New(s.resolver, s.cache, cfg.Preload.ProbeTimeout, logger)
	s.preloader = preload.New(s.fetcher, &cfg.Preload, logger)
	s.tracker = session.NewTracker("default", cfg.Playback.Threshold, s.recordPlay, s.notifyStarted, logger)

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware stack for the router.
// Includes request ID, logging, recovery, compression, and CORS support.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)

	if s.config.Server.EnableCompression {
		s.router.Use(middleware.Compress(5))
	}

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Accept-Ranges", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/resolve", s.handleResolve)
		r.Post("/progress", s.handleProgress)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueGet)
			r.Post("/", s.handleQueueSet)
			r.Post("/next", s.handleQueueNext)
			r.Post("/previous", s.handleQueuePrevious)
			r.Put("/index", s.handleQueueIndex)
		})
		r.Route("/plays", func(r chi.Router) {
			r.Get("/top", s.handleTopPlayed)
			r.Get("/recent", s.handleRecentlyPlayed)
		})
	})

	// Audio streaming endpoint with Range support
	s.router.Get("/stream/{contract}/{token}", s.handleStream)

	// WebSocket endpoint for real-time play events
	s.router.Get("/ws/events", s.handleWebSocket)
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		"address", s.httpServer.Addr,
		"read_timeout", s.config.Server.ReadTimeout,
		"write_timeout", s.config.Server.WriteTimeout)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// preloads and up to 30 seconds for active connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP server")

	s.preloader.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped successfully")
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// recordPlay persists a play callback and broadcasts counted plays.
// Satisfies the tracker's record callback.
func (s *Server) recordPlay(mediaKey, listener string, track media.Track, opts session.PlayOptions) error {
	if err := s.store.RecordPlay(mediaKey, listener, track, opts); err != nil {
		return err
	}
	if opts.ThresholdReached {
		s.broadcastPlayEvent(PlayEvent{
			Type:     eventPlayCounted,
			MediaKey: mediaKey,
			Track:    track,
		})
	}
	return nil
}

// notifyStarted broadcasts the immediate playback-started event.
// Satisfies the tracker's notify callback.
func (s *Server) notifyStarted(track media.Track) {
	s.broadcastPlayEvent(PlayEvent{
		Type:     eventPlayStarted,
		MediaKey: track.MediaKey(),
		Track:    track,
	})
}

// loggingMiddleware creates a structured logging middleware for HTTP
// requests.
func (s *Server) loggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			s.logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		})
	}
}
