// Package server provides the HTTP API for soudan: consultation sessions with a streamed
// message endpoint, plus the document and search administration routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/consultation"
	"github.com/hyperjump/soudan/internal/domain"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/storage"
)

// DocumentIndexer ingests and removes documents.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, input *models.DocumentInput) (string, error)
	DeleteDocument(ctx context.Context, id string) error
}

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Sizer reports how many vectors an index holds.
type Sizer interface {
	Size() int
}

// CacheStats reports embedding cache hits and misses.
type CacheStats interface {
	Stats() (hits, misses uint64)
}

// Dependencies are the collaborators the handlers call.
type Dependencies struct {
	Search     consultation.Searcher
	Indexer    DocumentIndexer
	Documents  storage.Storage
	Sessions   storage.SessionStore
	Consultant *consultation.Consultant
	Domains    *domain.Registry
	Vectors    Sizer
	// EmbeddingCache is optional; status reports its hit counts when set.
	EmbeddingCache CacheStats
}

// Server is the HTTP server for the soudan API.
type Server struct {
	deps   Dependencies
	config *config.Config
	logger *zap.Logger
	server *http.Server

	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory routes. When configPath is set, directory changes
// are persisted to the config file.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Dependencies, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Router builds the route tree. The message stream is kept out of the request timeout since
// a recommendation can stream for longer than any sensible timeout.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/sessions/{id}/messages/stream", s.handleMessageStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout()))
		r.Use(middleware.Compress(5))

		r.Get("/health", s.handleHealth)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/search", s.handleSearch)
			r.Post("/documents", s.handleIndexDocument)
			r.Get("/documents/{id}", s.handleGetDocument)
			r.Delete("/documents/{id}", s.handleDeleteDocument)
			r.Get("/status", s.handleStatus)
			r.Get("/domains", s.handleDomains)
			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

func (s *Server) requestTimeout() time.Duration {
	if s.config != nil && s.config.Server.RequestTimeout > 0 {
		return s.config.Server.RequestTimeout
	}
	return 60 * time.Second
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
