// Package api exposes the search service over HTTP. Handlers are thin:
// they bind and validate request bodies, delegate to the search and indexer
// services, and translate sentinel errors into status codes.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/loupe-search/loupe/internal/cache"
	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/indexer"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/search"
	"github.com/loupe-search/loupe/internal/store"
)

var registerValidatorsOnce sync.Once

// registerValidators installs the custom binding validators on gin's
// shared validator engine. Safe to call from every constructor.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("country", func(fl validator.FieldLevel) bool {
			return isCountryCode(fl.Field().String())
		})
	})
}

// isCountryCode accepts exactly two ASCII letters, either case.
// Normalization lowercases downstream.
func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Server is the HTTP front end over the search and indexing services
type Server struct {
	router  *gin.Engine
	server  *http.Server
	search  *search.Service
	indexer *indexer.Indexer
	store   *store.Store
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  observability.Logger
	version string
}

// Deps carries the services the server fronts. Store and cache may be nil;
// the health endpoint reports absent components as "disabled".
type Deps struct {
	Search  *search.Service
	Indexer *indexer.Indexer
	Store   *store.Store
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Logger  observability.Logger
	Version string
}

// NewServer builds the router and wires all routes
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	registerValidators()
	gin.SetMode(gin.ReleaseMode)

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNoopLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(deps.Logger.WithPrefix("http")))

	s := &Server{
		router:  router,
		search:  deps.Search,
		indexer: deps.Indexer,
		store:   deps.Store,
		cache:   deps.Cache,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		version: deps.Version,
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/documents", s.handleUpsertDocuments)
	v1.POST("/documents/delete", s.handleDeleteDocuments)
	v1.POST("/delta", s.handleDelta)
	v1.GET("/documents/:id", s.handleGetDocument)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener closes
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"addr":    s.server.Addr,
		"version": s.version,
	})
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until the context expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports liveness plus the reachability of each backing
// component. Any unhealthy component turns the response into a 503.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	components := map[string]string{
		"store": s.pingStore(ctx),
		"cache": s.pingCache(ctx),
	}

	status := http.StatusOK
	overall := "healthy"
	for _, state := range components {
		if state != "healthy" && state != "disabled" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
			break
		}
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}

func (s *Server) pingStore(ctx context.Context) string {
	if s.store == nil {
		return "disabled"
	}
	if err := s.store.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

func (s *Server) pingCache(ctx context.Context) string {
	if s.cache == nil {
		return "disabled"
	}
	p, ok := s.cache.(interface{ Ping(context.Context) error })
	if !ok {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
