package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pullback/internal/config"
	"pullback/internal/scanner"
	"pullback/internal/signal"
	"pullback/internal/store/sqlite"
)

// PatternReader lists logged patterns
type PatternReader interface {
	List(ctx context.Context, filter sqlite.Filter) ([]*sqlite.PatternRecord, error)
}

// Deps are the components the API serves. Scanner and Patterns may be
// nil; their routes then answer 503.
type Deps struct {
	Gate     *signal.Gate
	Scanner  *scanner.Scanner
	Patterns PatternReader
	Log      zerolog.Logger
}

// Server represents the web server
type Server struct {
	config   config.WebConfig
	gate     *signal.Gate
	scanner  *scanner.Scanner
	patterns PatternReader
	auth     *Auth
	log      zerolog.Logger
	router   *gin.Engine
	srv      *http.Server
	started  time.Time
}

// NewServer creates a new web server
func NewServer(cfg config.WebConfig, deps Deps) *Server {
	gate := deps.Gate
	if gate == nil {
		gate = signal.NewGate(signal.DefaultConfig(), nil, nil)
	}
	s := &Server{
		config:   cfg,
		gate:     gate,
		scanner:  deps.Scanner,
		patterns: deps.Patterns,
		log:      deps.Log.With().Str("component", "web").Logger(),
		started:  time.Now(),
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuth(cfg.JWTSecret)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(corsMiddleware())

	router.GET("/api/health", s.handleHealth)

	api := router.Group("/api")
	if s.auth != nil {
		api.Use(s.auth.Middleware())
	}
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/scan", s.handleScan)
	api.GET("/patterns", s.handlePatterns)
	api.GET("/strategies", s.handleStrategies)
	api.GET("/universes", s.handleUniverses)

	return router
}

// Start starts the web server on the specified port
func (s *Server) Start(port int) error {
	if port == 0 {
		port = s.config.Port
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info().Int("port", port).Bool("auth", s.auth != nil).Msg("starting HTTP API")

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
