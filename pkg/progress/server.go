package progress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/foundrypath/waveplan/internal/config"
	"github.com/foundrypath/waveplan/pkg/auth"
)

// Server is the HTTP surface of the Progress Broadcaster (C9).
type Server struct {
	cfg         config.ProgressConfig
	broadcaster *Broadcaster
	authMw      *auth.Middleware
	logger      zerolog.Logger
	httpServer  *http.Server
}

// NewServer builds a Server. When cfg.AuthEnabled is true, cfg.JWTSecret
// must be non-empty or construction fails.
func NewServer(cfg config.ProgressConfig, broadcaster *Broadcaster, logger zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, broadcaster: broadcaster, logger: logger}

	if cfg.AuthEnabled {
		jwtSvc, err := auth.NewJWTService(cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("progress: %w", err)
		}
		s.authMw = auth.NewMiddleware(jwtSvc)
	}

	return s, nil
}

// Start runs the HTTP server until the process is asked to stop. It
// blocks the calling goroutine — callers run it in its own goroutine
// alongside the engine run.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the stream endpoint holds connections open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("progress: starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("progress: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("progress: stopping server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())
	router.Use(s.securityMiddleware())
	router.Use(s.rateLimitMiddleware())

	router.GET("/healthz", s.healthHandler)

	runs := router.Group("/runs")
	if s.authMw != nil {
		runs.Use(s.authMw.RequireScheduleAccess())
	}
	runs.GET("/:scheduleId", s.getRunHandler)
	runs.GET("/:scheduleId/stream", s.streamRunHandler)

	return router
}
