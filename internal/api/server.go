// Package api serves the light cache and command surface over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/lifx"
)

// Server is the HTTP front of the LIFX client
type Server struct {
	addr         string
	client       *lifx.Client
	queryTimeout time.Duration
	engine       *gin.Engine
	httpServer   *http.Server
}

// NewServer builds the router
func NewServer(cfg config.APIConfig, client *lifx.Client) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:         cfg.Addr(),
		client:       client,
		queryTimeout: cfg.QueryTimeout.Duration(),
		engine:       gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(), cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.POST("/discover", s.discover)

	lights := s.engine.Group("/lights")
	{
		lights.GET("", s.listLights)
		lights.GET("/:id", s.getLight)
		lights.POST("/:id/state", s.setState)
		lights.GET("/:id/:query", s.query)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.engine }

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	log.Info().Str("addr", s.addr).Msg("Starting HTTP API")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP API shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		if status >= 500 {
			ev = log.Error()
		} else if status >= 400 {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
