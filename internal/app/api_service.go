package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/api"
	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/lifx"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, client *lifx.Client) *APIService {
	return &APIService{
		cfg:    cfg,
		server: api.NewServer(cfg.API, client),
	}
}

// Start begins the HTTP API if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("HTTP API disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("HTTP API error")
		}
	}()
}
