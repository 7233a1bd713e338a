package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
	luart "github.com/dokzlo13/lifxd/internal/lua"
)

// LuaService wraps the Lua runtime and provides thread-safe execution.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService.
func NewLuaService(cfg *config.Config, client *lifx.Client) *LuaService {
	return &LuaService{
		cfg:     cfg,
		Runtime: luart.NewRuntime(client, cfg.EventBus.GetQueueSize()),
	}
}

// LoadScript loads and executes the Lua script.
// Must be called before Start(). An empty path runs without a script.
func (s *LuaService) LoadScript() error {
	if s.cfg.Script == "" {
		log.Info().Msg("No script configured")
		return nil
	}
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Start begins the Lua worker goroutine - the only goroutine that touches Lua.
func (s *LuaService) Start(ctx context.Context) {
	go s.Runtime.Run(ctx)
}

// HandleEvent forwards a bus event to script handlers.
func (s *LuaService) HandleEvent(ev eventbus.Event) {
	s.Runtime.HandleEvent(ev)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
