package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/db"
	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/mqtt"
	"github.com/dokzlo13/lifxd/internal/storage"
	"github.com/dokzlo13/lifxd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Store   *storage.Store
	Devices *storage.Devices
	Bus     *eventbus.Bus

	// LAN client, scripting and outer surfaces
	LIFX      *LIFXService
	Lua       *LuaService
	Events    *EventService
	API       *APIService
	MQTT      *mqtt.Bridge
	Telemetry *telemetry.Recorder
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Store = storage.NewStore(database.DB)
	s.Devices = storage.NewDevices(s.Store)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.LIFX, err = NewLIFXService(cfg, s.Bus)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lua = NewLuaService(cfg, s.LIFX.Client)

	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.NewBridge(cfg.MQTT, s.LIFX.Client)
	}

	if cfg.Influx.Enabled {
		s.Telemetry, err = telemetry.Connect(cfg.Influx)
		if err != nil {
			// Telemetry is optional; run without it
			log.Error().Err(err).Msg("InfluxDB unavailable, telemetry disabled")
			s.Telemetry = nil
		}
	}

	handlers := []EventHandler{s.Lua}
	if s.MQTT != nil {
		handlers = append(handlers, s.MQTT)
	}
	if s.Telemetry != nil {
		handlers = append(handlers, s.Telemetry)
	}
	s.Events = NewEventService(s.Bus, s.Devices, handlers...)
	s.API = NewAPIService(cfg, s.LIFX.Client)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background loop fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Known devices first so scripts see them on load
	if err := s.LIFX.Preload(s.Devices); err != nil {
		return err
	}

	// Load Lua script before starting worker
	if err := s.Lua.LoadScript(); err != nil {
		return err
	}

	// Subscriptions must exist before the client starts publishing
	s.Events.Start()

	if s.MQTT != nil {
		if err := s.MQTT.Connect(); err != nil {
			return err
		}
	}

	s.Lua.Start(ctx)
	s.LIFX.StartBackground(ctx, onFatalError)
	s.API.Start(ctx)

	return nil
}

// ClearDevices forgets every persisted device.
func (s *Services) ClearDevices() error {
	return s.Devices.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources. Producers stop before the bus so that
// queued events still reach their subscribers.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.LIFX != nil {
		s.LIFX.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Telemetry != nil {
		s.Telemetry.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
