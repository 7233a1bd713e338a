package app

import (
	"context"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
	"github.com/dokzlo13/lifxd/internal/storage"
	"github.com/dokzlo13/lifxd/internal/transport"
)

// LIFXService wraps the UDP socket, the LAN client and discovery.
type LIFXService struct {
	cfg *config.Config

	Transport *transport.UDP
	Client    *lifx.Client
}

// NewLIFXService binds the socket and creates the client. Nothing is sent
// until StartBackground.
func NewLIFXService(cfg *config.Config, bus *eventbus.Bus) (*LIFXService, error) {
	broadcast, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.Client.BroadcastAddress, strconv.Itoa(cfg.Client.Port)))
	if err != nil {
		return nil, err
	}

	client, err := lifx.NewClient(lifx.Options{
		Source:           cfg.Client.Source,
		ResponseTimeout:  cfg.Client.ResponseTimeout.Duration(),
		SweepInterval:    cfg.Client.SweepInterval.Duration(),
		MessageRate:      cfg.Client.MessageRateLimit,
		AckRequired:      cfg.Client.AckRequired,
		ResRequired:      cfg.Client.ResRequired,
		BroadcastAddr:    broadcast,
		OfflineTolerance: cfg.Discovery.OfflineTolerance,
		Events:           bus,
	})
	if err != nil {
		return nil, err
	}

	udp, err := transport.Listen(cfg.Client.BindAddress)
	if err != nil {
		client.Destroy()
		return nil, err
	}

	return &LIFXService{
		cfg:       cfg,
		Transport: udp,
		Client:    client,
	}, nil
}

// Preload registers cached devices, then configured ones. Configured
// addresses win over cached ones.
func (s *LIFXService) Preload(devices *storage.Devices) error {
	cached, err := devices.Load()
	if err != nil {
		return err
	}
	for _, d := range cached {
		if _, err := s.Client.AddLight(d.LightInfo); err != nil {
			log.Warn().Err(err).Str("light", d.ID).Msg("Skipping cached device")
		}
	}

	for _, lc := range s.cfg.Lights {
		info := lifx.LightInfo{ID: lc.ID, Address: lc.Address, Port: lc.Port, Label: lc.Label}
		if _, err := s.Client.AddLight(info); err != nil {
			return err
		}
	}

	log.Info().
		Int("cached", len(cached)).
		Int("configured", len(s.cfg.Lights)).
		Msg("Lights preloaded")
	return nil
}

// StartBackground starts the receive loop, the send loop and discovery.
func (s *LIFXService) StartBackground(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.Transport.Serve(ctx, s.Client.HandleDatagram); err != nil {
			log.Error().Err(err).Msg("UDP receive loop failed")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()

	go func() {
		if err := s.Client.Run(ctx, s.Transport); err != nil {
			log.Error().Err(err).Msg("LIFX send loop failed")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()

	if !s.cfg.Discovery.IsEnabled() {
		log.Debug().Msg("Discovery disabled")
		return
	}
	go func() {
		if err := s.Client.RunDiscovery(ctx, s.cfg.Discovery.Interval.Duration()); err != nil {
			log.Error().Err(err).Msg("Discovery loop stopped")
		}
	}()
}

// Close fails pending handlers and releases the socket.
func (s *LIFXService) Close() {
	if s.Client != nil {
		s.Client.Destroy()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
}
