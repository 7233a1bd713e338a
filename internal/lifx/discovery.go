package lifx

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

// serviceUDP is the only StateService service the client talks to
const serviceUDP = 1

// Discover starts a new discovery cycle: lights that missed too many cycles
// go offline, then a broadcast GetService is queued. Answers are handled by
// HandleDatagram without a pending handler, so they never time out.
func (c *Client) Discover() error {
	c.markStale()

	cycle := c.cycle.Add(1)
	if _, err := c.issue(command{typ: protocol.GetService}); err != nil {
		return err
	}

	log.Debug().Uint64("cycle", cycle).Msg("Discovery broadcast queued")
	return nil
}

// Cycle returns the current discovery cycle
func (c *Client) Cycle() uint64 { return c.cycle.Load() }

// RunDiscovery calls Discover immediately and then on every interval until
// ctx is done or the client is destroyed.
func (c *Client) RunDiscovery(ctx context.Context, interval time.Duration) error {
	if err := c.Discover(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-ticker.C:
			if err := c.Discover(); err != nil {
				log.Warn().Err(err).Msg("Discovery cycle failed")
			}
		}
	}
}

func (c *Client) handleService(reply *Reply, svc protocol.ServiceState) {
	if svc.Service != serviceUDP || reply.Addr == nil {
		return
	}

	addr := &net.UDPAddr{IP: reply.Addr.IP, Port: int(svc.Port)}
	cycle := c.cycle.Load()

	if l, ok := c.Light(reply.Target); ok {
		if l.seen(addr, cycle) {
			log.Info().Str("light", l.id).Str("addr", addr.String()).Msg("Light back online")
			c.publish(eventbus.EventTypeLightOnline, lightEventData(l.Snapshot()))
		}
		return
	}

	if _, err := c.AddLight(LightInfo{ID: reply.Target, Address: addr.IP.String(), Port: addr.Port}); err != nil {
		log.Warn().Err(err).Str("light", reply.Target).Msg("Ignoring discovery answer")
	}
}

func (c *Client) markStale() {
	cycle := c.cycle.Load()
	tolerance := uint64(c.opts.OfflineTolerance)

	for _, l := range c.Lights() {
		seen := l.SeenOnDiscovery()
		if cycle < tolerance || seen >= cycle-tolerance {
			continue
		}
		if l.markOffline() {
			log.Info().Str("light", l.id).Uint64("last_seen_cycle", seen).Msg("Light offline")
			c.publish(eventbus.EventTypeLightOffline, lightEventData(l.Snapshot()))
		}
	}
}
