package lifx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/protocol"
)

// Default client settings
const (
	DefaultResponseTimeout  = 5 * time.Second
	DefaultSweepInterval    = 250 * time.Millisecond
	DefaultMessageRate      = 20.0
	DefaultOfflineTolerance = 3
)

// Transport sends encoded datagrams
type Transport interface {
	Send(data []byte, addr *net.UDPAddr) error
}

// Publisher receives light and command events
type Publisher interface {
	Publish(event eventbus.Event)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// Source identifies this controller in every header; 0 picks a random one
	Source          uint32
	ResponseTimeout time.Duration
	SweepInterval   time.Duration
	// MessageRate caps sends per second; negative disables pacing
	MessageRate float64
	AckRequired bool
	ResRequired bool
	// BroadcastAddr receives discovery packets
	BroadcastAddr *net.UDPAddr
	// OfflineTolerance is how many discovery cycles a light may miss
	OfflineTolerance int
	Events           Publisher
	Now              func() time.Time
}

// Client owns the outbound queue, the handler registry, the sequence counter
// and the light table for one controller identity.
type Client struct {
	opts   Options
	source uint32

	// mu guards sequence allocation, registration and enqueue as one step
	mu     sync.Mutex
	closed bool
	seq    uint8

	queue    *Queue
	registry *Registry

	lightsMu sync.RWMutex
	lights   map[string]*Light

	cycle atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a client. Nothing is sent until Run.
func NewClient(opts Options) (*Client, error) {
	if opts.ResponseTimeout < 0 || opts.SweepInterval < 0 {
		return nil, fmt.Errorf("negative timeout in client options")
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MessageRate == 0 {
		opts.MessageRate = DefaultMessageRate
	}
	if opts.OfflineTolerance <= 0 {
		opts.OfflineTolerance = DefaultOfflineTolerance
	}
	if opts.BroadcastAddr == nil {
		opts.BroadcastAddr = &net.UDPAddr{IP: net.IPv4bcast, Port: protocol.DefaultPort}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	source := opts.Source
	for source == 0 {
		source = uuid.New().ID()
	}

	c := &Client{
		opts:     opts,
		source:   source,
		queue:    NewQueue(),
		registry: NewRegistry(),
		lights:   make(map[string]*Light),
		stop:     make(chan struct{}),
	}
	c.registry.now = c.now
	c.registry.SetResolveHook(c.onResolved)

	log.Debug().
		Uint32("source", source).
		Dur("response_timeout", opts.ResponseTimeout).
		Float64("message_rate", opts.MessageRate).
		Msg("LIFX client created")
	return c, nil
}

// Source returns the controller identity sent in every header
func (c *Client) Source() uint32 { return c.source }

func (c *Client) now() time.Time { return c.opts.Now() }

// QueueLen returns the number of envelopes waiting to be sent
func (c *Client) QueueLen() int { return c.queue.Len() }

// HandlerLen returns the number of pending response handlers
func (c *Client) HandlerLen() int { return c.registry.Len() }

// =============================================================================
// Light table
// =============================================================================

// AddLight registers a light, or refreshes the address of a known one
func (c *Client) AddLight(info LightInfo) (*Light, error) {
	id := protocol.NormalizeID(info.ID)

	c.lightsMu.Lock()
	if l, ok := c.lights[id]; ok {
		c.lightsMu.Unlock()
		if ip := net.ParseIP(info.Address); ip != nil {
			port := info.Port
			if port == 0 {
				port = protocol.DefaultPort
			}
			l.seen(&net.UDPAddr{IP: ip, Port: port}, c.cycle.Load())
		}
		return l, nil
	}

	l, err := newLight(c, info, c.cycle.Load())
	if err != nil {
		c.lightsMu.Unlock()
		return nil, err
	}
	c.lights[id] = l
	c.lightsMu.Unlock()

	log.Info().Str("light", id).Str("addr", l.Addr().String()).Msg("Light added")
	c.publish(eventbus.EventTypeLightNew, lightEventData(l.Snapshot()))
	return l, nil
}

// Light looks up a light by id
func (c *Client) Light(id string) (*Light, bool) {
	c.lightsMu.RLock()
	defer c.lightsMu.RUnlock()

	l, ok := c.lights[protocol.NormalizeID(id)]
	return l, ok
}

// Lookup is Light returning ErrUnknownLight for unknown ids
func (c *Client) Lookup(id string) (*Light, error) {
	l, ok := c.Light(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLight, id)
	}
	return l, nil
}

// Lights returns every known light ordered by id
func (c *Client) Lights() []*Light {
	c.lightsMu.RLock()
	lights := make([]*Light, 0, len(c.lights))
	for _, l := range c.lights {
		lights = append(lights, l)
	}
	c.lightsMu.RUnlock()

	sort.Slice(lights, func(i, j int) bool { return lights[i].id < lights[j].id })
	return lights
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run sends queued envelopes in FIFO order until ctx is done or Destroy is
// called, and expires overdue handlers on every sweep tick.
func (c *Client) Run(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sweep(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	var limiter *rate.Limiter
	if c.opts.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.MessageRate), 1)
	}

	log.Info().Uint32("source", c.source).Msg("LIFX client sender started")

	for {
		env, err := c.queue.Next(ctx)
		if err != nil {
			log.Info().Msg("LIFX client sender stopped")
			return nil
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				log.Debug().Str("type", env.Type.String()).Uint8("seq", env.Sequence).Msg("Sender stopped before transmit")
				return nil
			}
		}

		env.Attempts++
		if err := t.Send(env.Encode(c.source), env.Addr); err != nil {
			log.Error().
				Err(err).
				Str("type", env.Type.String()).
				Uint8("seq", env.Sequence).
				Str("addr", env.Addr.String()).
				Msg("Failed to send packet")
			continue
		}

		log.Debug().
			Str("type", env.Type.String()).
			Uint8("seq", env.Sequence).
			Str("addr", env.Addr.String()).
			Dur("queued", c.now().Sub(env.Enqueued)).
			Msg("Packet sent")
	}
}

func (c *Client) sweep(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.expireDue(c.now()); n > 0 {
				log.Debug().Int("count", n).Msg("Response handlers timed out")
			}
		}
	}
}

// expireDue times out handlers whose deadline passed. The registry is only
// walked for expiry once its earliest deadline is due.
func (c *Client) expireDue(now time.Time) int {
	next, ok := c.registry.NextDeadline()
	if !ok || now.Before(next) {
		return 0
	}
	return c.registry.Expire(now)
}

// Destroy stops the sender, drops unsent envelopes and fails every pending
// handler with ErrClientClosed. Safe to call more than once.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })

	dropped := len(c.queue.Drain())
	failed := c.registry.Close(ErrClientClosed)

	log.Info().
		Int("dropped_packets", dropped).
		Int("failed_handlers", failed).
		Msg("LIFX client destroyed")
}

// Done is closed once Destroy has been called
func (c *Client) Done() <-chan struct{} { return c.stop }

// =============================================================================
// Inbound
// =============================================================================

// HandleDatagram feeds one received datagram into the client. Replies update
// the light cache first and then resolve at most one pending handler.
func (c *Client) HandleDatagram(data []byte, from *net.UDPAddr) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("addr", addrString(from)).Msg("Dropping undecodable datagram")
		return
	}

	if pkt.Source != c.source {
		log.Debug().
			Uint32("source", pkt.Source).
			Str("type", pkt.Type.String()).
			Msg("Ignoring packet for another controller")
		return
	}

	payload, err := protocol.DecodePayload(pkt.Type, pkt.Payload)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnknownPayload) {
			log.Debug().Err(err).Str("type", pkt.Type.String()).Msg("Dropping malformed payload")
		}
		return
	}

	reply := &Reply{
		Type:     pkt.Type,
		Sequence: pkt.Sequence,
		Source:   pkt.Source,
		Target:   pkt.Target.String(),
		Addr:     cloneAddr(from),
		Payload:  payload,
		Received: c.now(),
	}

	if svc, ok := payload.(protocol.ServiceState); ok {
		c.handleService(reply, svc)
	} else if l, ok := c.Light(reply.Target); ok && l.apply(payload) {
		c.publishState(l, "confirmed")
	}

	if !c.registry.Dispatch(reply) {
		log.Debug().
			Str("type", reply.Type.String()).
			Uint8("seq", reply.Sequence).
			Str("light", reply.Target).
			Msg("No handler for reply")
	}
}

// =============================================================================
// Events
// =============================================================================

func (c *Client) publish(t eventbus.EventType, data map[string]interface{}) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Publish(eventbus.Event{Type: t, Data: data})
}

func (c *Client) publishState(l *Light, origin string) {
	data := lightEventData(l.Snapshot())
	data["origin"] = origin
	c.publish(eventbus.EventTypeLightState, data)
}

func (c *Client) onResolved(e Entry, outcome Outcome, latency time.Duration) {
	c.publish(eventbus.EventTypeCommandResolved, map[string]interface{}{
		"light":      e.Target,
		"type":       e.Type.String(),
		"seq":        int(e.Sequence),
		"outcome":    string(outcome),
		"latency_ms": float64(latency) / float64(time.Millisecond),
	})
}

func lightEventData(s Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"light":      s.ID,
		"address":    s.Address,
		"port":       s.Port,
		"label":      s.Label,
		"status":     s.Status,
		"online":     s.Online,
		"hue":        int(s.Color.Hue),
		"saturation": int(s.Color.Saturation),
		"brightness": int(s.Color.Brightness),
		"kelvin":     int(s.Color.Kelvin),
	}
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
