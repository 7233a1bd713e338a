package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
)

// EventHandler consumes bus events
type EventHandler interface {
	HandleEvent(ev eventbus.Event)
}

// DeviceStore persists discovered devices
type DeviceStore interface {
	Remember(info lifx.LightInfo) error
}

var lightEvents = []eventbus.EventType{
	eventbus.EventTypeLightNew,
	eventbus.EventTypeLightOnline,
	eventbus.EventTypeLightOffline,
	eventbus.EventTypeLightState,
	eventbus.EventTypeCommandResolved,
}

// EventService routes client events to persistence, scripts and bridges.
type EventService struct {
	bus      *eventbus.Bus
	devices  DeviceStore
	handlers []EventHandler
}

// NewEventService creates a new EventService.
func NewEventService(bus *eventbus.Bus, devices DeviceStore, handlers ...EventHandler) *EventService {
	return &EventService{bus: bus, devices: devices, handlers: handlers}
}

// Start sets up all event handlers.
func (s *EventService) Start() {
	s.bus.Subscribe(eventbus.EventTypeLightNew, s.persist)
	s.bus.Subscribe(eventbus.EventTypeLightOnline, s.persist)
	s.bus.Subscribe(eventbus.EventTypeLightState, func(ev eventbus.Event) {
		// Only device answers carry a trustworthy label
		if origin, _ := ev.Data["origin"].(string); origin == "confirmed" {
			s.persist(ev)
		}
	})

	for _, t := range lightEvents {
		for _, h := range s.handlers {
			s.bus.Subscribe(t, h.HandleEvent)
		}
	}
}

func (s *EventService) persist(ev eventbus.Event) {
	info, ok := LightInfoFromEvent(ev)
	if !ok {
		return
	}
	if err := s.devices.Remember(info); err != nil {
		log.Warn().Err(err).Str("light", info.ID).Msg("Failed to persist device")
	}
}

// LightInfoFromEvent extracts device identity from light event data
func LightInfoFromEvent(ev eventbus.Event) (lifx.LightInfo, bool) {
	id, _ := ev.Data["light"].(string)
	address, _ := ev.Data["address"].(string)
	if id == "" || address == "" {
		return lifx.LightInfo{}, false
	}
	port, _ := ev.Data["port"].(int)
	label, _ := ev.Data["label"].(string)
	return lifx.LightInfo{ID: id, Address: address, Port: port, Label: label}, true
}
