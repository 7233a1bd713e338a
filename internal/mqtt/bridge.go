// Package mqtt bridges LIFX lights to an MQTT broker: JSON commands arrive on
// <prefix>/<id>/set, queries on <prefix>/<id>/get, and light events leave on
// <prefix>/<id>/state and <prefix>/<id>/connectivity.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
)

// ErrBadTopic is returned for topics outside <prefix>/<id>/<action>
var ErrBadTopic = errors.New("unexpected topic")

// publisher is the part of the paho client the bridge publishes through
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge connects the LIFX client to MQTT
type Bridge struct {
	cfg    config.MQTTConfig
	client *lifx.Client
	mqtt   pahomqtt.Client
	pub    publisher
}

// NewBridge creates an unconnected bridge
func NewBridge(cfg config.MQTTConfig, client *lifx.Client) *Bridge {
	return &Bridge{cfg: cfg, client: client}
}

// Connect dials the broker and subscribes to command topics. Subscriptions
// are restored by the connect handler after every reconnect.
func (b *Bridge) Connect() error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(b.cfg.Timeout.Duration())
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(b.statusTopic(), "offline", b.cfg.QoS, true)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Info().Str("broker", b.cfg.Broker).Msg("MQTT connected")
		b.subscribe(c)
		c.Publish(b.statusTopic(), b.cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	b.mqtt = pahomqtt.NewClient(opts)
	b.pub = b.mqtt

	token := b.mqtt.Connect()
	if !token.WaitTimeout(b.cfg.Timeout.Duration()) {
		return fmt.Errorf("mqtt connect to %s: timeout after %v", b.cfg.Broker, b.cfg.Timeout.Duration())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", b.cfg.Broker, err)
	}
	return nil
}

func (b *Bridge) subscribe(c pahomqtt.Client) {
	filters := map[string]byte{
		b.cfg.TopicPrefix + "/+/set": b.cfg.QoS,
		b.cfg.TopicPrefix + "/+/get": b.cfg.QoS,
	}
	token := c.SubscribeMultiple(filters, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := b.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT command rejected")
		}
	})
	if token.WaitTimeout(b.cfg.Timeout.Duration()) && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("MQTT subscribe failed")
	}
}

// Close publishes the offline status and disconnects
func (b *Bridge) Close() {
	if b.mqtt == nil {
		return
	}
	if b.mqtt.IsConnected() {
		b.mqtt.Publish(b.statusTopic(), b.cfg.QoS, true, "offline").WaitTimeout(time.Second)
	}
	b.mqtt.Disconnect(250)
	log.Info().Msg("MQTT disconnected")
}

func (b *Bridge) statusTopic() string {
	return b.cfg.TopicPrefix + "/status"
}

// =============================================================================
// Inbound
// =============================================================================

// HandleMessage routes one inbound message
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	id, action, err := b.parseTopic(topic)
	if err != nil {
		return err
	}
	light, err := b.client.Lookup(id)
	if err != nil {
		return err
	}

	switch action {
	case "set":
		var cmd lifx.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("invalid command json: %w", err)
		}
		return light.Apply(cmd)
	case "get":
		return light.GetState(func(_ *lifx.Reply, err error) {
			if err != nil {
				log.Warn().Err(err).Str("light", id).Msg("MQTT state query failed")
				return
			}
			b.publishJSON(b.cfg.TopicPrefix+"/"+id+"/state", light.Snapshot())
		})
	}
	return fmt.Errorf("%w: %s", ErrBadTopic, topic)
}

func (b *Bridge) parseTopic(topic string) (id, action string, err error) {
	parts := strings.Split(strings.TrimPrefix(topic, b.cfg.TopicPrefix+"/"), "/")
	if !strings.HasPrefix(topic, b.cfg.TopicPrefix+"/") || len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	return parts[0], parts[1], nil
}

// =============================================================================
// Outbound
// =============================================================================

// HandleEvent publishes light events
func (b *Bridge) HandleEvent(ev eventbus.Event) {
	id, _ := ev.Data["light"].(string)
	if id == "" {
		return
	}

	switch ev.Type {
	case eventbus.EventTypeLightState:
		b.publishJSON(b.cfg.TopicPrefix+"/"+id+"/state", ev.Data)
	case eventbus.EventTypeLightNew, eventbus.EventTypeLightOnline, eventbus.EventTypeLightOffline:
		online, _ := ev.Data["online"].(bool)
		b.publishJSON(b.cfg.TopicPrefix+"/"+id+"/connectivity", map[string]any{
			"event":  string(ev.Type),
			"online": online,
		})
	}
}

func (b *Bridge) publishJSON(topic string, v any) {
	if b.pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode MQTT payload")
		return
	}
	token := b.pub.Publish(topic, b.cfg.QoS, b.cfg.Retain, payload)
	if !token.WaitTimeout(b.cfg.Timeout.Duration()) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}
