// Package telemetry records command round trips and light state changes to
// InfluxDB. Writes go through the client's non-blocking batched write API.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/config"
	"github.com/dokzlo13/lifxd/internal/eventbus"
)

const (
	MeasurementCommand = "lifx_command"
	MeasurementLight   = "lifx_light"

	pingTimeout = 10 * time.Second
)

// ErrUnhealthy is returned when the server answers the ping but reports a
// failing health state.
var ErrUnhealthy = errors.New("influxdb not healthy")

// Recorder writes LIFX events as InfluxDB points
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect creates the client, pings the server and starts the error drain
func Connect(cfg config.InfluxConfig) (*Recorder, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Duration()/time.Millisecond)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go r.drainErrors()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB connected")
	return r, nil
}

func (r *Recorder) drainErrors() {
	for err := range r.writeAPI.Errors() {
		log.Warn().Err(err).Msg("InfluxDB write failed")
	}
}

// HandleEvent converts supported events into points
func (r *Recorder) HandleEvent(ev eventbus.Event) {
	var p *write.Point
	switch ev.Type {
	case eventbus.EventTypeCommandResolved:
		p = CommandPoint(ev)
	case eventbus.EventTypeLightState:
		p = LightPoint(ev)
	}
	if p != nil {
		r.writeAPI.WritePoint(p)
	}
}

// Close flushes buffered points and closes the client
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
	log.Info().Msg("InfluxDB closed")
}

// CommandPoint builds a lifx_command point from a command_resolved event
func CommandPoint(ev eventbus.Event) *write.Point {
	light, _ := ev.Data["light"].(string)
	typ, _ := ev.Data["type"].(string)
	outcome, _ := ev.Data["outcome"].(string)
	if typ == "" || outcome == "" {
		return nil
	}

	fields := map[string]interface{}{}
	if v, ok := ev.Data["latency_ms"].(float64); ok {
		fields["latency_ms"] = v
	}
	if v, ok := ev.Data["seq"].(int); ok {
		fields["seq"] = v
	}
	if len(fields) == 0 {
		return nil
	}

	return write.NewPoint(MeasurementCommand, map[string]string{
		"light":   light,
		"type":    typ,
		"outcome": outcome,
	}, fields, eventTime(ev))
}

// LightPoint builds a lifx_light point from a light_state event
func LightPoint(ev eventbus.Event) *write.Point {
	light, _ := ev.Data["light"].(string)
	if light == "" {
		return nil
	}

	tags := map[string]string{"light": light}
	if origin, ok := ev.Data["origin"].(string); ok {
		tags["origin"] = origin
	}
	if label, ok := ev.Data["label"].(string); ok && label != "" {
		tags["label"] = label
	}

	fields := map[string]interface{}{}
	if status, ok := ev.Data["status"].(string); ok {
		fields["on"] = status == "on"
	}
	for _, key := range []string{"hue", "saturation", "brightness", "kelvin"} {
		if v, ok := ev.Data[key].(int); ok {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(MeasurementLight, tags, fields, eventTime(ev))
}

func eventTime(ev eventbus.Event) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now()
	}
	return ev.Timestamp
}
