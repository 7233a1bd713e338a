package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Client          ClientConfig    `yaml:"client"`
	Discovery       DiscoveryConfig `yaml:"discovery"`
	Lights          []LightConfig   `yaml:"lights"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	Script          string          `yaml:"script"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Influx          InfluxConfig    `yaml:"influx"`
	API             APIConfig       `yaml:"api"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// ClientConfig contains LIFX LAN client settings
type ClientConfig struct {
	Source           uint32   `yaml:"source"`             // Controller id in every header, 0 = random
	BindAddress      string   `yaml:"bind_address"`       // Local UDP address (default: 0.0.0.0:0)
	BroadcastAddress string   `yaml:"broadcast_address"`  // Discovery target (default: 255.255.255.255)
	Port             int      `yaml:"port"`               // Device port (default: 56700)
	ResponseTimeout  Duration `yaml:"response_timeout"`   // Pending handler deadline (default: 5s)
	SweepInterval    Duration `yaml:"sweep_interval"`     // Timeout sweep period (default: 250ms)
	MessageRateLimit float64  `yaml:"message_rate_limit"` // Packets per second, negative = unlimited (default: 20)
	AckRequired      bool     `yaml:"ack_required"`       // Ask devices to ack set commands
	ResRequired      bool     `yaml:"res_required"`       // Ask devices to answer set commands with state
}

// DiscoveryConfig contains discovery settings
type DiscoveryConfig struct {
	Enabled          *bool    `yaml:"enabled"`           // default: true
	Interval         Duration `yaml:"interval"`          // default: 5s
	OfflineTolerance int      `yaml:"offline_tolerance"` // Missed cycles before offline (default: 3)
}

// IsEnabled returns whether discovery runs, defaulting to true
func (c *DiscoveryConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LightConfig is a statically configured light
type LightConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Label   string `yaml:"label"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"use_json"`
	Colors  bool   `yaml:"colors"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// MQTTConfig contains MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"`       // e.g. tcp://localhost:1883
	ClientID    string   `yaml:"client_id"`    // default: lifxd
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"` // default: lifx
	QoS         byte     `yaml:"qos"`          // 0, 1 or 2
	Retain      bool     `yaml:"retain"`       // Retain state messages
	Timeout     Duration `yaml:"timeout"`      // Connect/publish wait (default: 10s)
}

// InfluxConfig contains telemetry settings
type InfluxConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     uint     `yaml:"batch_size"`     // default: 100
	FlushInterval Duration `yaml:"flush_interval"` // default: 10s
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	QueryTimeout Duration `yaml:"query_timeout"` // How long a query request waits for the device (default: 5s)
}

// Addr returns host:port for the listener
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lifxd.sqlite"
	}

	// Client defaults
	if cfg.Client.BindAddress == "" {
		cfg.Client.BindAddress = "0.0.0.0:0"
	}
	if cfg.Client.BroadcastAddress == "" {
		cfg.Client.BroadcastAddress = "255.255.255.255"
	}
	if cfg.Client.Port == 0 {
		cfg.Client.Port = 56700
	}
	if cfg.Client.ResponseTimeout == 0 {
		cfg.Client.ResponseTimeout = Duration(5 * time.Second)
	}
	if cfg.Client.SweepInterval == 0 {
		cfg.Client.SweepInterval = Duration(250 * time.Millisecond)
	}
	if cfg.Client.MessageRateLimit == 0 {
		cfg.Client.MessageRateLimit = 20
	}

	// Discovery defaults
	if cfg.Discovery.Interval == 0 {
		cfg.Discovery.Interval = Duration(5 * time.Second)
	}
	if cfg.Discovery.OfflineTolerance == 0 {
		cfg.Discovery.OfflineTolerance = 3
	}

	for i := range cfg.Lights {
		if cfg.Lights[i].Port == 0 {
			cfg.Lights[i].Port = cfg.Client.Port
		}
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lifxd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lifx"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// Influx defaults
	if cfg.Influx.BatchSize == 0 {
		cfg.Influx.BatchSize = 100
	}
	if cfg.Influx.FlushInterval == 0 {
		cfg.Influx.FlushInterval = Duration(10 * time.Second)
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.QueryTimeout == 0 {
		cfg.API.QueryTimeout = Duration(5 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func (c *Config) validate() error {
	for i, l := range c.Lights {
		if l.ID == "" || l.Address == "" {
			return fmt.Errorf("lights[%d]: id and address are required", i)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt: broker is required when enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx: url and bucket are required when enabled")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
