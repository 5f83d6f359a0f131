package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Config is the root configuration structure for the pcd core daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Driver    DriverConfig    `yaml:"driver"`
	Catalogue CatalogueConfig `yaml:"catalogue"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DriverConfig contains the device registry limits.
type DriverConfig struct {
	NumberBase  int    `yaml:"number_base"`
	MaxDevices  int    `yaml:"max_devices"`
	MaxCapacity uint32 `yaml:"max_capacity"`
}

// CatalogueConfig lists the device sources attached at startup.
type CatalogueConfig struct {
	// DescriptionTree is an optional YAML description tree; every node in it
	// is attached at startup.
	DescriptionTree string `yaml:"description_tree"`

	// PlatformDevices are attached by type name at startup.
	PlatformDevices []PlatformDeviceConfig `yaml:"platform_devices"`
}

// PlatformDeviceConfig declares one device announced by type name.
type PlatformDeviceConfig struct {
	Name         string `yaml:"name"`
	SerialNumber string `yaml:"serial_number"`
	Size         uint32 `yaml:"size"`
	Perm         string `yaml:"perm"`
}

// Descriptor converts the entry to a device descriptor.
func (p PlatformDeviceConfig) Descriptor() (pcd.Descriptor, error) {
	perm, err := pcd.ParsePermission(p.Perm)
	if err != nil {
		return pcd.Descriptor{}, err
	}
	return pcd.Descriptor{Capacity: p.Size, Permission: perm, SerialNumber: p.SerialNumber}, nil
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`

	// PayloadFormat is the encoding of published device attributes and
	// events: "json" or "cbor". Inbound announcements may use either.
	PayloadFormat string `yaml:"payload_format"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PCD_SECTION_KEY
// For example: PCD_DATABASE_PATH, PCD_API_PORT
//
// An empty path skips the file and loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. The two platform
// devices are the stock pseudo devices.
func defaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{
			NumberBase:  0,
			MaxDevices:  256,
			MaxCapacity: 16 << 20,
		},
		Catalogue: CatalogueConfig{
			PlatformDevices: []PlatformDeviceConfig{
				{Name: "pcdev-A1x", SerialNumber: "PCDEVABC1111", Size: 512, Perm: "rdwr"},
				{Name: "pcdev-B1x", SerialNumber: "PCDEVXYZ2222", Size: 1024, Perm: "rdwr"},
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/pcdcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pcdcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix:   "pcd",
			PayloadFormat: "json",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "pcd",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PCD_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Driver
	if v := os.Getenv("PCD_DRIVER_NUMBER_BASE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PCD_DRIVER_NUMBER_BASE: %w", err)
		}
		cfg.Driver.NumberBase = n
	}
	if v := os.Getenv("PCD_DRIVER_MAX_DEVICES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PCD_DRIVER_MAX_DEVICES: %w", err)
		}
		cfg.Driver.MaxDevices = n
	}

	// Catalogue
	if v := os.Getenv("PCD_CATALOGUE_DESCRIPTION_TREE"); v != "" {
		cfg.Catalogue.DescriptionTree = v
	}

	// Database
	if v := os.Getenv("PCD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PCD_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PCD_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("PCD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PCD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PCD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PCD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PCD_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PCD_API_PORT: %w", err)
		}
		cfg.API.Port = n
	}

	// InfluxDB
	if v := os.Getenv("PCD_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("PCD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("PCD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	// Driver validation
	if c.Driver.NumberBase < 0 {
		errs = append(errs, "driver.number_base must not be negative")
	}
	if c.Driver.MaxDevices < 1 {
		errs = append(errs, "driver.max_devices must be at least 1")
	}
	if c.Driver.MaxCapacity == 0 {
		errs = append(errs, "driver.max_capacity must be greater than zero")
	}

	// Catalogue validation
	for i, p := range c.Catalogue.PlatformDevices {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("catalogue.platform_devices[%d].name is required", i))
		}
		if _, err := p.Descriptor(); err != nil {
			errs = append(errs, fmt.Sprintf("catalogue.platform_devices[%d].perm: %v", i, err))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	switch c.MQTT.PayloadFormat {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Sprintf("mqtt.payload_format must be json or cbor, got %q", c.MQTT.PayloadFormat))
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
