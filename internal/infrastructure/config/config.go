package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for railhub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Hub        HubConfig        `yaml:"hub"`
	Automation AutomationConfig `yaml:"automation"`
	WiThrottle WiThrottleConfig `yaml:"withrottle"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// SiteConfig contains layout-specific information.
type SiteConfig struct {
	ID   string `yaml:"id" env:"RAILHUB_SITE_ID"`
	Name string `yaml:"name" env:"RAILHUB_SITE_NAME"`
}

// DatabaseConfig points at the configuration service's SQLite database.
// It is opened read-only.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"RAILHUB_DATABASE_PATH"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// CatalogConfig selects where entities and signal automations are read from.
type CatalogConfig struct {
	// Source is "sqlite" (the configuration database) or "file" (a YAML layout).
	Source string `yaml:"source" env:"RAILHUB_CATALOG_SOURCE"`

	// File is the YAML layout path when Source is "file".
	File string `yaml:"file" env:"RAILHUB_CATALOG_FILE"`

	// RefreshInterval is how often the catalog is re-read (seconds, 0 = never).
	RefreshInterval int `yaml:"refresh_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// Namespace is the first topic level of every railhub topic.
	Namespace string `yaml:"namespace" env:"RAILHUB_MQTT_NAMESPACE"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host        string `yaml:"host" env:"RAILHUB_MQTT_HOST"`
	Port        int    `yaml:"port" env:"RAILHUB_MQTT_PORT"`
	TLS         bool   `yaml:"tls" env:"RAILHUB_MQTT_TLS"`
	InsecureTLS bool   `yaml:"insecure_tls" env:"RAILHUB_MQTT_INSECURE_TLS"`
	ClientID    string `yaml:"client_id" env:"RAILHUB_MQTT_CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"RAILHUB_MQTT_USERNAME"`
	Password string `yaml:"password" env:"RAILHUB_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HubConfig enables the state hub (bus ingestion, state store, automation).
type HubConfig struct {
	Enabled bool `yaml:"enabled" env:"RAILHUB_HUB_ENABLED"`
}

// AutomationConfig contains signal automation settings.
type AutomationConfig struct {
	Enabled    bool `yaml:"enabled" env:"RAILHUB_AUTOMATION_ENABLED"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// WiThrottleConfig contains WiThrottle bridge settings.
type WiThrottleConfig struct {
	Enabled bool `yaml:"enabled" env:"RAILHUB_WITHROTTLE_ENABLED"`

	// Host and Port locate the WiThrottle server. When Discover is set and
	// Host is empty, the server is found by mDNS.
	Host     string `yaml:"host" env:"RAILHUB_WITHROTTLE_HOST"`
	Port     int    `yaml:"port" env:"RAILHUB_WITHROTTLE_PORT"`
	Discover bool   `yaml:"discover" env:"RAILHUB_WITHROTTLE_DISCOVER"`

	// Name identifies the bridge on the bus and to the server.
	Name     string `yaml:"name" env:"RAILHUB_WITHROTTLE_NAME"`
	ClientID string `yaml:"client_id"`

	HeartbeatTimeout  int `yaml:"heartbeat_timeout"`  // seconds, before the server announces its own
	ReconnectInterval int `yaml:"reconnect_interval"` // seconds
	RosterIntervalMS  int `yaml:"roster_interval_ms"`
	HealthInterval    int `yaml:"health_interval"` // seconds, 0 disables
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" env:"RAILHUB_API_ENABLED"`
	Host     string           `yaml:"host" env:"RAILHUB_API_HOST"`
	Port     int              `yaml:"port" env:"RAILHUB_API_PORT"`
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
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"RAILHUB_INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"RAILHUB_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"RAILHUB_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"RAILHUB_METRICS_ENABLED"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"RAILHUB_LOG_LEVEL"`
	Format string `yaml:"format" env:"RAILHUB_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. An empty secret disables
// API authentication.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"RAILHUB_JWT_SECRET"`
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RAILHUB_SECTION_KEY
// For example: RAILHUB_MQTT_HOST, RAILHUB_WITHROTTLE_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "layout",
			Name: "railhub",
		},
		Database: DatabaseConfig{
			BusyTimeout: 5,
		},
		Catalog: CatalogConfig{
			Source:          "sqlite",
			RefreshInterval: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:        "localhost",
				Port:        8883,
				TLS:         true,
				InsecureTLS: true,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Namespace: "railhub",
		},
		Hub: HubConfig{
			Enabled: true,
		},
		Automation: AutomationConfig{
			Enabled:    true,
			DebounceMS: 250,
		},
		WiThrottle: WiThrottleConfig{
			Port:              12090,
			Name:              "JMRI",
			ClientID:          "railhub",
			HeartbeatTimeout:  10,
			ReconnectInterval: 10,
			RosterIntervalMS:  1000,
			HealthInterval:    30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies RAILHUB_* environment variables declared in
// the env struct tags. Unset variables leave file values untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.Namespace == "" {
		errs = append(errs, "mqtt.namespace is required")
	} else if strings.ContainsAny(c.MQTT.Namespace, "+#/") {
		errs = append(errs, "mqtt.namespace must be a single topic level without wildcards")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	if c.Hub.Enabled {
		switch c.Catalog.Source {
		case "sqlite":
			if c.Database.Path == "" {
				errs = append(errs, "database.path is required when catalog.source is sqlite")
			}
		case "file":
			if c.Catalog.File == "" {
				errs = append(errs, "catalog.file is required when catalog.source is file")
			}
		default:
			errs = append(errs, "catalog.source must be sqlite or file")
		}
	}

	if c.WiThrottle.Enabled {
		if c.WiThrottle.Host == "" && !c.WiThrottle.Discover {
			errs = append(errs, "withrottle.host is required unless withrottle.discover is set")
		}
		if c.WiThrottle.Port < 1 || c.WiThrottle.Port > 65535 {
			errs = append(errs, "withrottle.port must be between 1 and 65535")
		}
		if c.WiThrottle.Name == "" {
			errs = append(errs, "withrottle.name is required")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// GetDebounce returns the automation debounce window.
func (c *Config) GetDebounce() time.Duration {
	return time.Duration(c.Automation.DebounceMS) * time.Millisecond
}

// GetCatalogRefresh returns the catalog polling interval. Zero disables polling.
func (c *Config) GetCatalogRefresh() time.Duration {
	return time.Duration(c.Catalog.RefreshInterval) * time.Second
}

// WiThrottleAddress returns the configured server address as host:port,
// or "" when the server is to be discovered.
func (c *Config) WiThrottleAddress() string {
	if c.WiThrottle.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.WiThrottle.Host, c.WiThrottle.Port)
}
