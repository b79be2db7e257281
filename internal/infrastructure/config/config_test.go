package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a config.yaml in a temp directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// validConfig returns a Config that passes validation.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Database.Path = "/data/config.db"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-layout"
database:
  path: "/tmp/layout.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    tls: false
  namespace: "trains"
withrottle:
  enabled: true
  host: "jmri.local"
  name: "Loft JMRI"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-layout" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-layout")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = true, want false from file")
	}
	if cfg.MQTT.Namespace != "trains" {
		t.Errorf("MQTT.Namespace = %q, want %q", cfg.MQTT.Namespace, "trains")
	}
	if got := cfg.WiThrottleAddress(); got != "jmri.local:12090" {
		t.Errorf("WiThrottleAddress() = %q, want default port", got)
	}
	// Defaults survive for keys the file does not set.
	if cfg.Automation.DebounceMS != 250 {
		t.Errorf("Automation.DebounceMS = %d, want default 250", cfg.Automation.DebounceMS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
mqtt:
  namespace: "rail/hub"
database:
  path: "/tmp/layout.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for multi-level namespace, got nil")
	}
	if !strings.Contains(err.Error(), "mqtt.namespace") {
		t.Errorf("error = %v, want mention of mqtt.namespace", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/layout.db"
mqtt:
  broker:
    host: "from-file"
`)
	t.Setenv("RAILHUB_MQTT_HOST", "from-env")
	t.Setenv("RAILHUB_MQTT_PORT", "1884")
	t.Setenv("RAILHUB_MQTT_NAMESPACE", "layout2")
	t.Setenv("RAILHUB_LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "from-env" {
		t.Errorf("MQTT.Broker.Host = %q, want from-env", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Namespace != "layout2" {
		t.Errorf("MQTT.Namespace = %q, want layout2", cfg.MQTT.Namespace)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	configPath := writeConfig(t, "database:\n  path: /tmp/layout.db\n")
	t.Setenv("RAILHUB_MQTT_PORT", "not-a-port")

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for non-numeric RAILHUB_MQTT_PORT, got nil")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadDotEnv() error = %v, want nil", err)
		}
	})

	t.Run("sets unset variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("RAILHUB_TEST_DOTENV=loaded\n"), 0600); err != nil {
			t.Fatalf("failed to write .env: %v", err)
		}
		t.Setenv("RAILHUB_TEST_DOTENV", "")
		os.Unsetenv("RAILHUB_TEST_DOTENV")

		if err := LoadDotEnv(path); err != nil {
			t.Fatalf("LoadDotEnv() error = %v", err)
		}
		if got := os.Getenv("RAILHUB_TEST_DOTENV"); got != "loaded" {
			t.Errorf("RAILHUB_TEST_DOTENV = %q, want loaded", got)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "database path not needed when hub disabled",
			mutate: func(c *Config) {
				c.Database.Path = ""
				c.Hub.Enabled = false
			},
		},
		{
			name: "file catalog needs a file",
			mutate: func(c *Config) {
				c.Catalog.Source = "file"
			},
			wantErr: "catalog.file",
		},
		{
			name:    "unknown catalog source",
			mutate:  func(c *Config) { c.Catalog.Source = "postgres" },
			wantErr: "catalog.source",
		},
		{
			name:    "wildcard namespace",
			mutate:  func(c *Config) { c.MQTT.Namespace = "rail#" },
			wantErr: "mqtt.namespace",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "withrottle without host or discovery",
			mutate:  func(c *Config) { c.WiThrottle.Enabled = true },
			wantErr: "withrottle.host",
		},
		{
			name: "withrottle with discovery",
			mutate: func(c *Config) {
				c.WiThrottle.Enabled = true
				c.WiThrottle.Discover = true
			},
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "too-short" },
			wantErr: "security.jwt.secret",
		},
		{
			name:    "influx without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := validConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetDebounce(); got != 250*time.Millisecond {
		t.Errorf("GetDebounce() = %v, want 250ms", got)
	}
	cfg.WiThrottle.Host = ""
	if got := cfg.WiThrottleAddress(); got != "" {
		t.Errorf("WiThrottleAddress() = %q, want empty for discovery", got)
	}
}
