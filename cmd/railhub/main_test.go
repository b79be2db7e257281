package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/railhub/internal/api"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("RAILHUB_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config failure", err)
	}
}

// TestRun_ValidationFailure verifies run stops before connecting when the
// config does not validate.
func TestRun_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-layout

catalog:
  source: "sqlite"

database:
  path: ""

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    tls: false
  qos: 1
  namespace: "railhub"

hub:
  enabled: true

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("RAILHUB_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path problem", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("RAILHUB_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("RAILHUB_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestHealthCheck(t *testing.T) {
	errDown := errors.New("down")
	ok := api.HealthFunc(func(context.Context) error { return nil })
	failing := api.HealthFunc(func(context.Context) error { return errDown })

	t.Run("all healthy", func(t *testing.T) {
		err := healthCheck(context.Background(), map[string]api.HealthChecker{
			"mqtt":     ok,
			"database": ok,
		})
		if err != nil {
			t.Errorf("healthCheck() = %v, want nil", err)
		}
	})

	t.Run("no components", func(t *testing.T) {
		if err := healthCheck(context.Background(), nil); err != nil {
			t.Errorf("healthCheck() = %v, want nil", err)
		}
	})

	t.Run("failures reported together", func(t *testing.T) {
		err := healthCheck(context.Background(), map[string]api.HealthChecker{
			"mqtt":     failing,
			"database": ok,
			"influxdb": failing,
		})
		if !errors.Is(err, errDown) {
			t.Fatalf("healthCheck() = %v, want %v", err, errDown)
		}
		for _, name := range []string{"mqtt: down", "influxdb: down"} {
			if !strings.Contains(err.Error(), name) {
				t.Errorf("healthCheck() = %q, missing %q", err, name)
			}
		}
		if strings.Contains(err.Error(), "database") {
			t.Errorf("healthCheck() = %q, healthy component reported", err)
		}
	})
}
