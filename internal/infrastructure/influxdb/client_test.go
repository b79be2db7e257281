package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/railhub/internal/infrastructure/config"
	"github.com/nerrad567/railhub/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "railhub-dev-token",
		Org:           "railhub",
		Bucket:        "layout",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(context.Background(), testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteEntityState(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	speed := 42
	client.WriteEntityState(influxdb.EntityState{
		Topic: "railhub/decoder/jmri-l3/state", Kind: "decoder", Status: "on",
		Speed: &speed, Direction: "forward",
	})
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true on nil client")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() on nil client error = %v, want ErrNotConnected", err)
	}
	// Writes and flushes on a nil client are dropped.
	client.WriteEntityState(influxdb.EntityState{Topic: "x"})
	client.Flush()
}

func TestClose_Twice(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(context.Background(), testConfig(), influxdb.WithDefaultTag("site", "test-layout"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestNewEntityStatePoint(t *testing.T) {
	speed := 12
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := influxdb.NewEntityStatePoint(influxdb.EntityState{
		Topic:     "railhub/decoder/jmri-l3/state",
		Kind:      "decoder",
		Name:      "Class 37",
		Status:    "on",
		Speed:     &speed,
		Direction: "reverse",
		Time:      ts,
	})

	if p.Name() != influxdb.MeasurementEntityState {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["topic"] != "railhub/decoder/jmri-l3/state" || tags["kind"] != "decoder" || tags["name"] != "Class 37" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["status"] != "on" || fields["direction"] != "reverse" {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["speed"]; !ok {
		t.Error("speed field missing")
	}
}

func TestNewEntityStatePoint_OmitsEmptyFields(t *testing.T) {
	p := influxdb.NewEntityStatePoint(influxdb.EntityState{Topic: "t", Kind: "points", Status: "through"})
	if len(p.FieldList()) != 1 {
		t.Errorf("FieldList() has %d fields, want only status", len(p.FieldList()))
	}
	if len(p.TagList()) != 2 {
		t.Errorf("TagList() has %d tags, want topic and kind", len(p.TagList()))
	}
}
