package withrottle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
)

func bridgeConfig(addr string) Config {
	return Config{
		Client: ClientConfig{
			Address:        addr,
			ClientID:       "test-client",
			Name:           "JMRI",
			RosterInterval: -1,
		},
		Topics:         mqtt.Topics{Namespace: "railhub"},
		Name:           "JMRI",
		Version:        "1.2.3",
		QoS:            1,
		HealthInterval: time.Hour,
	}
}

func (m *mockMQTT) hasTopic(topic string) bool {
	for _, msg := range m.messages() {
		if msg.Topic == topic {
			return true
		}
	}
	return false
}

func (m *mockMQTT) isDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func TestNewBridge_Validation(t *testing.T) {
	dial := func(func()) (MQTTClient, error) { return newMockMQTT(), nil }

	if _, err := NewBridge(Options{Config: bridgeConfig("x:1")}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewBridge() without dialer error = %v, want ErrInvalidConfig", err)
	}
	cfg := bridgeConfig("x:1")
	cfg.Name = ""
	if _, err := NewBridge(Options{Config: cfg, Dial: dial}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewBridge() without name error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewBridge(Options{Config: bridgeConfig(""), Dial: dial}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewBridge() without address error = %v, want ErrInvalidConfig", err)
	}
}

func TestBridge_EndToEnd(t *testing.T) {
	srv := newFakeServer(t)
	bus := newMockMQTT()
	reg := prometheus.NewRegistry()

	b, err := NewBridge(Options{
		Config:     bridgeConfig(srv.addr()),
		Dial:       func(func()) (MQTTClient, error) { return bus, nil },
		Registerer: reg,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	t.Cleanup(b.Stop)

	conn := srv.accept(t)
	conn.handshake(t)

	// Wire → bus.
	conn.send(t, `RL1]\[Class 47}|{1234}|{L`, "MTAL1234<;>V30")
	conn.waitFor(t, "MT+L1234<;>L1234")
	waitUntil(t, func() bool { return bus.hasTopic(topicL1234Cfg) })
	waitUntil(t, func() bool { return b.RosterSize() == 1 })

	// Bus → wire.
	bus.handler(t, topicDecoderSet)(topicL1234Set, []byte(`{"speed":20}`))
	conn.waitFor(t, "MTAL1234<;>V20")
	bus.handler(t, topicPowerSet)(topicPowerSet, []byte(`{"state":"ON"}`))
	conn.waitFor(t, "PPA1")

	if got := testutil.ToFloat64(b.metrics.sessions); got != 1 {
		t.Errorf("sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.metrics.rosterSize); got != 1 {
		t.Errorf("roster size gauge = %v, want 1", got)
	}

	b.Stop()
	conn.waitFor(t, "Q")
	if !bus.isDisconnected() {
		t.Error("bus not disconnected after Stop")
	}

	var health []HealthStatus
	for _, m := range bus.messages() {
		if m.Topic == "railhub/bridge/jmri/health" {
			health = append(health, decodeHealth(t, m.Payload).Status)
		}
	}
	if len(health) < 2 || health[0] != HealthStarting || health[len(health)-1] != HealthStopping {
		t.Errorf("health statuses = %v, want starting first and stopping last", health)
	}
}

func TestBridge_RetriesBusDial(t *testing.T) {
	srv := newFakeServer(t)
	bus := newMockMQTT()
	var attempts atomic.Int32

	cfg := bridgeConfig(srv.addr())
	cfg.HealthInterval = -1
	b, err := NewBridge(Options{
		Config: cfg,
		Dial: func(func()) (MQTTClient, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("connection refused")
			}
			return bus, nil
		},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	// The wire side runs while the bus is still down.
	conn := srv.accept(t)
	conn.handshake(t)
	conn.send(t, `RL1]\[Shunter}|{3}|{S`)
	conn.waitFor(t, "MT+S3<;>S3")

	// Events queued before the bus came up are relayed afterwards.
	waitUntil(t, func() bool { return bus.hasTopic("railhub/decoder/jmri-s3/config") })
	if got := attempts.Load(); got != 2 {
		t.Errorf("dial attempts = %d, want 2", got)
	}
	for _, m := range bus.messages() {
		if m.Topic == "railhub/bridge/jmri/health" {
			t.Fatal("health published while disabled")
		}
	}
}

func TestBridge_ReannouncesOnBusReconnect(t *testing.T) {
	srv := newFakeServer(t)
	bus := newMockMQTT()
	onConnect := make(chan func(), 1)

	cfg := bridgeConfig(srv.addr())
	cfg.HealthInterval = -1
	b, err := NewBridge(Options{
		Config: cfg,
		Dial: func(connected func()) (MQTTClient, error) {
			onConnect <- connected
			return bus, nil
		},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	var connected func()
	select {
	case connected = <-onConnect:
	case <-time.After(testTimeout):
		t.Fatal("bus never dialled")
	}
	if connected == nil {
		t.Fatal("dialer got a nil connect callback")
	}

	conn := srv.accept(t)
	conn.handshake(t)
	conn.send(t, `RL1]\[Class 47}|{1234}|{L`)
	waitUntil(t, func() bool { return bus.hasTopic(topicL1234Cfg) })

	// A reconnect with no retained hub status must still re-announce.
	connected()
	waitUntil(t, func() bool {
		configs := 0
		for _, m := range bus.messages() {
			if m.Topic == topicL1234Cfg {
				configs++
			}
		}
		return configs >= 2 && bus.hasTopic(topicPowerCfg)
	})
}
