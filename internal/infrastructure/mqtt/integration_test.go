//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/railhub/internal/infrastructure/config"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
			TLS:      false,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		Namespace: "railhub-int",
	}
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationConfig("railhub-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_ConnectInvalidBroker(t *testing.T) {
	cfg := integrationConfig("railhub-int-refused")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("railhub-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		"railhub-int/test/a/state",
		"railhub-int/test/b/state",
		"railhub-int/test/c/state",
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

func TestIntegration_WildcardRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("railhub-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("railhub-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	topics := Topics{Namespace: "railhub-int"}
	var mu sync.Mutex
	received := make(map[string]string)

	err = sub.Subscribe(topics.AllStates(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		received[topic] = string(payload)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	want := map[string]string{
		topics.EntityState("points", "p1"):         `{"state":"T"}`,
		topics.EntityState("block_detector", "b1"): `{"state":"ON"}`,
	}
	for topic, payload := range want {
		if err := pub.Publish(topic, []byte(payload), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == len(want) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for topic, payload := range want {
		if received[topic] != payload {
			t.Errorf("received[%s] = %q, want %q", topic, received[topic], payload)
		}
	}
}

func TestIntegration_StatusPublishedOnConnect(t *testing.T) {
	topics := Topics{Namespace: "railhub-int"}

	watcher, err := Connect(integrationConfig("railhub-int-watch"))
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	got := make(chan string, 4)
	err = watcher.Subscribe(topics.Status(), 1, func(_ string, payload []byte) error {
		got <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	hub, err := Connect(integrationConfig("railhub-int-hub"),
		WithStatus(topics.Status(), StatusOnline, StatusOffline))
	if err != nil {
		t.Fatalf("Connect() hub error = %v", err)
	}

	waitFor := func(want string) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case p := <-got:
				if p == want {
					return
				}
			case <-timeout:
				t.Fatalf("timeout waiting for status %q", want)
			}
		}
	}
	waitFor(StatusOnline)

	hub.Close()
	waitFor(StatusOffline)
}
