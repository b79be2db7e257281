package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/railhub/internal/infrastructure/config"
	"github.com/nerrad567/railhub/internal/infrastructure/logging"
	"github.com/nerrad567/railhub/internal/state"
)

const (
	pointsTopic  = "railhub/points/p1/state"
	powerTopic   = "railhub/power_switch/track/state"
	decoderTopic = "railhub/decoder/jmri-l1234/state"
	testSecret   = "test-secret-key-at-least-32-characters-long"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type publishedMessage struct {
	Topic   string
	Payload string
}

// mockPublisher records every published message.
type mockPublisher struct {
	mu        sync.Mutex
	messages  []publishedMessage
	connected bool
	err       error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testStore returns a store with points, a power switch and a decoder.
func testStore(t *testing.T) *state.Store {
	t.Helper()
	s := state.NewStore()
	s.AddState(pointsTopic, state.NewRecord(state.KindPoints, state.Model{
		Name:         "P1",
		CommandTopic: "railhub/points/p1/set",
		ThroughState: "T",
		DivergeState: "D",
	}), false)
	s.AddState(powerTopic, state.NewRecord(state.KindPowerSwitch, state.Model{Name: "Track"}), false)
	s.AddState(decoderTopic, state.NewRecord(state.KindDecoder, state.Model{
		Name:         "Class 47",
		CommandTopic: "railhub/decoder/jmri-l1234/set",
	}), false)
	if err := s.UpdateState(decoderTopic, state.Update{Functions: map[string]state.Function{
		"0": {Label: "Lights", State: state.StatusOn},
		"1": {Label: "Horn", State: state.StatusOff},
	}}); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	return s
}

type testDeps struct {
	store     *state.Store
	publisher *mockPublisher
}

// testServer creates a Server with an in-memory store and mock publisher.
func testServer(t *testing.T, modify ...func(*Deps)) (*Server, testDeps) {
	t.Helper()

	td := testDeps{store: testStore(t), publisher: &mockPublisher{connected: true}}
	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    testLogger(),
		Store:     td.store,
		Publisher: td.publisher,
		Version:   "test",
	}
	for _, m := range modify {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, td
}

func doRequest(t *testing.T, srv *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rr, req)
	return rr
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Store: state.NewStore()}); !errors.Is(err, ErrInvalidDeps) {
		t.Errorf("New() without logger error = %v, want ErrInvalidDeps", err)
	}
	if _, err := New(Deps{Logger: testLogger()}); !errors.Is(err, ErrInvalidDeps) {
		t.Errorf("New() without store error = %v, want ErrInvalidDeps", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
}

func TestHealth_DegradedComponent(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Components = map[string]HealthChecker{
			"mqtt":    HealthFunc(func(context.Context) error { return errors.New("not connected") }),
			"catalog": HealthFunc(func(context.Context) error { return nil }),
		}
	})
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var body HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if got := body.Components["mqtt"]; got.Status != "error" || got.Error != "not connected" {
		t.Errorf("mqtt component = %+v", got)
	}
	if got := body.Components["catalog"]; got.Status != "ok" {
		t.Errorf("catalog component = %+v", got)
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)

	// uuid string form
	if id := rr.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a generated UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", http.Header{"X-Request-Id": {"abc-123"}})

	if id := rr.Header().Get("X-Request-ID"); id != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", id)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	rr := doRequest(t, srv, http.MethodOptions, "/api/v1/state", http.Header{"Origin": {"http://panel.local"}})
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	rr = doRequest(t, srv, http.MethodOptions, "/api/v1/state", http.Header{"Origin": {"http://evil.example"}})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Access-Control-Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	if rr := doRequest(t, srv, http.MethodGet, "/api/v1/nonexistent", nil); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestGetState(t *testing.T) {
	srv, td := testServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/state", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got state.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != td.store.Len() {
		t.Fatalf("snapshot has %d records, want %d", len(got), td.store.Len())
	}
	rec := got[decoderTopic]
	if rec.Kind != state.KindDecoder || rec.Live.Functions["0"].Label != "Lights" {
		t.Errorf("decoder record = %+v", rec)
	}
	if got[pointsTopic].Model.ThroughState != "T" {
		t.Errorf("points model = %+v", got[pointsTopic].Model)
	}
}

func TestSystem(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/api/v1/system", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got SystemMetrics
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State.Total != 3 || got.State.ByKind["decoder"] != 1 {
		t.Errorf("state metrics = %+v", got.State)
	}
	if !got.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if got.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "railhub_up 1\n")
		})
	})
	rr := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "railhub_up") {
		t.Errorf("GET /metrics = %d %q", rr.Code, rr.Body.String())
	}

	plain, _ := testServer(t)
	if rr := doRequest(t, plain, http.MethodGet, "/metrics", nil); rr.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", rr.Code)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start error = %v, want ErrNotStarted", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	addr := srv.Addr().String()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	client := &http.Client{Timeout: time.Second}
	if _, err := client.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	first, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer first.Close()

	port := first.Addr().(*net.TCPAddr).Port
	second, _ := testServer(t, func(d *Deps) { d.Config.Port = port })
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("Start() on a bound port succeeded, want error")
	}
}

func testServerWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}
