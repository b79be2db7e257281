package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/railhub/internal/state"
)

const wsTimeout = 2 * time.Second

// dialState starts an httptest server for srv and opens the state socket.
func dialState(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/state/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(wsTimeout))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func readState(t *testing.T, ws *websocket.Conn) state.Snapshot {
	t.Helper()
	msg := readMessage(t, ws)
	if msg.Type != WSTypeState {
		t.Fatalf("message type = %q, want state", msg.Type)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("decode state payload: %v", err)
	}
	return snap
}

func errorCode(t *testing.T, msg WSMessage) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Code
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(wsTimeout)
	for srv.hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", srv.hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStateSocket_ReplayAndChanges(t *testing.T) {
	srv, td := testServer(t)
	ws := dialState(t, srv, "")

	replay := readState(t, ws)
	if len(replay) != 3 {
		t.Fatalf("replay has %d records, want 3", len(replay))
	}
	if replay[decoderTopic].Live.Functions["0"].State != state.StatusOn {
		t.Errorf("replayed decoder = %+v", replay[decoderTopic])
	}

	raw := "T"
	if err := td.store.UpdateState(pointsTopic, state.Update{State: &raw}); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	change := readState(t, ws)
	if len(change) != 1 {
		t.Fatalf("change has %d records, want 1", len(change))
	}
	if got := change[pointsTopic].Live.Status; got != state.StatusThrough {
		t.Errorf("points status = %q, want through", got)
	}
}

func TestStateSocket_SetPointsPublishes(t *testing.T) {
	srv, td := testServer(t)
	ws := dialState(t, srv, "")
	readState(t, ws)

	msg := map[string]any{
		"type":    ControlSetPoints,
		"id":      "cmd-1",
		"payload": map[string]string{"topic": pointsTopic, "state": "diverge"},
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "cmd-1" {
		t.Fatalf("response = %+v", resp)
	}
	msgs := td.publisher.published()
	if len(msgs) != 1 || msgs[0].Topic != "railhub/points/p1/set" || msgs[0].Payload != `{"state":"D"}` {
		t.Errorf("published = %+v", msgs)
	}
}

func TestStateSocket_Errors(t *testing.T) {
	srv, td := testServer(t)
	ws := dialState(t, srv, "")
	readState(t, ws)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeError || errorCode(t, resp) != ErrCodeBadRequest {
		t.Errorf("bad JSON response = %+v, want %s error", resp, ErrCodeBadRequest)
	}

	bad := map[string]any{
		"type":    ControlSetSpeed,
		"id":      "cmd-2",
		"payload": map[string]string{"topic": "railhub/decoder/nope/state"},
	}
	if err := ws.WriteJSON(bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypeError || resp.ID != "cmd-2" || errorCode(t, resp) != ErrCodeNotFound {
		t.Errorf("unknown topic response = %+v", resp)
	}

	if err := ws.WriteJSON(map[string]string{"type": "launch-rockets", "id": "cmd-3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeError || errorCode(t, resp) != ErrCodeBadRequest {
		t.Errorf("unknown type response = %+v, want %s error", resp, ErrCodeBadRequest)
	}

	if err := ws.WriteJSON(map[string]string{"type": WSTypePing, "id": "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypePong || resp.ID != "p" {
		t.Errorf("ping response = %+v", resp)
	}

	if got := len(td.publisher.published()); got != 0 {
		t.Errorf("published %d messages, want 0", got)
	}
}

func TestStateSocket_DisconnectRemovesListener(t *testing.T) {
	srv, td := testServer(t)
	ws := dialState(t, srv, "")
	readState(t, ws)
	waitForClients(t, srv, 1)

	ws.Close()
	waitForClients(t, srv, 0)

	// Further changes must not panic or block on the closed client.
	raw := "D"
	if err := td.store.UpdateState(pointsTopic, state.Update{State: &raw}); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
}

func TestStateSocket_QueryToken(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Security.JWT.Secret = testSecret })
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "panel"})

	ws := dialState(t, srv, "?token="+token)
	if snap := readState(t, ws); len(snap) != 3 {
		t.Errorf("replay has %d records, want 3", len(snap))
	}

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/state/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != 401 {
		t.Errorf("dial without token response = %v, want 401", resp)
	}
}

func TestWSClient_SlowClientResyncs(t *testing.T) {
	client := &WSClient{hub: NewHub(testServerWSConfig(), testLogger()), send: make(chan []byte, 1)}
	snap := state.Snapshot{
		pointsTopic: state.NewRecord(state.KindPoints, state.Model{}),
		powerTopic:  state.NewRecord(state.KindPowerSwitch, state.Model{}),
	}

	client.StateChanged(snap, pointsTopic) // fills the buffer
	client.StateChanged(snap, powerTopic)  // dropped
	if !client.resync.Load() || client.dropped.Load() != 1 {
		t.Fatalf("resync = %v, dropped = %d", client.resync.Load(), client.dropped.Load())
	}

	<-client.send
	client.StateChanged(snap, pointsTopic)
	var msg WSMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got state.Snapshot
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("message after drop has %d records, want full snapshot", len(got))
	}
	if client.resync.Load() {
		t.Error("resync still set after full snapshot was sent")
	}

	client.close()
	client.close()
	if client.trySend([]byte("x")) {
		t.Error("trySend succeeded on closed client")
	}
}

func TestStateSocket_BusDownIsUnavailable(t *testing.T) {
	srv, td := testServer(t)
	td.publisher.mu.Lock()
	td.publisher.err = errors.New("not connected")
	td.publisher.mu.Unlock()

	ws := dialState(t, srv, "")
	readState(t, ws)

	msg := map[string]any{
		"type":    ControlSetPoints,
		"id":      "cmd-1",
		"payload": map[string]string{"topic": pointsTopic, "state": "through"},
	}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypeError || resp.ID != "cmd-1" || errorCode(t, resp) != ErrCodeUnavailable {
		t.Errorf("response = %+v, want %s error", resp, ErrCodeUnavailable)
	}
}
