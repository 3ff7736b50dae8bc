package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/metrics"
)

// testServer wires a Server onto an httptest server.
type testServer struct {
	*Server
	http *httptest.Server
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	opts.Logger = zerolog.Nop()
	reg := NewRegistry(RegistryOptions{Logger: zerolog.Nop()})
	srv := NewServer(reg, opts)

	r := chi.NewRouter()
	srv.SetupRoutes(r)
	hs := httptest.NewServer(SecurityHeaders(r))
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return &testServer{Server: srv, http: hs}
}

func (ts *testServer) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func expectNoMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func waitMembers(t *testing.T, reg *Registry, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(reg.Members(room)) == n
	}, 2*time.Second, 10*time.Millisecond, "room %s never reached %d members", room, n)
}

func TestConnectAutoJoinsPrivateRoom(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, url.Values{"userId": {"u1"}})

	waitMembers(t, ts.Registry(), "user:u1", 1)

	ts.Registry().Emit("user:u1", "notification", map[string]string{"id": "n1"})
	m := readMessage(t, conn)
	assert.Equal(t, "notification", m.Type)
	assert.Equal(t, "n1", m.Payload.(map[string]any)["id"])
}

func TestIdentityFromHeader(t *testing.T) {
	ts := newTestServer(t, Options{})
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"X-User-Id": {"u7"}})
	require.NoError(t, err)
	defer conn.Close()

	waitMembers(t, ts.Registry(), "user:u7", 1)
}

func TestAnonymousConnectionIsAccepted(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, nil)

	require.Eventually(t, func() bool { return ts.Registry().SessionCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.Registry().RoomCount(), "anonymous session must not join a private room")

	ts.Registry().Broadcast("inventory:update", map[string]int{"newQuantity": 1})
	assert.Equal(t, "inventory:update", readMessage(t, conn).Type)
}

func TestJoinAndLeaveOrderRoom(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dial(t, url.Values{"userId": {"a"}})
	b := ts.dial(t, url.Values{"userId": {"b"}})
	c := ts.dial(t, url.Values{"userId": {"c"}})

	sendJSON(t, a, map[string]any{"type": "join:order", "payload": "42"})
	sendJSON(t, b, map[string]any{"type": "join:order", "payload": "42"})
	waitMembers(t, ts.Registry(), "order:42", 2)

	ts.Registry().Emit("order:42", "order:update", map[string]string{"orderId": "42"})
	assert.Equal(t, "order:update", readMessage(t, a).Type)
	assert.Equal(t, "order:update", readMessage(t, b).Type)
	expectNoMessage(t, c)

	sendJSON(t, a, map[string]any{"type": "leave:order", "payload": "42"})
	waitMembers(t, ts.Registry(), "order:42", 1)

	ts.Registry().Emit("order:42", "order:update", map[string]string{"orderId": "42"})
	assert.Equal(t, "order:update", readMessage(t, b).Type)
	expectNoMessage(t, a)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, url.Values{"userId": {"u1"}})
	waitMembers(t, ts.Registry(), "user:u1", 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	sendJSON(t, conn, map[string]any{"type": "join:order", "payload": 42})
	sendJSON(t, conn, map[string]any{"type": "join:order", "payload": "  "})
	sendJSON(t, conn, map[string]any{"type": "self-destruct", "payload": "x"})
	sendJSON(t, conn, map[string]any{"type": "join:order", "payload": "ok"})

	waitMembers(t, ts.Registry(), "order:ok", 1)
	assert.Equal(t, 2, ts.Registry().RoomCount(), "only user:u1 and order:ok should exist")

	// Connection is still usable.
	ts.Registry().Emit("order:ok", "order:update", nil)
	assert.Equal(t, "order:update", readMessage(t, conn).Type)
}

func TestUnknownMessageTypesShareOneMetricSeries(t *testing.T) {
	srv := NewServer(NewRegistry(RegistryOptions{Logger: zerolog.Nop()}), Options{Logger: zerolog.Nop()})
	sess := NewSession("u1", TransportWebSocket, "test", 4)

	srv.handleClientMessage(sess, []byte(`{"type":"junk-first","payload":"x"}`), zerolog.Nop())
	before := testutil.CollectAndCount(metrics.ClientMessages)

	for i := 0; i < 500; i++ {
		frame := fmt.Sprintf(`{"type":"junk-%d","payload":"x"}`, i)
		srv.handleClientMessage(sess, []byte(frame), zerolog.Nop())
	}
	assert.Equal(t, before, testutil.CollectAndCount(metrics.ClientMessages))
	assert.Equal(t, "other", messageLabel("junk-1"))
	assert.Equal(t, MsgJoinOrder, messageLabel(MsgJoinOrder))
}

func TestAbruptDisconnectCleansUpRooms(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, url.Values{"userId": {"u1"}})
	sendJSON(t, conn, map[string]any{"type": "join:order", "payload": "42"})
	waitMembers(t, ts.Registry(), "order:42", 1)

	// Drop the TCP connection without a close handshake.
	conn.UnderlyingConn().Close()

	require.Eventually(t, func() bool { return ts.Registry().SessionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.Registry().RoomCount())
	assert.NotPanics(t, func() { ts.Registry().Emit("order:42", "order:update", nil) })
}

func TestMaxSessionsRejectsUpgrade(t *testing.T) {
	reg := NewRegistry(RegistryOptions{MaxSessions: 1, Logger: zerolog.Nop()})
	srv := NewServer(reg, Options{Logger: zerolog.Nop()})
	r := chi.NewRouter()
	srv.SetupRoutes(r)
	hs := httptest.NewServer(r)
	defer hs.Close()
	defer srv.Shutdown()

	u := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	first, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return reg.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Equal(t, 1, reg.SessionCount())
}

func TestShutdownClosesConnections(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, url.Values{"userId": {"u1"}})
	waitMembers(t, ts.Registry(), "user:u1", 1)

	ts.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, ts.Registry().SessionCount())
}

func TestUnauthorizedUpgrade(t *testing.T) {
	ts := newTestServer(t, Options{AuthToken: "secret"})
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(u+"?token=secret&userId=u1", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		mutate func(*http.Request)
		want   bool
	}{
		{"no token configured", "", func(*http.Request) {}, true},
		{"missing", "t", func(*http.Request) {}, false},
		{"query", "t", func(r *http.Request) { r.URL.RawQuery = "token=t" }, true},
		{"header", "t", func(r *http.Request) { r.Header.Set(TokenHeader, "t") }, true},
		{"bearer", "t", func(r *http.Request) { r.Header.Set("Authorization", "Bearer t") }, true},
		{"wrong bearer", "t", func(r *http.Request) { r.Header.Set("Authorization", "Bearer x") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.mutate(req)
			assert.Equal(t, tt.want, Authorize(req, tt.token))
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(NewRegistry(RegistryOptions{}), Options{})
	restricted := NewServer(NewRegistry(RegistryOptions{}), Options{
		AllowedOrigins: []string{"https://erp.example.com", " "},
	})

	tests := []struct {
		name   string
		srv    *Server
		origin string
		want   bool
	}{
		{"no origin", open, "", true},
		{"same host", open, "http://example.com", true},
		{"localhost", open, "http://localhost:3000", true},
		{"loopback v6", open, "http://[::1]:3000", true},
		{"foreign", open, "https://evil.example", false},
		{"allowed exact", restricted, "https://erp.example.com", true},
		{"allowed host other scheme", restricted, "http://erp.example.com", true},
		{"not allowed", restricted, "http://localhost:3000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, tt.srv.checkOrigin(req))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SecurityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.dial(t, url.Values{"userId": {"u1"}})
	waitMembers(t, ts.Registry(), "user:u1", 1)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, 1, body.Rooms)
	assert.NotZero(t, body.Process.PID)
}

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantID   string
		wantErr  error
	}{
		{`{"type":"join:order","payload":"42"}`, MsgJoinOrder, "42", nil},
		{`{"type":"leave:order","payload":" 7 "}`, MsgLeaveOrder, "7", nil},
		{`{"type":"join:order"}`, MsgJoinOrder, "", ErrMalformedMessage},
		{`{"type":"join:order","payload":{"id":"1"}}`, MsgJoinOrder, "", ErrMalformedMessage},
		{`{"payload":"1"}`, "", "", ErrMalformedMessage},
		{`{"type":"ping","payload":"1"}`, "ping", "", ErrUnknownMessage},
		{`[]`, "", "", ErrMalformedMessage},
	}
	for _, tt := range tests {
		typ, id, err := parseClientMessage([]byte(tt.in))
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.wantType, typ, tt.in)
		assert.Equal(t, tt.wantID, id, tt.in)
	}
}
