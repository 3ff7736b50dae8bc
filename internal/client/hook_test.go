package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/ws"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

type harness struct {
	reg     *ws.Registry
	emitter *events.Emitter
	http    *httptest.Server
}

// newHarness runs a real realtime server. With wsDown the WebSocket route
// answers with a plain HTTP error so clients have to fall back to polling.
func newHarness(t *testing.T, wsDown bool) *harness {
	t.Helper()
	reg := ws.NewRegistry(ws.RegistryOptions{Logger: zerolog.Nop()})
	srv := ws.NewServer(reg, ws.Options{Logger: zerolog.Nop(), PollWait: 200 * time.Millisecond})

	r := chi.NewRouter()
	srv.SetupRoutes(r)
	var handler http.Handler = r
	if wsDown {
		handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/ws" {
				http.Error(w, "upgrades disabled", http.StatusBadRequest)
				return
			}
			r.ServeHTTP(w, req)
		})
	}

	hs := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return &harness{reg: reg, emitter: events.NewEmitter(reg), http: hs}
}

func (h *harness) hook(t *testing.T) *Hook {
	t.Helper()
	hk := NewHook(HookConfig{
		URL:                "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws",
		PollURL:            h.http.URL + "/poll",
		Logger:             zerolog.Nop(),
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
	t.Cleanup(hk.Close)
	return hk
}

func (h *harness) waitMembers(t *testing.T, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.reg.Members(room)) == n }, waitFor, tick,
		"room %s never reached %d members", room, n)
}

func TestHookReceivesNotification(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	hk.SetIdentity("u1")
	require.Eventually(t, hk.IsConnected, waitFor, tick)
	assert.Equal(t, "websocket", hk.Transport())
	h.waitMembers(t, "user:u1", 1)

	_, err := h.emitter.Notify("u1", events.Notification{ID: "n1", Type: events.NotificationAlert, Title: "T", Message: "M"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(hk.Notifications()) == 1 }, waitFor, tick)
	n := hk.Notifications()[0]
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, "alert", n.Type)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestHookSetIdentityTwiceKeepsOneConnection(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	hk.SetIdentity("u1")
	hk.SetIdentity("u1")
	require.Eventually(t, hk.IsConnected, waitFor, tick)
	h.waitMembers(t, "user:u1", 1)
	assert.Never(t, func() bool { return h.reg.SessionCount() > 1 }, 200*time.Millisecond, tick)
}

func TestHookSubscribeAndUnsubscribe(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	var a, b atomic.Int32
	unsubA := hk.Subscribe("order:update", func(m Message) {
		var u OrderUpdate
		if m.Decode(&u) == nil && u.OrderID == "42" {
			a.Add(1)
		}
	})
	hk.Subscribe("order:update", func(Message) { b.Add(1) })

	hk.SetIdentity("u1")
	require.Eventually(t, hk.IsConnected, waitFor, tick)
	require.NoError(t, hk.JoinOrder("42"))
	h.waitMembers(t, "order:42", 1)

	change := events.OrderStatusChange{OrderNumber: "SO-1", OldStatus: "pending", NewStatus: "approved", UpdatedBy: "u1"}
	_, err := h.emitter.OrderStatusChanged("42", change)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, waitFor, tick)

	unsubA()
	unsubA()
	_, err = h.emitter.OrderStatusChanged("42", change)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int32(1), a.Load())

	require.NoError(t, hk.LeaveOrder("42"))
	h.waitMembers(t, "order:42", 0)
	assert.Empty(t, hk.Orders())
}

func TestHookRejoinsOrdersAfterReconnect(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	var transitions []bool
	var mu sync.Mutex
	hk.OnConnectionChange(func(connected bool, _ string) {
		mu.Lock()
		transitions = append(transitions, connected)
		mu.Unlock()
	})

	hk.SetIdentity("u1")
	require.Eventually(t, hk.IsConnected, waitFor, tick)
	require.NoError(t, hk.JoinOrder("42"))
	h.waitMembers(t, "order:42", 1)
	before := h.reg.Members("order:42")[0]

	// Server restart: every session and membership is lost.
	h.reg.CloseAll()

	require.Eventually(t, func() bool {
		m := h.reg.Members("order:42")
		return len(m) == 1 && m[0] != before
	}, waitFor, tick, "order room was not re-joined")
	h.waitMembers(t, "user:u1", 1)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(transitions), 3)
	assert.Equal(t, []bool{true, false, true}, transitions[:3])
}

func TestHookJoinBeforeConnect(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	assert.ErrorIs(t, hk.JoinOrder("7"), ErrNotConnected)
	assert.ErrorIs(t, hk.JoinOrder(" "), ErrEmptyOrderID)

	hk.SetIdentity("u1")
	h.waitMembers(t, "order:7", 1)
}

func TestHookFallsBackToPolling(t *testing.T) {
	h := newHarness(t, true)
	hk := h.hook(t)

	got := make(chan InventoryUpdate, 1)
	hk.Subscribe("inventory:update", func(m Message) {
		var u InventoryUpdate
		if m.Decode(&u) == nil {
			got <- u
		}
	})

	hk.SetIdentity("u1")
	require.Eventually(t, hk.IsConnected, waitFor, tick)
	assert.Equal(t, "polling", hk.Transport())
	h.waitMembers(t, "user:u1", 1)

	require.NoError(t, hk.JoinOrder("42"))
	h.waitMembers(t, "order:42", 1)

	h.emitter.InventoryQuantityChanged(events.InventoryChange{ItemID: "i1", NewQuantity: 9})
	select {
	case u := <-got:
		assert.Equal(t, "i1", u.ItemID)
		assert.Equal(t, 9.0, u.NewQuantity)
	case <-time.After(waitFor):
		t.Fatal("inventory update not received over polling")
	}

	_, err := h.emitter.Notify("u1", events.Notification{ID: "p1", Type: events.NotificationSystem})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(hk.Notifications()) == 1 }, waitFor, tick)
}

func TestHookSignOutDropsListenersAndConnection(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	var calls atomic.Int32
	hk.Subscribe("inventory:update", func(Message) { calls.Add(1) })

	hk.SetIdentity("u1")
	h.waitMembers(t, "user:u1", 1)

	hk.SetIdentity("")
	assert.False(t, hk.IsConnected())
	require.Eventually(t, func() bool { return h.reg.SessionCount() == 0 }, waitFor, tick)

	hk.SetIdentity("u2")
	h.waitMembers(t, "user:u2", 1)
	h.emitter.InventoryQuantityChanged(events.InventoryChange{ItemID: "i1"})
	assert.Never(t, func() bool { return calls.Load() > 0 }, 200*time.Millisecond, tick)
}

func TestHookChangeIdentityReconnects(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	hk.SetIdentity("u1")
	h.waitMembers(t, "user:u1", 1)

	hk.SetIdentity("u2")
	h.waitMembers(t, "user:u2", 1)
	h.waitMembers(t, "user:u1", 0)
	assert.Equal(t, "u2", hk.Identity())
}

func TestHookCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	hk := h.hook(t)

	hk.SetIdentity("u1")
	h.waitMembers(t, "user:u1", 1)

	hk.Close()
	hk.Close()
	assert.False(t, hk.IsConnected())
	require.Eventually(t, func() bool { return h.reg.SessionCount() == 0 }, waitFor, tick)

	hk.SetIdentity("u1")
	assert.Never(t, func() bool { return h.reg.SessionCount() > 0 }, 200*time.Millisecond, tick)
	assert.NotPanics(t, func() { hk.Subscribe("x", func(Message) {})() })
}

func notification(t *testing.T, id string) Message {
	t.Helper()
	data, err := json.Marshal(Notification{ID: id, Type: "alert", CreatedAt: time.Now()})
	require.NoError(t, err)
	return Message{Type: EventNotification, Payload: data}
}

func TestHookNotificationBuffer(t *testing.T) {
	hk := NewHook(HookConfig{Logger: zerolog.Nop()})

	for _, id := range []string{"a", "b", "c"} {
		hk.dispatch(notification(t, id))
	}
	hk.dispatch(Message{Type: EventNotification, Payload: json.RawMessage(`"junk"`)})
	assert.Equal(t, []string{"c", "b", "a"}, ids(hk.Notifications()))

	assert.True(t, hk.MarkAsRead("b"))
	assert.False(t, hk.MarkAsRead("b"))
	assert.Equal(t, []string{"c", "a"}, ids(hk.Notifications()))

	for i := 0; i < 60; i++ {
		hk.dispatch(notification(t, "x"))
	}
	assert.Len(t, hk.Notifications(), MaxNotifications)

	hk.ClearNotifications()
	assert.Empty(t, hk.Notifications())
}
