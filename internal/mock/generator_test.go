package mock

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
)

type emitted struct {
	room    string
	event   string
	payload any
}

type recorder struct {
	mu  sync.Mutex
	out []emitted
}

func (r *recorder) Emit(room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, emitted{room, event, payload})
}

func (r *recorder) Broadcast(event string, payload any) { r.Emit("*", event, payload) }

func (r *recorder) drain() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	r.out = nil
	return out
}

func newTestGenerator() (*MockGenerator, *recorder) {
	rec := &recorder{}
	return NewGenerator(events.NewEmitter(rec), time.Hour, zerolog.Nop()), rec
}

func TestMockGenerator_StartGreetsDemoUsers(t *testing.T) {
	gen, rec := newTestGenerator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	// Start() notifies synchronously before launching the run goroutine.
	out := rec.drain()
	if len(out) != len(DemoUsers) {
		t.Fatalf("Start() emitted %d events, want %d (one per demo user)", len(out), len(DemoUsers))
	}
	for i, ev := range out {
		if ev.event != events.EventNotification {
			t.Errorf("event %d = %q, want notification", i, ev.event)
		}
		if ev.room != "user:"+DemoUsers[i] {
			t.Errorf("event %d room = %q, want user:%s", i, ev.room, DemoUsers[i])
		}
	}
}

func TestMockGenerator_StepEmitsOrderAndInventoryUpdates(t *testing.T) {
	gen, rec := newTestGenerator()
	gen.Step()

	var orders, inventory int
	for _, ev := range rec.drain() {
		switch ev.event {
		case events.EventOrderUpdate:
			orders++
			if !strings.HasPrefix(ev.room, "order:") {
				t.Errorf("order update sent to %q", ev.room)
			}
			p := ev.payload.(events.OrderUpdatePayload)
			if p.OldStatus == p.NewStatus {
				t.Errorf("order %s did not change status", p.OrderID)
			}
		case events.EventInventoryUpdate:
			inventory++
			if ev.room != "*" {
				t.Errorf("inventory update should be global, went to %q", ev.room)
			}
		}
	}

	if orders == 0 {
		t.Error("Step() emitted no order updates")
	}
	if inventory == 0 {
		t.Error("Step() emitted no inventory updates")
	}
}

func TestMockGenerator_OrdersFollowLifecycle(t *testing.T) {
	gen, rec := newTestGenerator()

	last := make(map[string]string)
	for i := 0; i < 20; i++ {
		gen.Step()
		for _, ev := range rec.drain() {
			if ev.event != events.EventOrderUpdate {
				continue
			}
			p := ev.payload.(events.OrderUpdatePayload)
			if prev, ok := last[p.OrderNumber]; ok && prev != p.OldStatus {
				t.Fatalf("%s jumped from %q but previous status was %q", p.OrderNumber, p.OldStatus, prev)
			}
			last[p.OrderNumber] = p.NewStatus
		}
	}

	if last["SO-1001"] != "delivered" {
		t.Errorf("steady order ended at %q, want delivered", last["SO-1001"])
	}
	if last["SO-1004"] != "on_hold" {
		t.Errorf("error order ended at %q, want on_hold", last["SO-1004"])
	}
}

func TestMockGenerator_StalledOrderRequestsApproval(t *testing.T) {
	gen, rec := newTestGenerator()

	found := false
	for i := 0; i < 10 && !found; i++ {
		gen.Step()
		for _, ev := range rec.drain() {
			if ev.event != events.EventNotification {
				continue
			}
			p := ev.payload.(events.NotificationPayload)
			if p.Type == events.NotificationApproval && ev.room == "user:u3" {
				found = true
			}
		}
	}
	if !found {
		t.Error("stalled order never asked its approver for approval")
	}
}

func TestMockGenerator_InventoryNeverNegative(t *testing.T) {
	gen, rec := newTestGenerator()

	for i := 0; i < 200; i++ {
		gen.Step()
		for _, ev := range rec.drain() {
			if ev.event != events.EventInventoryUpdate {
				continue
			}
			p := ev.payload.(events.InventoryUpdatePayload)
			if p.NewQuantity < 0 {
				t.Fatalf("%s went negative: %v", p.ItemID, p.NewQuantity)
			}
		}
	}
}

func TestMockGenerator_StopsOnCancel(t *testing.T) {
	rec := &recorder{}
	gen := NewGenerator(events.NewEmitter(rec), 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	gen.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)

	rec.drain()
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.drain()); n != 0 {
		t.Errorf("generator emitted %d events after cancel", n)
	}
}
