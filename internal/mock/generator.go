package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
)

// Order lifecycle used by the demo orders.
var orderFlow = []string{"pending_approval", "approved", "picking", "packed", "shipped", "delivered"}

type mockOrder struct {
	id        string
	number    string
	owner     string // user notified about this order
	approver  string
	pattern   string
	stage     int
	stallFor  int // ticks spent waiting for approval
	holdAt    int // stage at which an "error" order goes on hold
	completed bool
}

type mockItem struct {
	id       string
	name     string
	location string
	quantity float64
	burnRate float64 // units consumed per tick
	reorder  float64
	restock  float64
}

// Demo users the generator addresses notifications to.
var DemoUsers = []string{"u1", "u2", "u3"}

func NewGenerator(emitter *events.Emitter, interval time.Duration, log zerolog.Logger) *MockGenerator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &MockGenerator{
		emitter:  emitter,
		interval: interval,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MockGenerator plays believable ERP activity through an Emitter so the
// realtime server can be demoed without the rest of the system.
type MockGenerator struct {
	emitter  *events.Emitter
	interval time.Duration
	log      zerolog.Logger
	rng      *rand.Rand
	orders   []*mockOrder
	items    []*mockItem
	tick     int
}

func (g *MockGenerator) seed() {
	g.orders = []*mockOrder{
		{id: "1001", number: "SO-1001", owner: "u1", approver: "u2", pattern: "steady"},
		{id: "1002", number: "SO-1002", owner: "u1", approver: "u3", pattern: "stall", stallFor: 6},
		{id: "1003", number: "SO-1003", owner: "u2", approver: "u3", pattern: "steady"},
		{id: "1004", number: "SO-1004", owner: "u3", approver: "u2", pattern: "error", holdAt: 3},
		{id: "1005", number: "PO-2001", owner: "u2", approver: "u1", pattern: "methodical"},
	}
	g.items = []*mockItem{
		{id: "ITM-100", name: "Steel bracket", location: "WH-MAIN", quantity: 480, burnRate: 12, reorder: 100, restock: 400},
		{id: "ITM-205", name: "Hex bolt M8", location: "WH-MAIN", quantity: 2500, burnRate: 85, reorder: 500, restock: 2000},
		{id: "ITM-310", name: "Control board", location: "WH-EAST", quantity: 40, burnRate: 2, reorder: 10, restock: 30},
	}
}

func (g *MockGenerator) Start(ctx context.Context) {
	g.seed()
	for _, u := range DemoUsers {
		g.notify(u, events.NotificationSystem, "Demo mode", "Mock ERP activity is being generated", "")
	}
	go g.run(ctx)
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}

// Step advances every demo order and item by one tick.
func (g *MockGenerator) Step() {
	if g.orders == nil {
		g.seed()
	}
	g.tick++

	for _, o := range g.orders {
		if o.completed {
			continue
		}
		g.advanceOrder(o)
	}
	for _, it := range g.items {
		g.advanceItem(it)
	}

	// Everything delivered: start a fresh batch so the demo keeps going.
	done := 0
	for _, o := range g.orders {
		if o.completed {
			done++
		}
	}
	if done == len(g.orders) {
		g.recycle()
	}
}

func (g *MockGenerator) recycle() {
	for _, o := range g.orders {
		var n int
		fmt.Sscanf(o.number[3:], "%d", &n)
		o.number = fmt.Sprintf("%s%d", o.number[:3], n+10)
		o.id = o.number[3:]
		o.stage = 0
		o.completed = false
	}
}

func (g *MockGenerator) advanceOrder(o *mockOrder) {
	switch o.pattern {
	case "steady":
		g.transition(o, o.stage+1)
	case "stall":
		g.advanceStall(o)
	case "error":
		g.advanceError(o)
	case "methodical":
		// Moves every third tick.
		if g.tick%3 == 0 {
			g.transition(o, o.stage+1)
		}
	}
}

func (g *MockGenerator) advanceStall(o *mockOrder) {
	if o.stage == 0 && o.stallFor > 0 {
		o.stallFor--
		if o.stallFor == 0 {
			g.notify(o.approver, events.NotificationApproval,
				"Approval required", fmt.Sprintf("%s is waiting for your approval", o.number),
				"/sales/orders/"+o.id)
		}
		return
	}
	g.transition(o, o.stage+1)
}

func (g *MockGenerator) advanceError(o *mockOrder) {
	if o.stage == o.holdAt {
		g.emit(o, orderFlow[o.stage], "on_hold", "system")
		g.notify(o.owner, events.NotificationAlert,
			"Order on hold", fmt.Sprintf("%s failed credit check", o.number),
			"/sales/orders/"+o.id)
		o.completed = true
		return
	}
	g.transition(o, o.stage+1)
}

func (g *MockGenerator) transition(o *mockOrder, next int) {
	if next >= len(orderFlow) {
		o.completed = true
		return
	}
	by := o.owner
	if o.stage == 0 {
		by = o.approver
	}
	g.emit(o, orderFlow[o.stage], orderFlow[next], by)
	o.stage = next

	if orderFlow[next] == "shipped" || orderFlow[next] == "delivered" {
		g.notify(o.owner, events.NotificationOrder,
			fmt.Sprintf("%s %s", o.number, orderFlow[next]),
			fmt.Sprintf("Order %s is now %s", o.number, orderFlow[next]),
			"/sales/orders/"+o.id)
	}
	if next == len(orderFlow)-1 {
		o.completed = true
	}
}

func (g *MockGenerator) emit(o *mockOrder, from, to, by string) {
	_, err := g.emitter.OrderStatusChanged(o.id, events.OrderStatusChange{
		OrderNumber: o.number,
		OldStatus:   from,
		NewStatus:   to,
		UpdatedBy:   by,
	})
	if err != nil {
		g.log.Warn().Err(err).Str("order_id", o.id).Msg("mock order update rejected")
	}
}

func (g *MockGenerator) advanceItem(it *mockItem) {
	// Consumption varies over the day.
	pace := 0.6 + 0.4*math.Sin(float64(g.tick)/5.0)
	used := math.Round(it.burnRate*pace + float64(g.rng.Intn(3)))
	if used <= 0 {
		return
	}

	old := it.quantity
	it.quantity = math.Max(0, it.quantity-used)
	g.emitter.InventoryQuantityChanged(events.InventoryChange{
		ItemID:      it.id,
		ItemName:    it.name,
		LocationID:  it.location,
		OldQuantity: old,
		NewQuantity: it.quantity,
	})

	if old > it.reorder && it.quantity <= it.reorder {
		for _, u := range DemoUsers {
			g.notify(u, events.NotificationInventory, "Low stock",
				fmt.Sprintf("%s at %s is down to %.0f", it.name, it.location, it.quantity),
				"/inventory/items/"+it.id)
		}
	}
	if it.quantity <= it.reorder/2 {
		before := it.quantity
		it.quantity += it.restock
		g.emitter.InventoryQuantityChanged(events.InventoryChange{
			ItemID:      it.id,
			ItemName:    it.name,
			LocationID:  it.location,
			OldQuantity: before,
			NewQuantity: it.quantity,
		})
	}
}

func (g *MockGenerator) notify(user string, typ events.NotificationType, title, message, link string) {
	_, err := g.emitter.Notify(user, events.Notification{
		Type:    typ,
		Title:   title,
		Message: message,
		Link:    link,
	})
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", user).Msg("mock notification rejected")
	}
}
