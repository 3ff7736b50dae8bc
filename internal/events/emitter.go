// Package events is the typed vocabulary business operations use to publish
// state changes. It hides the room naming convention from callers.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/ws"
)

var (
	ErrEmptyIdentity           = errors.New("empty identity")
	ErrEmptyOrderID            = errors.New("empty order id")
	ErrEmptyEvent              = errors.New("empty event name")
	ErrInvalidNotificationType = errors.New("invalid notification type")
)

// Publisher fans events out to rooms. *ws.Registry satisfies it.
type Publisher interface {
	Emit(room, event string, payload any)
	Broadcast(event string, payload any)
}

type Emitter struct {
	pub Publisher
	now func() time.Time
	log zerolog.Logger
}

type Option func(*Emitter)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Emitter) { e.log = l }
}

func NewEmitter(pub Publisher, opts ...Option) *Emitter {
	e := &Emitter{pub: pub, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateNotification reports why Notify would reject (identity, n).
func ValidateNotification(identity string, n Notification) error {
	if strings.TrimSpace(identity) == "" {
		return ErrEmptyIdentity
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidNotificationType, n.Type)
	}
	return nil
}

func ValidateOrderID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return ErrEmptyOrderID
	}
	return nil
}

func ValidateEvent(event string) error {
	if strings.TrimSpace(event) == "" {
		return ErrEmptyEvent
	}
	return nil
}

func (e *Emitter) stamp() time.Time { return e.now().UTC() }

// Notify sends a notification to every connection of identity. A missing id
// is generated. The returned payload is what was handed to the registry.
func (e *Emitter) Notify(identity string, n Notification) (NotificationPayload, error) {
	identity = strings.TrimSpace(identity)
	if err := ValidateNotification(identity, n); err != nil {
		return NotificationPayload{}, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	p := NotificationPayload{Notification: n, CreatedAt: e.stamp()}
	e.pub.Emit(ws.UserRoom(identity), EventNotification, p)
	e.log.Debug().
		Str("user_id", identity).
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Msg("notification emitted")
	return p, nil
}

// OrderStatusChanged tells everyone watching the order about a transition.
func (e *Emitter) OrderStatusChanged(orderID string, c OrderStatusChange) (OrderUpdatePayload, error) {
	orderID = strings.TrimSpace(orderID)
	if err := ValidateOrderID(orderID); err != nil {
		return OrderUpdatePayload{}, err
	}

	p := OrderUpdatePayload{OrderID: orderID, OrderStatusChange: c, UpdatedAt: e.stamp()}
	e.pub.Emit(ws.OrderRoom(orderID), EventOrderUpdate, p)
	e.log.Debug().
		Str("order_id", orderID).
		Str("old_status", c.OldStatus).
		Str("new_status", c.NewStatus).
		Msg("order update emitted")
	return p, nil
}

// InventoryQuantityChanged is broadcast to every connected session: stock
// levels are shown on many screens, not tied to one order.
func (e *Emitter) InventoryQuantityChanged(c InventoryChange) InventoryUpdatePayload {
	p := InventoryUpdatePayload{InventoryChange: c, UpdatedAt: e.stamp()}
	e.pub.Broadcast(EventInventoryUpdate, p)
	e.log.Debug().
		Str("item_id", c.ItemID).
		Float64("delta", c.Delta()).
		Msg("inventory update emitted")
	return p
}

// Publish emits an arbitrary event to room.
func (e *Emitter) Publish(room, event string, payload any) error {
	if err := ValidateEvent(event); err != nil {
		return err
	}
	e.pub.Emit(room, event, payload)
	return nil
}

// PublishAll broadcasts an arbitrary event to every session.
func (e *Emitter) PublishAll(event string, payload any) error {
	if err := ValidateEvent(event); err != nil {
		return err
	}
	e.pub.Broadcast(event, payload)
	return nil
}
