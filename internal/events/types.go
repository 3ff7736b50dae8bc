package events

import (
	"fmt"
	"time"
)

// Event names delivered to clients.
const (
	EventNotification    = "notification"
	EventOrderUpdate     = "order:update"
	EventInventoryUpdate = "inventory:update"
)

type NotificationType string

const (
	NotificationOrder     NotificationType = "order"
	NotificationApproval  NotificationType = "approval"
	NotificationInventory NotificationType = "inventory"
	NotificationAlert     NotificationType = "alert"
	NotificationSystem    NotificationType = "system"
)

var notificationTypes = map[NotificationType]bool{
	NotificationOrder:     true,
	NotificationApproval:  true,
	NotificationInventory: true,
	NotificationAlert:     true,
	NotificationSystem:    true,
}

func (t NotificationType) Valid() bool { return notificationTypes[t] }

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidNotificationType, s)
	}
	return t, nil
}

// Notification is what a business operation asks to show one user.
type Notification struct {
	ID      string           `json:"id,omitempty"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Link    string           `json:"link,omitempty"`
}

// NotificationPayload is the "notification" event body.
type NotificationPayload struct {
	Notification
	CreatedAt time.Time `json:"createdAt"`
}

type OrderStatusChange struct {
	OrderNumber string `json:"orderNumber"`
	OldStatus   string `json:"oldStatus"`
	NewStatus   string `json:"newStatus"`
	UpdatedBy   string `json:"updatedBy"`
}

// OrderUpdatePayload is the "order:update" event body.
type OrderUpdatePayload struct {
	OrderID string `json:"orderId"`
	OrderStatusChange
	UpdatedAt time.Time `json:"updatedAt"`
}

type InventoryChange struct {
	ItemID      string  `json:"itemId"`
	ItemName    string  `json:"itemName"`
	LocationID  string  `json:"locationId"`
	OldQuantity float64 `json:"oldQuantity"`
	NewQuantity float64 `json:"newQuantity"`
}

// InventoryUpdatePayload is the "inventory:update" event body.
type InventoryUpdatePayload struct {
	InventoryChange
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delta is the signed quantity change.
func (c InventoryChange) Delta() float64 { return c.NewQuantity - c.OldQuantity }
