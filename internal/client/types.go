// Package client connects to the realtime server and keeps the state a UI
// needs: connection status, recent notifications and event subscriptions.
// Types mirror the server wire protocol without importing server packages.
package client

import (
	"encoding/json"
	"time"
)

// Event names sent by the server.
const (
	EventNotification    = "notification"
	EventOrderUpdate     = "order:update"
	EventInventoryUpdate = "inventory:update"
)

// Control messages sent to the server.
const (
	MsgJoinOrder  = "join:order"
	MsgLeaveOrder = "leave:order"
)

// Message is the envelope for every frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type controlMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// Notification mirrors the "notification" payload.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderUpdate mirrors the "order:update" payload.
type OrderUpdate struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	OldStatus   string    `json:"oldStatus"`
	NewStatus   string    `json:"newStatus"`
	UpdatedBy   string    `json:"updatedBy"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// InventoryUpdate mirrors the "inventory:update" payload.
type InventoryUpdate struct {
	ItemID      string    `json:"itemId"`
	ItemName    string    `json:"itemName"`
	LocationID  string    `json:"locationId"`
	OldQuantity float64   `json:"oldQuantity"`
	NewQuantity float64   `json:"newQuantity"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
