package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Room name prefixes.
const (
	UserRoomPrefix  = "user:"
	OrderRoomPrefix = "order:"
)

// Client-to-server control message types.
const (
	MsgJoinOrder  = "join:order"
	MsgLeaveOrder = "leave:order"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ClientMessage is an inbound frame; the payload is decoded per type.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var (
	ErrMalformedMessage = errors.New("malformed client message")
	ErrUnknownMessage   = errors.New("unknown client message type")
)

// UserRoom returns the private room for an identity.
func UserRoom(userID string) string { return UserRoomPrefix + userID }

// OrderRoom returns the shared room for an order.
func OrderRoom(orderID string) string { return OrderRoomPrefix + orderID }

// EncodeMessage marshals a server frame.
func EncodeMessage(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(Message{Type: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return data, nil
}

// messageLabel maps a client message type onto the bounded set used as a
// metrics label.
func messageLabel(msgType string) string {
	switch msgType {
	case MsgJoinOrder, MsgLeaveOrder:
		return msgType
	default:
		return "other"
	}
}

// parseClientMessage decodes an inbound frame and extracts the order id for
// join/leave messages.
func parseClientMessage(data []byte) (msgType, orderID string, err error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case MsgJoinOrder, MsgLeaveOrder:
	case "":
		return "", "", fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return msg.Type, "", fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}

	var id string
	if err := json.Unmarshal(msg.Payload, &id); err != nil {
		return msg.Type, "", fmt.Errorf("%w: %s payload must be a string", ErrMalformedMessage, msg.Type)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return msg.Type, "", fmt.Errorf("%w: empty order id", ErrMalformedMessage)
	}
	return msg.Type, id, nil
}
