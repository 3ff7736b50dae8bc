package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Handshake metadata understood by the server.
const (
	userIDParam = "userId"
	tokenHeader = "X-Realtime-Token"
)

var ErrNotConnected = errors.New("not connected")

// conn is one live connection to the server, over either transport.
type conn interface {
	// Next blocks until at least one frame arrives.
	Next(ctx context.Context) ([]Message, error)
	Send(v any) error
	Close() error
	Kind() string
}

// withIdentity returns rawURL with the userId query parameter set.
func withIdentity(rawURL, userID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	if userID != "" {
		q.Set(userIDParam, userID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsConn is a WebSocket connection. Reads happen on the caller of Next;
// writes are serialised by writeMu.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    context.CancelFunc
	once    sync.Once
}

// dialWS opens a WebSocket. When the server answers the upgrade with a plain
// HTTP response, that response is returned alongside the error.
func dialWS(ctx context.Context, rawURL, userID, token string) (*wsConn, *http.Response, error) {
	target, err := withIdentity(rawURL, userID)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set(tokenHeader, token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, resp, err
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{conn: ws, stop: cancel}

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	go c.pingLoop(pingCtx)
	return c, resp, nil
}

func (c *wsConn) Kind() string { return "websocket" }

func (c *wsConn) Next(ctx context.Context) ([]Message, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		return []Message{msg}, nil
	}
}

func (c *wsConn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.stop()
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// pingLoop sends periodic pings until the connection is closed.
func (c *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
