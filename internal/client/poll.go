package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrSessionGone means the server no longer knows the polling session.
var ErrSessionGone = errors.New("polling session gone")

// pollConn is the long-polling fallback. Each Next is one GET that the
// server holds open until frames are queued or its poll wait elapses.
type pollConn struct {
	http  *http.Client
	base  string
	sid   string
	token string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type pollOpenResponse struct {
	SessionID string `json:"sid"`
}

func dialPoll(ctx context.Context, hc *http.Client, baseURL, userID, token string) (*pollConn, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	base := strings.TrimRight(baseURL, "/")
	target, err := withIdentity(base, userID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open poll session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open poll session: %s", resp.Status)
	}

	var open pollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return nil, fmt.Errorf("decode poll session: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		http:   hc,
		base:   base,
		sid:    open.SessionID,
		token:  token,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

func (c *pollConn) Kind() string { return "polling" }

func (c *pollConn) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+c.sid, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}
	return req, nil
}

func (c *pollConn) Next(ctx context.Context) ([]Message, error) {
	for {
		msgs, err := c.poll(ctx)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}
}

func (c *pollConn) poll(ctx context.Context) ([]Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrSessionGone
	default:
		return nil, fmt.Errorf("poll: %s", resp.Status)
	}

	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	return msgs, nil
}

func (c *pollConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := c.newRequest(c.ctx, http.MethodPost, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrSessionGone
	default:
		return fmt.Errorf("poll send: %s", resp.Status)
	}
}

// Close ends the server session and aborts any outstanding poll.
func (c *pollConn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		var req *http.Request
		req, err = c.newRequest(ctx, http.MethodDelete, nil)
		if err != nil {
			return
		}
		var resp *http.Response
		resp, err = c.http.Do(req)
		if err != nil {
			return
		}
		resp.Body.Close()
	})
	return err
}
