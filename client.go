/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client wraps one WebSocket connection. All writes go through the
// buffered send channel and a single write pump, so message order on a
// channel is preserved no matter which component is broadcasting.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	identity string

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, identity string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan any, 8),
		identity: identity,
	}
}

// trySend queues a message for the write pump. It reports failure once
// the client has been closed or its buffer is full, so the caller can
// act on an undeliverable message instead of silently losing it.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close marks the client dead and releases its write pump. Safe to call
// more than once.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readLoop decodes inbound frames and hands them to the owning
// component. Any traffic counts as liveness; a connection silent for
// the full pong timeout is closed rather than left to TCP timeouts.
// Malformed payloads are logged and dropped, keeping the connection up.
func (c *Client) readLoop(cfg *Config, handle func(ClientMessage)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.pongTimeout()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.pongTimeout()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.pongTimeout()))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logf(cfg, "GAMES: Dropping malformed message from %q: %v", c.identity, err)
			continue
		}

		if msg.Type == "ping" {
			c.trySend(SimpleMessage{Type: "pong"})
			continue
		}

		handle(msg)
	}
}

// writePump drains the send channel onto the wire and keeps the
// heartbeat going. Pings run on their own ticker so a slow
// move-validation path can never delay a liveness probe.
func (c *Client) writePump(cfg *Config) {
	ticker := time.NewTicker(cfg.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
