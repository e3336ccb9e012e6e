package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait         = 2 * time.Second
	closeGrace        = time.Second
	maxMessageSize    = 64 * 1024
	defaultSendBuffer = 256
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type frame struct {
	data        []byte
	close       bool
	closeCode   int
	closeReason string
}

// Client is one WebSocket connection. It implements interfaces.IConnection.
type Client struct {
	id   string
	hub  *APIServer
	conn *websocket.Conn
	send chan frame

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(id string, hub *APIServer, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan frame, buffer),
		done: make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

func (c *Client) ID() string { return c.id }

// Send enqueues payload. A full buffer terminates the connection so a slow
// reader never holds up the caller.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame{data: payload}:
		return true
	default:
		c.hub.Metrics.SlowConsumer()
		c.hub.Logger.Warning("Client %s send buffer full, disconnecting", c.id)
		c.Terminate()
		return false
	}
}

// Ping writes a control frame directly; gorilla allows WriteControl
// concurrently with the write pump.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close queues a close frame behind pending messages.
func (c *Client) Close(code int, reason string) {
	select {
	case <-c.done:
	case c.send <- frame{close: true, closeCode: code, closeReason: reason}:
	default:
		c.Terminate()
	}
}

// Terminate drops the TCP connection; the read pump then unregisters.
func (c *Client) Terminate() {
	c.conn.Close()
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.hub.Sessions.HandlePong(c.id)
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.Logger.Debug("Client %s read error: %v", c.id, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.Sessions.HandleMessage(c.hub.ctx, c.id, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if f.close {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeReason))
				// give the peer a moment to answer the close handshake
				time.AfterFunc(closeGrace, c.Terminate)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.hub.Logger.Debug("Client %s write error: %v", c.id, err)
				c.conn.Close()
				return
			}
		}
	}
}
