package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
)

// wsConnection is the subset of the WebSocket connection the transport
// depends on, narrowed so tests can stand in a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait = 10 * time.Second
	// sendBuffer bounds the per-connection outbound queue. Responses and
	// notifications share it; a full queue drops the message and relies on
	// the room's resync machinery.
	sendBuffer = 64
)

// conn owns one WebSocket: a single writer goroutine drains send, the read
// loop feeds the session dispatcher. All outbound traffic is JSON text
// frames.
type conn struct {
	ws   wsConnection
	send chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newConn(ws wsConnection) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
}

// disconnect stops the write pump, which drains the queue, sends the close
// frame and closes the socket.
func (c *conn) disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// enqueue serializes v and queues it for the writer. Drops with a log line
// when the consumer cannot keep up; room snapshots are self-healing and a
// dropped response surfaces to the client as a timeout.
func (c *conn) enqueue(v any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound frame", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			// Send channel closed under us during shutdown.
			logging.Warn(context.Background(), "Recovered enqueue on closed connection", zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Connection send queue full - dropping frame")
	}
}

// writePump is the sole writer of the underlying socket.
func (c *conn) writePump() {
	defer c.ws.Close()

	for message := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump decodes inbound frames and hands them to the session. It returns
// when the peer goes away; the session's teardown runs in the deferred
// block.
func (c *conn) readPump(s *session) {
	defer func() {
		s.teardown()
		c.disconnect()
		_ = c.ws.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(data)
	}
}
