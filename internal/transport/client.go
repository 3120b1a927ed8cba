package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}

// schemaErrorThreshold is the number of consecutive schema/parse errors a
// connection may produce before it is forcibly closed.
const schemaErrorThreshold = 10

// Client wraps one accepted WebSocket connection: one goroutine reads and
// dispatches frames serially, a second goroutine is the connection's only
// writer, giving an at-most-one-concurrent-write-per-connection guarantee.
type Client struct {
	ID   string
	conn *websocket.Conn

	onFrame FrameHandler

	outbound chan []byte
	closed   atomic.Bool
	closeOnce sync.Once

	closeCode   int
	closeReason string

	consecutiveErrors atomic.Int32
}

// NewClient builds a Client around an already-upgraded connection.
func NewClient(conn *websocket.Conn, onFrame FrameHandler) *Client {
	return &Client{
		ID:       uuid.NewString(),
		conn:     conn,
		onFrame:  onFrame,
		outbound: make(chan []byte, 64),
	}
}

// Run starts the writer goroutine and reads frames serially until the
// connection closes or ctx is canceled. It returns once both are done.
func (c *Client) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	c.readLoop()

	c.closeInternal(websocket.CloseNormalClosure, "read loop ended")
	<-writerDone
}

func (c *Client) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				c.closeCode = ce.Code
				c.closeReason = ce.Text
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}

		if c.onFrame != nil {
			c.onFrame(c.ID, data)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.outbound:
			if !ok {
				return
			}
			if c.closed.Load() {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("client write failed", "connId", c.ID, "error", err)
				return
			}
		}
	}
}

// Send enqueues raw bytes for the writer goroutine. Dropped silently if the
// connection is already closed (post-close sends must not panic or block).
func (c *Client) Send(data []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.outbound <- data:
	default:
		slog.Warn("client outbound buffer full, dropping frame", "connId", c.ID)
	}
}

// NoteSchemaError increments the consecutive-schema-error counter and
// reports whether the threshold has now been crossed (caller should close).
func (c *Client) NoteSchemaError() bool {
	n := c.consecutiveErrors.Add(1)
	return n >= schemaErrorThreshold
}

// NoteValidFrame resets the consecutive-schema-error counter.
func (c *Client) NoteValidFrame() {
	c.consecutiveErrors.Store(0)
}

// Close closes the underlying connection exactly once, idempotently.
func (c *Client) Close() {
	c.closeInternal(websocket.CloseNormalClosure, "")
}

func (c *Client) closeInternal(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.outbound)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadlineNow())
		_ = c.conn.Close()
	})
}
