package wspush

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// sendQueueSize bounds the per-client outbound buffer; a client slow enough
// to fill it is treated as dead rather than let memory grow unbounded.
const sendQueueSize = 32

// Client wraps one upgraded WebSocket connection with its subscription
// state and a buffered send queue drained by a writer goroutine, mirroring
// the teacher's per-connection send-channel pipeline.
type Client struct {
	conn     *websocket.Conn
	remoteIP string

	send      chan outboundMessage
	closeOnce sync.Once

	mu     sync.Mutex
	roomID string

	lastActivityNano atomic.Int64
}

func newClient(conn *websocket.Conn, remoteIP string) *Client {
	cl := &Client{
		conn:     conn,
		remoteIP: remoteIP,
		send:     make(chan outboundMessage, sendQueueSize),
	}
	cl.touch()
	return cl
}

func (c *Client) touch() {
	c.lastActivityNano.Store(time.Now().UnixNano())
}

func (c *Client) lastActivity() time.Time {
	return time.Unix(0, c.lastActivityNano.Load())
}

// enqueue closes the client, dropping the message, if the client's send
// queue is full instead of blocking the hub on a slow reader.
func (c *Client) enqueue(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
		c.close()
	}
}

func (c *Client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.close()
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}
