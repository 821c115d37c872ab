// internal/realtime/session.go

package realtime

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Conn wraps a websocket connection with the buffered send channel,
// read/write pumps and idle tracking shared by every session type.
type Conn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	idleTimeout  time.Duration
	lastActivity atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an upgraded websocket connection
func NewConn(ws *websocket.Conn, bufferSize int, idleTimeout time.Duration) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		conn:        ws,
		send:        make(chan []byte, bufferSize),
		idleTimeout: idleTimeout,
		closed:      make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// ID returns the session's unique identifier
func (c *Conn) ID() string {
	return c.id
}

// Send enqueues a frame for delivery. It never blocks: false means
// the buffer is full or the session is closed, and the caller should
// drop the session.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// WritePump drains the send channel onto the wire and keeps the
// connection alive with pings. Run in its own goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if c.idleTimeout > 0 {
				idle := time.Since(time.Unix(0, c.lastActivity.Load()))
				if idle > c.idleTimeout {
					log.Printf("Closing idle session %s after %s", c.id, idle.Round(time.Second))
					return
				}
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

// ReadPump reads client frames and hands them to handle. It blocks
// until the connection drops, then closes the session.
func (c *Conn) ReadPump(handle func(data []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.lastActivity.Store(time.Now().UnixNano())
		handle(message)
	}
}
