package mcp

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the realtime transport of one client. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Event is the envelope every realtime message is sent in.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

const clientBuffer = 64

// Client is a connected realtime session. Writes happen on a dedicated
// goroutine; a client whose buffer is full misses events.
type Client struct {
	ID          string
	ConnectedAt time.Time

	conn   Conn
	send   chan Event
	open   atomic.Bool
	once   sync.Once
	done   chan struct{}
	onFail func(*Client, error)
}

func newClient(id string, conn Conn, onFail func(*Client, error)) *Client {
	c := &Client{
		ID:          id,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan Event, clientBuffer),
		done:        make(chan struct{}),
		onFail:      onFail,
	}
	c.open.Store(true)
	go c.writeLoop()
	return c
}

// Open reports whether the client still accepts events.
func (c *Client) Open() bool { return c.open.Load() }

func (c *Client) deliver(ev Event) bool {
	if !c.Open() {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			if err := c.conn.WriteJSON(ev); err != nil {
				c.open.Store(false)
				if c.onFail != nil {
					c.onFail(c, err)
				}
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}
