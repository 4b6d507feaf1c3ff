package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/brightsocket/src/types"
)

var (
	// ErrClientClosed is returned when emitting to a client whose pumps have stopped.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when the client's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client wraps a WebSocket connection and manages message flow.
// It implements types.Socket.
type Client struct {
	id          string
	conn        types.Conn
	hub         *Hub
	send        chan types.Message
	connectedAt time.Time
	userAgent   string
	groups      map[string]bool
	listeners   map[string][]types.ActionListener
	mu          sync.RWMutex
	registered  chan struct{}
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		id:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan types.Message, h.cfg.SendBufferSize),
		connectedAt: time.Now(),
		groups:      make(map[string]bool),
		listeners:   make(map[string][]types.ActionListener),
		registered:  make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the connection id assigned at upgrade time.
func (c *Client) ID() string { return c.id }

// SetUserAgent records the User-Agent header of the upgrade request.
func (c *Client) SetUserAgent(ua string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAgent = ua
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	return types.ClientInfo{
		ID:          c.id,
		ConnectedAt: c.connectedAt,
		Groups:      groups,
		UserAgent:   c.userAgent,
	}
}

// AddGroup records a group membership.
func (c *Client) AddGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[group] = true
}

// RemoveGroup drops a group membership.
func (c *Client) RemoveGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, group)
}

// On registers a listener for an incoming action. Listeners for the same
// action run in registration order.
func (c *Client) On(action string, fn types.ActionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[action] = append(c.listeners[action], fn)
}

// Emit queues an action for the write pump.
func (c *Client) Emit(action string, payload any) error {
	return c.enqueue(types.Message{Action: action, Payload: payload})
}

func (c *Client) enqueue(msg types.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// ReadPump reads messages from the WebSocket and dispatches them to the
// action listeners. Messages of one client are dispatched one at a time.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg types.Message) {
	c.mu.RLock()
	fns := append([]types.ActionListener(nil), c.listeners[msg.Action]...)
	c.mu.RUnlock()

	if len(fns) == 0 {
		c.hub.logger.Debug().
			Str("client_id", c.id).
			Str("action", msg.Action).
			Msg("no listener")
		return
	}
	for _, fn := range fns {
		fn(msg.Payload)
	}
}

// WritePump writes queued messages to the WebSocket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	defer c.conn.Close()

	var ping <-chan time.Time
	if every := c.hub.cfg.PingEvery(); every > 0 {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.send)
	}
}
