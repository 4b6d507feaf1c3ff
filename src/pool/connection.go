package pool

import (
	"sync"

	"github.com/orchestra-mcp/brightsocket/src/types"
)

// Connection models a single socket in the pool. Filters are per
// connection: adding one never affects another connection.
type Connection struct {
	id      string
	socket  types.Socket
	pool    *ConnectionPool
	filters  []Filter
	channel  string
	rejected bool
	mu       sync.RWMutex
}

func newConnection(s types.Socket, p *ConnectionPool) *Connection {
	return &Connection{
		id:     s.ID(),
		socket: s,
		pool:   p,
	}
}

// ID returns the transport-assigned connection id.
func (c *Connection) ID() string { return c.id }

// Receive registers fn for an action. Every incoming filter runs first,
// in registration order; fn runs only if the whole chain continues.
func (c *Connection) Receive(action string, fn func(payload any)) {
	c.socket.On(action, func(payload any) {
		c.mu.RLock()
		filters := append([]Filter(nil), c.filters...)
		c.mu.RUnlock()

		runChain(filters, action, payload, fn)
	})
}

// Send sends an action on this connection only. A connection that has
// since closed turns the send into a logged no-op.
func (c *Connection) Send(action string, payload any) bool {
	return c.pool.SendTo(c.id, action, payload)
}

// AddIncomingFilter appends a filter to this connection's chain.
func (c *Connection) AddIncomingFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, f)
}

// Channel returns the channel this connection identified as, if any.
func (c *Connection) Channel() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel, c.channel != ""
}

// BindChannel binds the connection to channel on its first call. Later
// calls succeed only for the same channel. The empty name never binds.
func (c *Connection) BindChannel(channel string) bool {
	if channel == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == "" {
		c.channel = channel
		return true
	}
	return c.channel == channel
}

// UnbindChannel releases the binding to channel so the connection may
// identify as any channel again.
func (c *Connection) UnbindChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == channel {
		c.channel = ""
	}
}

// RejectIdentity marks the running handshake as refused by its handler.
// The client may then identify for the same channel again; without it a
// completed handshake is final.
func (c *Connection) RejectIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = true
}

// TakeRejection reports whether RejectIdentity was called since the last
// call, and clears the mark.
func (c *Connection) TakeRejection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rejected
	c.rejected = false
	return r
}
