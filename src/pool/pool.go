// Package pool puts an action/payload API on top of a multiplexed
// transport: one ConnectionPool per server, one Connection per socket.
package pool

import (
	"sync"

	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// ConnectionHandler builds the API for a newly opened connection.
type ConnectionHandler func(conn *Connection, p *ConnectionPool)

// ConnectionPool owns the live connections of one transport.
type ConnectionPool struct {
	transport types.Transport
	handlers  []ConnectionHandler
	mu        sync.RWMutex
	logger    zerolog.Logger
}

// New wraps a transport. The transport already accepts connections; New
// subscribes to them right away, so there is no separate start step.
func New(t types.Transport, logger zerolog.Logger) *ConnectionPool {
	p := &ConnectionPool{
		transport: t,
		logger:    logger.With().Str("component", "pool").Logger(),
	}
	t.OnConnection(p.accept)
	return p
}

// accept wraps the socket once and hands the same Connection to every
// registered handler, in registration order.
func (p *ConnectionPool) accept(s types.Socket) {
	conn := newConnection(s, p)

	p.mu.RLock()
	handlers := append([]ConnectionHandler(nil), p.handlers...)
	p.mu.RUnlock()

	for _, h := range handlers {
		h(conn, p)
	}
}

// OnNewConnection registers fn to run for every connection opened from
// now on, for the lifetime of the pool.
func (p *ConnectionPool) OnNewConnection(fn ConnectionHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// SendTo sends an action to the connection with the given id. Sending to
// a connection that has gone away is logged and reported as false.
func (p *ConnectionPool) SendTo(id, action string, payload any) bool {
	s, ok := p.transport.Lookup(id)
	if !ok {
		p.logger.Warn().
			Str("client_id", id).
			Str("action", action).
			Msg("cannot send to disconnected socket")
		return false
	}
	if err := s.Emit(action, payload); err != nil {
		p.logger.Warn().
			Err(err).
			Str("client_id", id).
			Str("action", action).
			Msg("send failed")
		return false
	}
	return true
}

// Broadcast sends an action to every live connection.
func (p *ConnectionPool) Broadcast(action string, payload any) {
	p.transport.Broadcast(action, payload)
}

// BroadcastChannel sends an action to every connection identified as channel.
func (p *ConnectionPool) BroadcastChannel(channel, action string, payload any) {
	p.transport.Publish(channel, action, payload)
}

// Join adds the connection to the broadcast group for channel.
func (p *ConnectionPool) Join(conn *Connection, channel string) bool {
	return p.transport.Subscribe(channel, conn.id)
}
