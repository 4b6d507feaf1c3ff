// Package sockettest provides an in-memory types.Conn for tests.
package sockettest

import (
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/brightsocket/src/types"
)

// ErrClosed is returned by ReadJSON once the connection is closed.
var ErrClosed = errors.New("connection closed")

// Conn implements types.Conn without a real WebSocket. Messages pushed
// with Push are returned by ReadJSON; everything written is recorded.
type Conn struct {
	mu       sync.Mutex
	written  []types.Message
	pings    int
	readCh   chan types.Message
	closed   bool
	closedCh chan struct{}
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		readCh:   make(chan types.Message, 16),
		closedCh: make(chan struct{}),
	}
}

// Push queues a message for the reader, as if the client had sent it.
func (m *Conn) Push(action string, payload any) {
	m.readCh <- types.Message{Action: action, Payload: payload}
}

func (m *Conn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := v.(types.Message); ok {
		m.written = append(m.written, msg)
	}
	return nil
}

func (m *Conn) ReadJSON(v any) error {
	select {
	case msg := <-m.readCh:
		if ptr, ok := v.(*types.Message); ok {
			*ptr = msg
		}
		return nil
	case <-m.closedCh:
		return ErrClosed
	}
}

func (m *Conn) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *Conn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

// Written returns a copy of every message written so far.
func (m *Conn) Written() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]types.Message, len(m.written))
	copy(cp, m.written)
	return cp
}

// Actions returns the action names written so far, in order.
func (m *Conn) Actions() []string {
	written := m.Written()
	actions := make([]string, len(written))
	for i, msg := range written {
		actions[i] = msg.Action
	}
	return actions
}

// Pings returns how many pings were written.
func (m *Conn) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// WaitWritten blocks until at least n messages were written or the
// timeout expires, and returns what was written.
func (m *Conn) WaitWritten(n int, timeout time.Duration) []types.Message {
	deadline := time.Now().Add(timeout)
	for {
		written := m.Written()
		if len(written) >= n || time.Now().After(deadline) {
			return written
		}
		time.Sleep(5 * time.Millisecond)
	}
}
