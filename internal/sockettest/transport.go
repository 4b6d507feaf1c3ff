package sockettest

import (
	"errors"
	"sync"

	"github.com/orchestra-mcp/brightsocket/src/types"
)

// Transport is a synchronous in-memory types.Transport. Deliver runs
// listeners on the caller's goroutine.
type Transport struct {
	mu        sync.Mutex
	onConnect []func(types.Socket)
	sockets   map[string]*Socket
	groups    map[string]map[string]bool
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{
		sockets: make(map[string]*Socket),
		groups:  make(map[string]map[string]bool),
	}
}

// Connect opens a socket and runs the connection callbacks.
func (t *Transport) Connect(id string) *Socket {
	s := &Socket{id: id, transport: t, listeners: make(map[string][]types.ActionListener)}

	t.mu.Lock()
	t.sockets[id] = s
	callbacks := append([]func(types.Socket){}, t.onConnect...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(s)
	}
	return s
}

// Disconnect removes a socket so Lookup no longer finds it.
func (t *Transport) Disconnect(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sockets[id]; ok {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
	delete(t.sockets, id)
	for _, members := range t.groups {
		delete(members, id)
	}
}

func (t *Transport) OnConnection(fn func(types.Socket)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = append(t.onConnect, fn)
}

func (t *Transport) Lookup(id string) (types.Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sockets[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (t *Transport) Broadcast(action string, payload any) {
	for _, s := range t.snapshot(nil) {
		_ = s.Emit(action, payload)
	}
}

func (t *Transport) Subscribe(group, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sockets[id]; !ok {
		return false
	}
	if t.groups[group] == nil {
		t.groups[group] = make(map[string]bool)
	}
	t.groups[group][id] = true
	return true
}

func (t *Transport) Publish(group, action string, payload any) {
	t.mu.Lock()
	members := t.groups[group]
	t.mu.Unlock()
	for _, s := range t.snapshot(members) {
		_ = s.Emit(action, payload)
	}
}

// Members returns the socket ids subscribed to group.
func (t *Transport) Members(group string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.groups[group]))
	for id := range t.groups[group] {
		ids = append(ids, id)
	}
	return ids
}

func (t *Transport) snapshot(only map[string]bool) []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Socket, 0, len(t.sockets))
	for id, s := range t.sockets {
		if only == nil || only[id] {
			out = append(out, s)
		}
	}
	return out
}

// Socket is the in-memory types.Socket handed out by Transport.
type Socket struct {
	id        string
	transport *Transport
	listeners map[string][]types.ActionListener
	sent      []types.Message
	closed    bool
	emitErr   error
	mu        sync.Mutex
}

func (s *Socket) ID() string { return s.id }

func (s *Socket) On(action string, fn types.ActionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[action] = append(s.listeners[action], fn)
}

func (s *Socket) Emit(action string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("socket closed")
	}
	if s.emitErr != nil {
		return s.emitErr
	}
	s.sent = append(s.sent, types.Message{Action: action, Payload: payload})
	return nil
}

// FailEmits makes every Emit return err until called again with nil.
func (s *Socket) FailEmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitErr = err
}

// Deliver simulates the client sending an action.
func (s *Socket) Deliver(action string, payload any) {
	s.mu.Lock()
	fns := append([]types.ActionListener(nil), s.listeners[action]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

// Sent returns every message emitted to this socket, in order.
func (s *Socket) Sent() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.sent...)
}

// SentActions returns the emitted action names, in order.
func (s *Socket) SentActions() []string {
	sent := s.Sent()
	actions := make([]string, len(sent))
	for i, m := range sent {
		actions[i] = m.Action
	}
	return actions
}
