package types

import "time"

// Message is a single action frame on the wire.
type Message struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// Identity is the user-supplied part of an identify payload, with every
// internally namespaced key removed.
type Identity map[string]any

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	Groups      []string  `json:"groups"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
	Close() error
}

// ActionListener receives the payload of one incoming action.
type ActionListener func(payload any)

// Socket is one live transport-level connection.
type Socket interface {
	ID() string
	On(action string, fn ActionListener)
	Emit(action string, payload any) error
}

// Transport is a multiplexed action/payload channel over many sockets.
// Lookup reports false for sockets that have disconnected.
type Transport interface {
	OnConnection(fn func(Socket))
	Lookup(id string) (Socket, bool)
	Broadcast(action string, payload any)
	Subscribe(group, id string) bool
	Publish(group, action string, payload any)
}
