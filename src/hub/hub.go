package hub

import (
	"sync"

	"github.com/orchestra-mcp/brightsocket/config"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes messages to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(group string, msg types.Message) error
	Available() bool
}

// Hub manages all WebSocket client connections and group memberships.
// It implements types.Transport.
type Hub struct {
	clients map[string]*Client
	groups  map[string]map[string]bool // group -> set of clientIDs

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	localCast  chan broadcastMsg // messages from bridge, no re-publish

	onConnect []func(types.Socket)
	onDisconn []func(string)

	cfg      *config.SocketConfig
	bridge   MessageBridge
	mu       sync.RWMutex
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// broadcastMsg targets every client when group is empty.
type broadcastMsg struct {
	group string
	msg   types.Message
}

// New creates a new Hub instance. A nil cfg uses config.DefaultConfig.
func New(logger zerolog.Logger, cfg *config.SocketConfig) *Hub {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
		localCast:  make(chan broadcastMsg, 256),
		cfg:        cfg,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers a message from the bridge to local clients only.
// It does not re-publish to the bridge, preventing infinite loops.
func (h *Hub) BroadcastToLocal(group string, msg types.Message) {
	select {
	case h.localCast <- broadcastMsg{group: group, msg: msg}:
	case <-h.done:
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case bm := <-h.broadcast:
			h.publishToBridge(bm)
			h.deliver(bm)
		case bm := <-h.localCast:
			h.deliver(bm)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client and runs the connection callbacks before
// returning, so listeners are in place before the read pump starts.
// It reports false if the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
	case <-h.done:
		return false
	}
	<-c.registered

	h.mu.RLock()
	callbacks := append([]func(types.Socket){}, h.onConnect...)
	h.mu.RUnlock()

	for _, cb := range callbacks {
		cb(c)
	}
	return true
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	close(c.registered)

	h.logger.Info().Str("client_id", c.id).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)

	// Remove from all group memberships.
	for g, members := range h.groups {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	callbacks := append([]func(string){}, h.onDisconn...)
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.id).Msg("client unregistered")

	for _, cb := range callbacks {
		cb(c.id)
	}
}
