package identify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/orchestra-mcp/brightsocket/src/pool"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/orchestra-mcp/brightsocket/src/types"
)

// ErrUnknownExtension reports an extension naming a channel that has no
// registered handlers. It is a wiring mistake, not a network fault.
var ErrUnknownExtension = errors.New("unknown extension channel")

// Handler builds a channel's API on an identified connection.
type Handler func(conn *pool.Connection, identity types.Identity, srv *server.Server)

// Registry maps channel names to their handlers, in registration order.
// Registering a name again appends instead of replacing.
type Registry struct {
	channels map[string][]Handler
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string][]Handler)}
}

// Register appends h to the handlers of channel.
func (r *Registry) Register(channel string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = append(r.channels[channel], h)
}

// Has reports whether channel has at least one handler.
func (r *Registry) Has(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel]) > 0
}

// Channels returns the registered channel names with their handler counts.
func (r *Registry) Channels() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.channels))
	for name, hs := range r.channels {
		out[name] = len(hs)
	}
	return out
}

// RunExtensions invokes, for each name in order, every handler registered
// for it. The first unregistered name aborts the run with
// ErrUnknownExtension; handlers of later names do not run.
func (r *Registry) RunExtensions(names []string, conn *pool.Connection, identity types.Identity, srv *server.Server) error {
	for _, name := range names {
		r.mu.RLock()
		handlers := append([]Handler(nil), r.channels[name]...)
		r.mu.RUnlock()

		if len(handlers) == 0 {
			return fmt.Errorf("%w: cannot extend channel %s because it does not exist", ErrUnknownExtension, name)
		}
		for _, h := range handlers {
			h(conn, identity, srv)
		}
	}
	return nil
}
