// Package api is the integrator surface: attach it to a host server,
// then declare channels with Identify.
//
//	srv := server.New(logger)
//	a := api.New(srv, config.DefaultConfig(), logger)
//	a.Identify("USER", func(conn *pool.Connection, identity types.Identity, srv *server.Server) {
//		conn.Receive("FAVORITE_FOOD", func(any) { conn.Send("ok:FAVORITE_FOOD", "spaghetti") })
//	})
//	srv.Listen(":3000")
package api

import (
	"errors"
	"fmt"
	"sync"

	"github.com/orchestra-mcp/brightsocket/config"
	"github.com/orchestra-mcp/brightsocket/src/bridge"
	"github.com/orchestra-mcp/brightsocket/src/hub"
	"github.com/orchestra-mcp/brightsocket/src/identify"
	"github.com/orchestra-mcp/brightsocket/src/pool"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// ErrClientNotFound is returned for connection ids that are not live.
var ErrClientNotFound = errors.New("client not found")

// API ties the transport, the connection pool and the handshake
// coordinator to one host server.
type API struct {
	server      *server.Server
	cfg         *config.SocketConfig
	hub         *hub.Hub
	pool        *pool.ConnectionPool
	coordinator *identify.Coordinator
	bridge      bridge.Bridge
	mu          sync.Mutex
	logger      zerolog.Logger
}

// New starts accepting WebSocket connections on srv at cfg.Path and
// registers the introspection routes. A nil cfg uses the defaults.
func New(srv *server.Server, cfg *config.SocketConfig, logger zerolog.Logger) *API {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	h := hub.New(logger, cfg)
	go h.Run()

	p := pool.New(h, logger)
	a := &API{
		server:      srv,
		cfg:         cfg,
		hub:         h,
		pool:        p,
		coordinator: identify.NewCoordinator(p, srv, logger),
		logger:      logger.With().Str("component", "api").Logger(),
	}

	srv.Mount(cfg.Path, h.FastHTTPHandler())
	a.RegisterRoutes(srv.App.Group(cfg.Path))

	a.logger.Info().Str("path", cfg.Path).Msg("accepting websocket connections")
	return a
}

// Hub returns the underlying transport.
func (a *API) Hub() *hub.Hub { return a.hub }

// Pool returns the connection pool.
func (a *API) Pool() *pool.ConnectionPool { return a.pool }

// Identify registers h for connections that identify as channel.
func (a *API) Identify(channel string, h identify.Handler) {
	a.coordinator.Identify(channel, h)
}

// IdentifyExtending registers h for channel, running the handlers of
// every extension channel first.
func (a *API) IdentifyExtending(channel string, extensions []string, h identify.Handler) {
	a.coordinator.IdentifyExtending(channel, extensions, h)
}

// Validate reports extensions that name unregistered channels. Without
// it, such a mistake surfaces at the first matching handshake.
func (a *API) Validate() error {
	return a.coordinator.Validate()
}

// Broadcast sends an action to every connection.
func (a *API) Broadcast(action string, payload any) {
	a.pool.Broadcast(action, payload)
}

// BroadcastChannel sends an action to every connection identified as channel.
func (a *API) BroadcastChannel(channel, action string, payload any) {
	a.pool.BroadcastChannel(channel, action, payload)
}

// SendTo sends an action to one connection; false if it is gone.
func (a *API) SendTo(id, action string, payload any) bool {
	return a.pool.SendTo(id, action, payload)
}

// ConnectedClients returns IDs of all connected clients.
func (a *API) ConnectedClients() []string {
	return a.hub.ConnectedClients()
}

// ClientInfo returns info for a connected client.
func (a *API) ClientInfo(id string) (*types.ClientInfo, error) {
	info := a.hub.ClientInfo(id)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	return info, nil
}

// ChannelStats describes one registered channel.
type ChannelStats struct {
	Channel     string `json:"channel"`
	Handlers    int    `json:"handlers"`
	Connections int    `json:"connections"`
}

// Channels returns every registered channel with its live connection count.
func (a *API) Channels() []ChannelStats {
	groups := a.hub.Groups()
	registered := a.coordinator.Registry().Channels()

	stats := make([]ChannelStats, 0, len(registered))
	for name, handlers := range registered {
		stats = append(stats, ChannelStats{
			Channel:     name,
			Handlers:    handlers,
			Connections: groups[name],
		})
	}
	return stats
}

// ConnectBridge relays broadcasts through Redis. A disabled config is a
// no-op; a failed start leaves the server standalone and returns the error.
func (a *API) ConnectBridge(cfg *config.RedisConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	rb := bridge.NewRedisBridge(cfg, a.hub, a.logger)
	if err := rb.Start(); err != nil {
		a.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return fmt.Errorf("start redis bridge: %w", err)
	}

	a.mu.Lock()
	a.bridge = rb
	a.mu.Unlock()
	a.hub.SetBridge(rb)
	a.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
	return nil
}

// Close stops the bridge and the hub event loop.
func (a *API) Close() error {
	a.mu.Lock()
	b := a.bridge
	a.bridge = nil
	a.mu.Unlock()

	var err error
	if b != nil {
		a.hub.SetBridge(nil)
		if err = b.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("bridge stop error")
		}
	}
	a.hub.Stop()
	return err
}
