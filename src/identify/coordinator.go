// Package identify implements the channel handshake: a connection
// declares its channel over an internal action, the server acknowledges,
// then runs extension handlers and finally the channel's own handler.
package identify

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/orchestra-mcp/brightsocket/src/pool"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// Wire names of the handshake. Payload keys starting with Prefix are
// protocol metadata and never reach handlers.
const (
	Prefix           = "BRIGHTSOCKET:"
	ActionIdentify   = Prefix + "IDENTIFY"
	ActionIdentified = Prefix + "IDENTIFIED"
	KeyChannel       = Prefix + "CHANNEL"
)

// ErrInvalidChannel is raised when a channel is registered without a name.
var ErrInvalidChannel = errors.New("invalid channel")

// Registration is one identify call.
type Registration struct {
	Channel    string
	Extensions []string
	Handler    Handler
}

// handshakeState tracks one registration's handshake on one connection.
type handshakeState struct {
	mu         sync.Mutex
	extended   bool
	identified bool
}

// Coordinator runs the handshake for every registered channel.
type Coordinator struct {
	pool          *pool.ConnectionPool
	server        *server.Server
	registry      *Registry
	registrations []Registration
	mu            sync.Mutex
	logger        zerolog.Logger
}

// NewCoordinator creates a coordinator with its own empty registry.
func NewCoordinator(p *pool.ConnectionPool, srv *server.Server, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		pool:     p,
		server:   srv,
		registry: NewRegistry(),
		logger:   logger.With().Str("component", "identify").Logger(),
	}
}

// Registry returns the coordinator's channel registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Identify registers h as the handler for channel.
func (c *Coordinator) Identify(channel string, h Handler) {
	c.Register(Registration{Channel: channel, Handler: h})
}

// IdentifyExtending registers h for channel; on each handshake the
// handlers of every extension channel run first, in the listed order.
func (c *Coordinator) IdentifyExtending(channel string, extensions []string, h Handler) {
	c.Register(Registration{Channel: channel, Extensions: extensions, Handler: h})
}

// Register records reg and starts listening for its handshake on every
// new connection. A nil Handler registers the extensions only.
// Call during setup, before traffic begins.
func (c *Coordinator) Register(reg Registration) {
	if reg.Channel == "" {
		err := fmt.Errorf("%w: channel name is empty", ErrInvalidChannel)
		c.logger.Error().Err(err).Msg("registration rejected")
		panic(err)
	}
	reg.Extensions = append([]string(nil), reg.Extensions...)
	if reg.Handler != nil {
		c.registry.Register(reg.Channel, reg.Handler)
	}

	c.mu.Lock()
	c.registrations = append(c.registrations, reg)
	c.mu.Unlock()

	c.pool.OnNewConnection(func(conn *pool.Connection, _ *pool.ConnectionPool) {
		st := &handshakeState{}
		conn.Receive(ActionIdentify, func(payload any) {
			fields, ok := payload.(map[string]any)
			if !ok {
				return
			}
			if declared, ok := fields[KeyChannel].(string); !ok || declared != reg.Channel {
				return
			}
			if err := c.handshake(conn, reg, st, fields); err != nil {
				c.logger.Error().
					Err(err).
					Str("client_id", conn.ID()).
					Str("channel", reg.Channel).
					Msg("handshake aborted")
				panic(err)
			}
		})
	})
	c.logger.Debug().
		Str("channel", reg.Channel).
		Strs("extensions", reg.Extensions).
		Msg("channel registered")
}

// handshake completes a matched identify request. The acknowledgement is
// sent before anything else so the client cannot race ahead of the
// listeners the handlers are about to install.
//
// A handshake is final unless the handler calls conn.RejectIdentity. A
// retry after a rejection runs only the handler again: extensions run on
// the first attempt, and whatever a rejected attempt installed stays.
func (c *Coordinator) handshake(conn *pool.Connection, reg Registration, st *handshakeState, fields map[string]any) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.identified {
		c.logger.Warn().
			Str("client_id", conn.ID()).
			Str("channel", reg.Channel).
			Msg("connection already identified, ignoring")
		return nil
	}

	_, wasBound := conn.Channel()
	if !conn.BindChannel(reg.Channel) {
		bound, _ := conn.Channel()
		c.logger.Warn().
			Str("client_id", conn.ID()).
			Str("channel", reg.Channel).
			Str("bound_channel", bound).
			Msg("connection bound to another channel, ignoring")
		return nil
	}

	if !conn.Send(ActionIdentified, nil) {
		if !wasBound {
			conn.UnbindChannel(reg.Channel)
		}
		c.logger.Warn().
			Str("client_id", conn.ID()).
			Str("channel", reg.Channel).
			Msg("acknowledgement not sent, handshake abandoned")
		return nil
	}

	identity := Clean(fields)
	c.pool.Join(conn, reg.Channel)
	conn.TakeRejection()

	if !st.extended && len(reg.Extensions) > 0 {
		if err := c.registry.RunExtensions(reg.Extensions, conn, identity, c.server); err != nil {
			return err
		}
	}
	st.extended = true

	if reg.Handler != nil {
		reg.Handler(conn, identity, c.server)
	}
	rejected := conn.TakeRejection()
	st.identified = !rejected

	c.logger.Debug().
		Str("client_id", conn.ID()).
		Str("channel", reg.Channel).
		Bool("rejected", rejected).
		Msg("connection identified")
	return nil
}

// Validate checks every registration's extensions against the registry.
// Extensions resolve lazily, so call it once setup is complete.
func (c *Coordinator) Validate() error {
	c.mu.Lock()
	regs := append([]Registration(nil), c.registrations...)
	c.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		for _, ext := range reg.Extensions {
			if !c.registry.Has(ext) {
				errs = append(errs, fmt.Errorf("%w: channel %s extends %s", ErrUnknownExtension, reg.Channel, ext))
			}
		}
	}
	return errors.Join(errs...)
}

// Clean returns a copy of fields without the internally namespaced keys.
func Clean(fields map[string]any) types.Identity {
	identity := make(types.Identity, len(fields))
	for k, v := range fields {
		if !strings.HasPrefix(k, Prefix) {
			identity[k] = v
		}
	}
	return identity
}
