// Package client speaks the channel handshake protocol from the client
// side over a WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/brightsocket/src/identify"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// ErrClosed is returned once the connection has been closed.
var ErrClosed = errors.New("client closed")

// Client is one WebSocket connection to a server. Listeners run on the
// read goroutine, one message at a time, in arrival order.
type Client struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	mu        sync.Mutex
	listeners map[string][]types.ActionListener
	waiters   []chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error
	logger    zerolog.Logger
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:      conn,
		listeners: make(map[string][]types.ActionListener),
		done:      make(chan struct{}),
		logger:    logger.With().Str("component", "client").Logger(),
	}
	go c.readLoop()
	return c, nil
}

// Receive registers fn for an action sent by the server.
func (c *Client) Receive(action string, fn types.ActionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[action] = append(c.listeners[action], fn)
}

// Send sends an action to the server.
func (c *Client) Send(action string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(types.Message{Action: action, Payload: payload})
}

// Identify declares channel with the given identity fields and waits for
// the server's acknowledgement. Keys in the internal namespace are
// overwritten by the protocol.
func (c *Client) Identify(ctx context.Context, channel string, identity map[string]any) error {
	payload := make(map[string]any, len(identity)+1)
	for k, v := range identity {
		payload[k] = v
	}
	payload[identify.KeyChannel] = channel

	ack := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ack)
	c.mu.Unlock()

	if err := c.Send(identify.ActionIdentify, payload); err != nil {
		c.dropWaiter(ack)
		return err
	}
	select {
	case <-ack:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		c.dropWaiter(ack)
		return ctx.Err()
	}
}

// dropWaiter removes an abandoned waiter so the next acknowledgement goes
// to a caller that is still waiting.
func (c *Client) dropWaiter(ack chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = slices.DeleteFunc(c.waiters, func(w chan struct{}) bool { return w == ack })
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.finish(nil)
	return err
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) readLoop() {
	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.finish(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg types.Message) {
	c.mu.Lock()
	fns := append([]types.ActionListener(nil), c.listeners[msg.Action]...)
	// Acknowledgements arrive in request order; each releases one waiter.
	var waiter chan struct{}
	if msg.Action == identify.ActionIdentified && len(c.waiters) > 0 {
		waiter = c.waiters[0]
		c.waiters = c.waiters[1:]
	}
	c.mu.Unlock()

	// Listeners for the acknowledgement run before Identify returns.
	for _, fn := range fns {
		fn(msg.Payload)
	}
	if waiter != nil {
		close(waiter)
	}
	if len(fns) == 0 && waiter == nil {
		c.logger.Debug().Str("action", msg.Action).Msg("no listener")
	}
}
