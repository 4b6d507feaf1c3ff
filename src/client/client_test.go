package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/brightsocket/config"
	"github.com/orchestra-mcp/brightsocket/src/api"
	"github.com/orchestra-mcp/brightsocket/src/identify"
	"github.com/orchestra-mcp/brightsocket/src/pool"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves a on a loopback port and returns the websocket URL.
func startServer(t *testing.T, setup func(a *api.API)) string {
	t.Helper()
	cfg := config.DefaultConfig()
	srv := server.New(zerolog.Nop())
	a := api.New(srv, cfg, zerolog.Nop())
	setup(a)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = a.Close()
	})
	return "ws://" + ln.Addr().String() + cfg.Path
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recorder collects received actions across goroutines.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) listener(name string) types.ActionListener {
	return func(any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, name)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestIdentifyOverWebSocket(t *testing.T) {
	identities := make(chan types.Identity, 1)
	url := startServer(t, func(a *api.API) {
		a.Identify("USER", func(conn *pool.Connection, identity types.Identity, _ *server.Server) {
			identities <- identity
			conn.Send("WELCOME", identity["username"])
			conn.Receive("FAVORITE_MOVIE", func(any) { conn.Send("ok:FAVORITE_MOVIE", "Moana") })
		})
	})

	c := dial(t, url)
	rec := &recorder{}
	c.Receive(identify.ActionIdentified, rec.listener("ack"))
	c.Receive("WELCOME", rec.listener("welcome"))
	movie := make(chan any, 1)
	c.Receive("ok:FAVORITE_MOVIE", func(payload any) { movie <- payload })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Identify(ctx, "USER", map[string]any{"username": "a"}))

	// Sent immediately after the ack: the listener must already exist.
	require.NoError(t, c.Send("FAVORITE_MOVIE", nil))

	select {
	case payload := <-movie:
		assert.Equal(t, "Moana", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to FAVORITE_MOVIE")
	}
	select {
	case identity := <-identities:
		assert.Equal(t, types.Identity{"username": "a"}, identity)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	assert.Equal(t, []string{"ack", "welcome"}, rec.snapshot())
}

func TestIdentifyUnknownChannelTimesOut(t *testing.T) {
	url := startServer(t, func(a *api.API) {
		a.Identify("USER", func(*pool.Connection, types.Identity, *server.Server) {})
	})
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Identify(ctx, "GUEST", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcastChannelOverWebSocket(t *testing.T) {
	var srvAPI *api.API
	url := startServer(t, func(a *api.API) {
		srvAPI = a
		a.Identify("ADMIN", func(*pool.Connection, types.Identity, *server.Server) {})
		a.Identify("USER", func(*pool.Connection, types.Identity, *server.Server) {})
	})

	admin := dial(t, url)
	user := dial(t, url)
	adminRec, userRec := &recorder{}, &recorder{}
	admin.Receive("alert", adminRec.listener("alert"))
	user.Receive("alert", userRec.listener("alert"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, admin.Identify(ctx, "ADMIN", nil))
	require.NoError(t, user.Identify(ctx, "USER", nil))
	require.Eventually(t, func() bool {
		g := srvAPI.Hub().Groups()
		return g["ADMIN"] == 1 && g["USER"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	srvAPI.BroadcastChannel("ADMIN", "alert", nil)

	require.Eventually(t, func() bool { return len(adminRec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, userRec.snapshot())
}

func TestSendAfterClose(t *testing.T) {
	url := startServer(t, func(*api.API) {})
	c := dial(t, url)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send("x", nil), ErrClosed)
	<-c.Done()
}

func newQueueClient() *Client {
	return &Client{
		listeners: make(map[string][]types.ActionListener),
		done:      make(chan struct{}),
		logger:    zerolog.Nop(),
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestEachAckReleasesOneWaiter(t *testing.T) {
	c := newQueueClient()
	first, second := make(chan struct{}), make(chan struct{})
	c.waiters = []chan struct{}{first, second}

	c.dispatch(types.Message{Action: identify.ActionIdentified})
	assert.True(t, closed(first))
	assert.False(t, closed(second))

	c.dispatch(types.Message{Action: "other"})
	assert.False(t, closed(second))

	c.dispatch(types.Message{Action: identify.ActionIdentified})
	assert.True(t, closed(second))
	assert.Empty(t, c.waiters)

	// A stray acknowledgement with nobody waiting is harmless.
	c.dispatch(types.Message{Action: identify.ActionIdentified})
}

func TestDropWaiter(t *testing.T) {
	c := newQueueClient()
	stale, live := make(chan struct{}), make(chan struct{})
	c.waiters = []chan struct{}{stale, live}

	c.dropWaiter(stale)
	c.dispatch(types.Message{Action: identify.ActionIdentified})

	assert.False(t, closed(stale))
	assert.True(t, closed(live))
}

func TestTimedOutIdentifyDoesNotConsumeNextAck(t *testing.T) {
	url := startServer(t, func(a *api.API) {
		a.Identify("USER", func(*pool.Connection, types.Identity, *server.Server) {})
	})
	c := dial(t, url)

	short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Identify(short, "GUEST", nil), context.DeadlineExceeded)

	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, c.Identify(ctx, "USER", nil))
}
