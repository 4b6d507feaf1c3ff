package pool

import (
	"testing"

	"github.com/orchestra-mcp/brightsocket/internal/sockettest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*ConnectionPool, *sockettest.Transport) {
	t.Helper()
	tr := sockettest.NewTransport()
	return New(tr, zerolog.Nop()), tr
}

func TestOnNewConnectionRunsEveryHandlerInOrder(t *testing.T) {
	p, tr := newTestPool(t)

	var order []string
	var seen []*Connection
	p.OnNewConnection(func(conn *Connection, got *ConnectionPool) {
		assert.Same(t, p, got)
		order = append(order, "first")
		seen = append(seen, conn)
	})
	p.OnNewConnection(func(conn *Connection, _ *ConnectionPool) {
		order = append(order, "second")
		seen = append(seen, conn)
	})

	tr.Connect("a")

	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1], "one Connection per socket per dispatch")
	assert.Equal(t, "a", seen[0].ID())
}

func TestSendToLiveConnection(t *testing.T) {
	p, tr := newTestPool(t)
	s := tr.Connect("a")

	assert.True(t, p.SendTo("a", "hello", "world"))
	assert.Equal(t, []string{"hello"}, s.SentActions())
}

func TestSendToMissingConnectionIsNoop(t *testing.T) {
	p, tr := newTestPool(t)
	tr.Connect("a")
	tr.Disconnect("a")

	assert.NotPanics(t, func() {
		assert.False(t, p.SendTo("a", "hello", nil))
		assert.False(t, p.SendTo("never-existed", "hello", nil))
	})
}

func TestConnectionSendAfterDisconnect(t *testing.T) {
	p, tr := newTestPool(t)
	var conn *Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conn = c })
	tr.Connect("a")
	require.NotNil(t, conn)

	assert.True(t, conn.Send("ok", nil))
	tr.Disconnect("a")
	assert.False(t, conn.Send("late", nil))
}

func TestBroadcast(t *testing.T) {
	p, tr := newTestPool(t)
	a := tr.Connect("a")
	b := tr.Connect("b")

	p.Broadcast("news", nil)

	assert.Equal(t, []string{"news"}, a.SentActions())
	assert.Equal(t, []string{"news"}, b.SentActions())
}

func TestBroadcastChannel(t *testing.T) {
	p, tr := newTestPool(t)
	var conns []*Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conns = append(conns, c) })
	a := tr.Connect("a")
	b := tr.Connect("b")

	require.True(t, p.Join(conns[0], "ADMIN"))
	p.BroadcastChannel("ADMIN", "secret", nil)

	assert.Equal(t, []string{"secret"}, a.SentActions())
	assert.Empty(t, b.SentActions())
}

func TestBindChannel(t *testing.T) {
	p, tr := newTestPool(t)
	var conn *Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conn = c })
	tr.Connect("a")

	_, ok := conn.Channel()
	assert.False(t, ok)

	assert.False(t, conn.BindChannel(""))
	assert.True(t, conn.BindChannel("USER"))
	assert.True(t, conn.BindChannel("USER"))
	assert.False(t, conn.BindChannel("ADMIN"))

	ch, ok := conn.Channel()
	assert.True(t, ok)
	assert.Equal(t, "USER", ch)
}

func TestUnbindChannel(t *testing.T) {
	p, tr := newTestPool(t)
	var conn *Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conn = c })
	tr.Connect("a")

	require.True(t, conn.BindChannel("USER"))
	conn.UnbindChannel("ADMIN")
	ch, _ := conn.Channel()
	assert.Equal(t, "USER", ch)

	conn.UnbindChannel("USER")
	_, ok := conn.Channel()
	assert.False(t, ok)
	assert.True(t, conn.BindChannel("ADMIN"))
}

func TestTakeRejectionClearsTheMark(t *testing.T) {
	p, tr := newTestPool(t)
	var conn *Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conn = c })
	tr.Connect("a")

	assert.False(t, conn.TakeRejection())
	conn.RejectIdentity()
	assert.True(t, conn.TakeRejection())
	assert.False(t, conn.TakeRejection())
}
