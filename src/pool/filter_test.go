package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) (*Connection, func(action string, payload any)) {
	t.Helper()
	p, tr := newTestPool(t)
	var conn *Connection
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conn = c })
	s := tr.Connect("a")
	require.NotNil(t, conn)
	return conn, s.Deliver
}

func TestReceiveWithoutFilters(t *testing.T) {
	conn, deliver := connect(t)

	var got any
	conn.Receive("PING", func(payload any) { got = payload })
	deliver("PING", "x")

	assert.Equal(t, "x", got)
}

func TestFiltersRunInRegistrationOrder(t *testing.T) {
	conn, deliver := connect(t)

	var log []string
	conn.AddIncomingFilter(func(action string, payload any, next func()) {
		log = append(log, "f1:"+action)
		next()
	})
	conn.AddIncomingFilter(func(action string, payload any, next func()) {
		log = append(log, "f2:"+payload.(string))
		next()
	})
	conn.Receive("PING", func(payload any) { log = append(log, "handler") })

	deliver("PING", "x")

	assert.Equal(t, []string{"f1:PING", "f2:x", "handler"}, log)
}

func TestFilterThatNeverCallsNextHaltsTheChain(t *testing.T) {
	conn, deliver := connect(t)

	var log []string
	conn.AddIncomingFilter(func(string, any, func()) {
		log = append(log, "gate")
	})
	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		log = append(log, "after-gate")
		next()
	})
	conn.Receive("PING", func(any) { log = append(log, "handler") })

	deliver("PING", nil)

	assert.Equal(t, []string{"gate"}, log)
}

func TestFilterMayContinueAsynchronously(t *testing.T) {
	conn, deliver := connect(t)

	var mu sync.Mutex
	var log []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}
	done := make(chan struct{})

	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		record("async")
		go func() {
			time.Sleep(10 * time.Millisecond)
			next()
		}()
	})
	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		record("sync")
		next()
	})
	conn.Receive("PING", func(any) {
		record("handler")
		close(done)
	})

	deliver("PING", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"async", "sync", "handler"}, log)
}

func TestNextCalledTwiceAdvancesOnce(t *testing.T) {
	conn, deliver := connect(t)

	calls := 0
	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		next()
		next()
	})
	conn.Receive("PING", func(any) { calls++ })

	deliver("PING", nil)

	assert.Equal(t, 1, calls)
}

func TestFiltersAreSnapshottedPerMessage(t *testing.T) {
	conn, deliver := connect(t)

	var log []string
	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		// Added while a message is in flight: applies to the next one.
		conn.AddIncomingFilter(func(_ string, _ any, next func()) {
			log = append(log, "late")
			next()
		})
		next()
	})
	conn.Receive("PING", func(any) { log = append(log, "handler") })

	deliver("PING", nil)
	assert.Equal(t, []string{"handler"}, log)
}

func TestFiltersArePerConnection(t *testing.T) {
	p, tr := newTestPool(t)
	conns := map[string]*Connection{}
	p.OnNewConnection(func(c *Connection, _ *ConnectionPool) { conns[c.ID()] = c })
	a := tr.Connect("a")
	b := tr.Connect("b")

	conns["a"].AddIncomingFilter(func(string, any, func()) {})

	var got []string
	conns["a"].Receive("PING", func(any) { got = append(got, "a") })
	conns["b"].Receive("PING", func(any) { got = append(got, "b") })

	a.Deliver("PING", nil)
	b.Deliver("PING", nil)

	assert.Equal(t, []string{"b"}, got)
}
