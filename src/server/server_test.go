package server

import (
	"context"
	"net"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func startServer(t *testing.T, s *Server) *fasthttp.HostClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		_ = ln.Close()
	})
	return &fasthttp.HostClient{
		Addr: "test",
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
}

func get(t *testing.T, c *fasthttp.HostClient, path string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://test" + path)
	require.NoError(t, c.Do(req, resp))
	return resp.StatusCode(), string(resp.Body())
}

func TestMountTakesPrecedenceOverFiber(t *testing.T) {
	s := New(zerolog.Nop())
	s.App.Get("/hello", func(c fiber.Ctx) error {
		return c.SendString("from fiber")
	})
	s.Mount("/raw", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("from mount")
	})
	client := startServer(t, s)

	code, body := get(t, client, "/hello")
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "from fiber", body)

	code, body = get(t, client, "/raw")
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "from mount", body)

	code, _ = get(t, client, "/missing")
	assert.Equal(t, fasthttp.StatusNotFound, code)
}

func TestShutdownBeforeServe(t *testing.T) {
	s := New(zerolog.Nop())
	assert.NoError(t, s.Shutdown(context.Background()))
}
