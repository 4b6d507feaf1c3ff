package server

import (
	"context"
	"net"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Server is the host web server. Ordinary routes live on the fiber App;
// handlers that need the raw *fasthttp.RequestCtx (WebSocket upgrades)
// are mounted by exact path in front of it.
type Server struct {
	App *fiber.App

	mounts map[string]fasthttp.RequestHandler
	srv    *fasthttp.Server
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a server with an empty fiber app.
func New(logger zerolog.Logger) *Server {
	return &Server{
		App:    fiber.New(),
		mounts: make(map[string]fasthttp.RequestHandler),
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Mount serves path with a raw fasthttp handler instead of the fiber app.
func (s *Server) Mount(path string, h fasthttp.RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[path] = h
	s.logger.Debug().Str("path", path).Msg("handler mounted")
}

// Handler builds the combined request handler. Call it after every fiber
// route has been registered.
func (s *Server) Handler() fasthttp.RequestHandler {
	app := s.App.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		s.mu.RLock()
		h, ok := s.mounts[string(ctx.Path())]
		s.mu.RUnlock()
		if ok {
			h(ctx)
			return
		}
		app(ctx)
	}
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "brightsocket",
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for open requests
// until ctx is done. Hijacked WebSocket connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.ShutdownWithContext(ctx)
}
