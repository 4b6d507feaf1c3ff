// Command brightsocket-demo serves a USER channel that authenticates with
// a fixed account and gates every later action on a signed session token.
package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/brightsocket/config"
	"github.com/orchestra-mcp/brightsocket/src/api"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

//go:embed index.html
var indexHTML string

func main() {
	flags := pflag.NewFlagSet("brightsocket-demo", pflag.ExitOnError)
	configPath := flags.String("config", "", "YAML config file")
	addr := flags.String("addr", "", "listen address (overrides config)")
	logLevel := flags.String("log-level", "info", "log level (debug, info, warn, error)")
	secret := flags.String("jwt-secret", envOr("BRIGHTSOCKET_JWT_SECRET", "How much wood would a wood chuck chuck?"), "HMAC secret for session tokens")
	_ = flags.Parse(os.Args[1:])

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(*logLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("log_level", *logLevel).Msg("unknown log level, using info")
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	srv := server.New(logger)
	srv.App.Get("/", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(indexHTML)
	})

	a := api.New(srv, cfg, logger)
	newDemo(*secret, logger).register(a)
	if err := a.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("channel wiring")
	}
	// Standalone when Redis is not configured or not reachable.
	_ = a.ConnectBridge(config.RedisConfigFromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Listen(cfg.Addr); err != nil {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("api close")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
