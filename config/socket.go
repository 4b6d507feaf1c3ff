package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	Addr            string `json:"addr" yaml:"addr"`
	Path            string `json:"path" yaml:"path"`
	MaxConnections  int    `json:"max_connections" yaml:"max_connections"`
	PingInterval    int    `json:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	WriteTimeout    int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	ReadBufferSize  int    `json:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int    `json:"write_buffer_size" yaml:"write_buffer_size"`
	SendBufferSize  int    `json:"send_buffer_size" yaml:"send_buffer_size"`
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		Addr:            ":3000",
		Path:            "/ws",
		MaxConnections:  1000,
		PingInterval:    30,
		WriteTimeout:    10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

// FromEnv returns the defaults overridden by BRIGHTSOCKET_* variables.
// Values that fail to parse keep their default.
func FromEnv() *SocketConfig {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from BRIGHTSOCKET_* environment variables.
func (c *SocketConfig) ApplyEnv() {
	if addr := os.Getenv("BRIGHTSOCKET_ADDR"); addr != "" {
		c.Addr = addr
	}
	if path := os.Getenv("BRIGHTSOCKET_PATH"); path != "" {
		c.Path = path
	}
	envInt("BRIGHTSOCKET_MAX_CONNECTIONS", &c.MaxConnections)
	envInt("BRIGHTSOCKET_PING_INTERVAL", &c.PingInterval)
	envInt("BRIGHTSOCKET_WRITE_TIMEOUT", &c.WriteTimeout)
	envInt("BRIGHTSOCKET_READ_BUFFER", &c.ReadBufferSize)
	envInt("BRIGHTSOCKET_WRITE_BUFFER", &c.WriteBufferSize)
	envInt("BRIGHTSOCKET_SEND_BUFFER", &c.SendBufferSize)
}

func envInt(key string, dst *int) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if v, err := strconv.Atoi(s); err == nil {
		*dst = v
	}
}

// LoadFile reads a YAML config file on top of the defaults.
func LoadFile(path string) (*SocketConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the hub cannot run with.
func (c *SocketConfig) Validate() error {
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("config: path %q must start with /", c.Path)
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("config: send_buffer_size must be positive, got %d", c.SendBufferSize)
	}
	if c.MaxConnections < 0 || c.PingInterval < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("config: negative limits are not allowed")
	}
	return nil
}

// PingEvery is the keepalive period; zero disables pings.
func (c *SocketConfig) PingEvery() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// WriteDeadline is the per-write timeout; zero means no deadline.
func (c *SocketConfig) WriteDeadline() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}
