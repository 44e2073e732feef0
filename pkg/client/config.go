package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config errors.
var (
	ErrNoRoom     = errors.New("client: room is required")
	ErrNoUsername = errors.New("client: username is required")
	ErrNoServer   = errors.New("client: server URL is required")
)

// Config holds configuration for a chat session.
type Config struct {
	// ServerURL is the chat server base URL. Both http(s) and ws(s)
	// schemes are accepted; http is mapped to ws and https to wss.
	ServerURL string `env:"ROOMWIRE_SERVER_URL"`

	// Room is the room identifier. It is URL-escaped when building the
	// endpoint address.
	Room string `env:"ROOMWIRE_ROOM"`

	// Username is the local user's name, attached to outbound messages
	// and typing signals.
	Username string `env:"ROOMWIRE_USERNAME"`

	// AvatarURL is an optional avatar attached to outbound messages.
	AvatarURL string `env:"ROOMWIRE_AVATAR_URL"`

	// ReconnectInterval is the fixed period between reconnect attempts
	// after a transport fault. Default: 3 seconds.
	ReconnectInterval time.Duration `env:"ROOMWIRE_RECONNECT_INTERVAL"`

	// TypingExpiry is how long the typing indicator stays set after the
	// last typing signal. Default: 2 seconds.
	TypingExpiry time.Duration `env:"ROOMWIRE_TYPING_EXPIRY"`

	// HandshakeTimeout is the maximum time for the WebSocket dial.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration `env:"ROOMWIRE_HANDSHAKE_TIMEOUT"`

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration `env:"ROOMWIRE_WRITE_TIMEOUT"`

	// MaxMessageSize is the maximum size of an incoming frame.
	// Default: 64KB.
	MaxMessageSize int64 `env:"ROOMWIRE_MAX_MESSAGE_SIZE"`

	// EventBuffer is the size of the inbound envelope queue between the
	// transport read loop and the session event loop. Default: 256.
	EventBuffer int `env:"ROOMWIRE_EVENT_BUFFER"`

	// Logger is the structured logger for the session. Default:
	// slog.Default().
	Logger *slog.Logger `env:"-"`

	// Metrics receives session counters. Nil disables metrics.
	Metrics *Metrics `env:"-"`
}

// DefaultConfig returns a Config with sensible defaults. Room, Username, and
// ServerURL must still be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		ReconnectInterval: 3 * time.Second,
		TypingExpiry:      2 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
		EventBuffer:       256,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by ROOMWIRE_* environment
// variables.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("client: parse env config: %w", err)
	}
	return cfg, nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// normalize fills zero-valued fields with defaults and validates the
// required ones.
func (c *Config) normalize() error {
	if c.Room == "" {
		return ErrNoRoom
	}
	if c.Username == "" {
		return ErrNoUsername
	}
	if c.ServerURL == "" {
		return ErrNoServer
	}

	def := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = def.TypingExpiry
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Endpoint builds the WebSocket endpoint address for a room:
// ws(s)://<host>/ws/chat/<url-escaped room>/.
func Endpoint(serverURL, room string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("client: invalid server URL %q: %w", serverURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// Already a WebSocket URL.
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}

	// The room segment is escaped by hand so that separators inside room
	// names cannot introduce extra path segments.
	base := strings.TrimSuffix(u.Path, "/")
	return u.Scheme + "://" + u.Host + base + "/ws/chat/" + url.PathEscape(room) + "/", nil
}
