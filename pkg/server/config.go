package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/molbridge/molbridge/pkg/frame"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// Timeouts

	// FirstFrameTimeout bounds the wait for the simulation's first frame.
	// Default: 30 seconds.
	FirstFrameTimeout time.Duration

	// ReadTimeout is the maximum time to wait for a message or pong from
	// the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 25 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// Streaming

	// FrameRate is the number of position messages sent per second.
	// Default: 30.
	FrameRate float64

	// SkipUnchanged suppresses a positions message when the simulation
	// still reports the frame that was sent last.
	// Default: false.
	SkipUnchanged bool

	// Encoder configures selection and binary encoding of frames.
	// Default: frame.DefaultEncoderConfig().
	Encoder frame.EncoderConfig
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		FirstFrameTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		MaxMessageSize:    1 << 20, // 1MB
		FrameRate:         30,
		SkipUnchanged:     false,
		Encoder:           frame.DefaultEncoderConfig(),
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults returns a copy with every zero field set to its default.
func (c *SessionConfig) withDefaults() *SessionConfig {
	defaults := DefaultSessionConfig()
	if c == nil {
		return defaults
	}
	out := c.Clone()
	if out.FirstFrameTimeout <= 0 {
		out.FirstFrameTimeout = defaults.FirstFrameTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.FrameRate <= 0 {
		out.FrameRate = defaults.FrameRate
	}
	return out
}

// FrameInterval returns the ticker period for the configured frame rate.
func (c *SessionConfig) FrameInterval() time.Duration {
	rate := c.FrameRate
	if rate <= 0 {
		rate = DefaultSessionConfig().FrameRate
	}
	return time.Duration(float64(time.Second) / rate)
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":443" or "localhost:8080").
	// Default: ":443".
	Address string

	// Insecure serves plain HTTP/WS instead of TLS.
	// Default: false.
	Insecure bool

	// TLS locates the certificate and key used when Insecure is false.
	TLS TLSConfig

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 64KB, large enough for a full positions message of the
	// default particle limit.
	WriteBufferSize int

	// AllowedOrigins restricts the WebSocket Origin header. Entries are
	// hosts ("viewer.example.org") or full origins. Empty allows all.
	AllowedOrigins []string

	// CheckOrigin overrides AllowedOrigins when set.
	CheckOrigin func(r *http.Request) bool

	// Session configuration

	// SessionConfig is the configuration for individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// Limits

	// MaxSessions is the maximum number of concurrent sessions.
	// 0 means no limit.
	// Default: 0 (no limit).
	MaxSessions int
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":443",
		ReadBufferSize:    4096,
		WriteBufferSize:   64 * 1024,
		SessionConfig:     DefaultSessionConfig(),
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxSessions:       0, // No limit
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	if c.AllowedOrigins != nil {
		clone.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	}
	return &clone
}

// Validate reports configuration that the server cannot run with.
func (c *ServerConfig) Validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max sessions must be >= 0, got %d", ErrInvalidConfig, c.MaxSessions)
	}
	if !c.Insecure && !c.TLS.Configured() {
		return fmt.Errorf("%w: TLS certificate and key are required unless insecure is set", ErrInvalidConfig)
	}
	if c.SessionConfig != nil {
		if _, err := frame.NewEncoder(c.SessionConfig.Encoder); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithSessionConfig sets the session configuration and returns the config for chaining.
func (c *ServerConfig) WithSessionConfig(sc *SessionConfig) *ServerConfig {
	c.SessionConfig = sc
	return c
}

// WithMaxSessions sets the maximum sessions and returns the config for chaining.
func (c *ServerConfig) WithMaxSessions(max int) *ServerConfig {
	c.MaxSessions = max
	return c
}

// WithInsecure disables TLS and returns the config for chaining.
func (c *ServerConfig) WithInsecure(insecure bool) *ServerConfig {
	c.Insecure = insecure
	return c
}

// AllowOrigins returns a CheckOrigin function accepting requests without an
// Origin header and requests whose origin matches one of allowed, either as
// a full origin ("https://host:port") or as a bare host.
func AllowOrigins(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimRight(a, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if _, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]; ok {
			return true
		}
		_, ok := set[strings.ToLower(u.Host)]
		return ok
	}
}
