package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/molbridge/molbridge/pkg/codec"
	"github.com/molbridge/molbridge/pkg/export"
	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "molbridge.json"

	// EnvFileName is the optional dotenv file loaded next to the config.
	EnvFileName = ".env"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":443"

	// DefaultFrameRate is the default number of positions messages per
	// second.
	DefaultFrameRate = 30
)

// Environment variables that override the file.
const (
	EnvAddress     = "MOLBRIDGE_ADDRESS"
	EnvTLSCert     = "MOLBRIDGE_TLS_CERT"
	EnvTLSKey      = "MOLBRIDGE_TLS_KEY"
	EnvTLSPassword = "MOLBRIDGE_TLS_KEY_PASSWORD"
	EnvTLSPKCS12   = "MOLBRIDGE_TLS_PKCS12"
	EnvTrajectory  = "MOLBRIDGE_TRAJECTORY"
	EnvLogLevel    = "MOLBRIDGE_LOG_LEVEL"
)

// Config represents the complete molbridge.json configuration.
type Config struct {
	// Server contains listener and admission settings.
	Server ServerSection `json:"server"`

	// TLS contains certificate material.
	TLS TLSSection `json:"tls"`

	// Stream controls frame selection, encoding and cadence.
	Stream StreamSection `json:"stream"`

	// Session contains per-connection timeouts and limits.
	Session SessionSection `json:"session"`

	// Simulation selects what the bridge streams.
	Simulation SimulationSection `json:"simulation"`

	// Log configures the process logger.
	Log LogSection `json:"log"`

	// Record contains defaults for the record command.
	Record RecordSection `json:"record"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerSection contains listener settings.
type ServerSection struct {
	Address         string   `json:"address,omitempty"`
	Insecure        bool     `json:"insecure,omitempty"`
	MaxSessions     int      `json:"max_sessions,omitempty"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	ReadBufferSize  int      `json:"read_buffer_size,omitempty"`
	WriteBufferSize int      `json:"write_buffer_size,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`
}

// TLSSection points at the certificate and key.
type TLSSection struct {
	CertFile    string `json:"cert_file,omitempty"`
	KeyFile     string `json:"key_file,omitempty"`
	KeyPassword string `json:"key_password,omitempty"`
	PKCS12File  string `json:"pkcs12_file,omitempty"`
}

// StreamSection controls what each positions message carries.
type StreamSection struct {
	FrameRate     float64 `json:"frame_rate,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Scale         float64 `json:"scale,omitempty"`
	BondFormat    string  `json:"bond_format,omitempty"`
	SkipUnchanged bool    `json:"skip_unchanged,omitempty"`
}

// SessionSection contains per-connection timeouts.
type SessionSection struct {
	FirstFrameTimeout Duration `json:"first_frame_timeout,omitempty"`
	ReadTimeout       Duration `json:"read_timeout,omitempty"`
	WriteTimeout      Duration `json:"write_timeout,omitempty"`
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"`
	MaxMessageSize    int64    `json:"max_message_size,omitempty"`
}

// SimulationSection selects the simulation source.
type SimulationSection struct {
	// Trajectory is a trajectory file replayed as the simulation.
	Trajectory string `json:"trajectory,omitempty"`

	// FrameRate is the replay rate in frames per second.
	FrameRate float64 `json:"frame_rate,omitempty"`

	// Loop restarts the replay after the last frame.
	Loop bool `json:"loop"`
}

// LogSection configures logging.
type LogSection struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// RecordSection holds defaults for recordings.
type RecordSection struct {
	Frames   int              `json:"frames,omitempty"`
	Interval Duration         `json:"interval,omitempty"`
	Out      string           `json:"out,omitempty"`
	S3       export.S3Options `json:"s3"`
}

// New creates a new Config with default values.
func New() *Config {
	session := server.DefaultSessionConfig()
	return &Config{
		Server: ServerSection{
			Address:         DefaultAddress,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Stream: StreamSection{
			FrameRate:  DefaultFrameRate,
			Limit:      frame.DefaultLimit,
			Scale:      frame.DefaultScale,
			BondFormat: "uint64",
		},
		Session: SessionSection{
			FirstFrameTimeout: Duration(session.FirstFrameTimeout),
			ReadTimeout:       Duration(session.ReadTimeout),
			WriteTimeout:      Duration(session.WriteTimeout),
			HeartbeatInterval: Duration(session.HeartbeatInterval),
			MaxMessageSize:    session.MaxMessageSize,
		},
		Simulation: SimulationSection{
			FrameRate: DefaultFrameRate,
			Loop:      true,
		},
		Log: LogSection{
			Level:  "info",
			Format: "text",
		},
		Record: RecordSection{
			Frames:   100,
			Interval: Duration(time.Second / DefaultFrameRate),
		},
	}
}

// Load reads the configuration file at path over the defaults, loads the
// .env file next to it and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := New()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.configPath = path

	if err := LoadEnvFile(filepath.Dir(path)); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromDir loads molbridge.json from dir. A missing file is not an
// error: the defaults are used, still subject to .env and environment
// overrides.
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := New()
		if err := LoadEnvFile(dir); err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
		return cfg, nil
	}
	return Load(path)
}

// LoadEnvFile loads dir/.env into the process environment if it exists.
// Variables already set are not overwritten.
func LoadEnvFile(dir string) error {
	path := filepath.Join(dir, EnvFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from MOLBRIDGE_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Server.Address, EnvAddress)
	set(&c.TLS.CertFile, EnvTLSCert)
	set(&c.TLS.KeyFile, EnvTLSKey)
	set(&c.TLS.KeyPassword, EnvTLSPassword)
	set(&c.TLS.PKCS12File, EnvTLSPKCS12)
	set(&c.Simulation.Trajectory, EnvTrajectory)
	set(&c.Log.Level, EnvLogLevel)
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("config: no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// ResolvePath resolves p relative to the config file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.configPath == "" {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Address == "" {
		add("server.address is required")
	}
	if c.Server.MaxSessions < 0 {
		add("server.max_sessions must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}
	if !c.Server.Insecure && c.TLS.PKCS12File == "" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		add("tls.cert_file and tls.key_file (or tls.pkcs12_file) are required unless server.insecure is set")
	}

	if c.Stream.FrameRate < 0 {
		add("stream.frame_rate must not be negative")
	}
	if c.Stream.BondFormat != "" {
		if f, err := codec.ParseFormat(c.Stream.BondFormat); err != nil || (f != codec.Uint32 && f != codec.Uint64) {
			add("stream.bond_format must be uint32 or uint64, got %q", c.Stream.BondFormat)
		}
	}

	for name, d := range map[string]Duration{
		"session.first_frame_timeout": c.Session.FirstFrameTimeout,
		"session.read_timeout":        c.Session.ReadTimeout,
		"session.write_timeout":       c.Session.WriteTimeout,
		"session.heartbeat_interval":  c.Session.HeartbeatInterval,
	} {
		if d < 0 {
			add("%s must not be negative", name)
		}
	}
	if c.Session.MaxMessageSize < 0 {
		add("session.max_message_size must not be negative")
	}

	if c.Simulation.FrameRate < 0 {
		add("simulation.frame_rate must not be negative")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Record.Frames < 0 {
		add("record.frames must not be negative")
	}
	if c.Record.Out != "" {
		if _, err := export.ParseDestination(c.Record.Out); err != nil {
			add("record.out: %v", err)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ServerConfig converts the file settings into a server configuration.
func (c *Config) ServerConfig() (*server.ServerConfig, error) {
	cfg := server.DefaultServerConfig()
	cfg.Address = c.Server.Address
	cfg.Insecure = c.Server.Insecure
	cfg.MaxSessions = c.Server.MaxSessions
	cfg.AllowedOrigins = c.Server.AllowedOrigins
	if c.Server.ReadBufferSize > 0 {
		cfg.ReadBufferSize = c.Server.ReadBufferSize
	}
	if c.Server.WriteBufferSize > 0 {
		cfg.WriteBufferSize = c.Server.WriteBufferSize
	}
	if c.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.Server.ShutdownTimeout.Std()
	}

	cfg.TLS = server.TLSConfig{
		CertFile:    c.ResolvePath(c.TLS.CertFile),
		KeyFile:     c.ResolvePath(c.TLS.KeyFile),
		KeyPassword: c.TLS.KeyPassword,
		PKCS12File:  c.ResolvePath(c.TLS.PKCS12File),
	}

	session := cfg.SessionConfig
	session.FirstFrameTimeout = c.Session.FirstFrameTimeout.Std()
	session.ReadTimeout = c.Session.ReadTimeout.Std()
	session.WriteTimeout = c.Session.WriteTimeout.Std()
	session.HeartbeatInterval = c.Session.HeartbeatInterval.Std()
	session.MaxMessageSize = c.Session.MaxMessageSize
	session.FrameRate = c.Stream.FrameRate
	session.SkipUnchanged = c.Stream.SkipUnchanged
	session.Encoder.Limit = c.Stream.Limit
	session.Encoder.Scale = c.Stream.Scale
	if c.Stream.BondFormat != "" {
		f, err := codec.ParseFormat(c.Stream.BondFormat)
		if err != nil {
			return nil, fmt.Errorf("config: stream.bond_format: %w", err)
		}
		session.Encoder.BondFormat = f
	}
	return cfg, nil
}

// ParseLevel parses a log level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Duration is a time.Duration written as a string such as "30s". Plain
// JSON numbers are read as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return errors.New(`duration must be a string like "30s" or a number of seconds`)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
