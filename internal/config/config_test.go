package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/molbridge/molbridge/pkg/codec"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// unsetEnv clears key for the test and again afterwards, so values loaded
// from .env files do not leak into other tests.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		os.Unsetenv(key)
		k := key
		t.Cleanup(func() { os.Unsetenv(k) })
	}
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Stream.FrameRate != DefaultFrameRate {
		t.Errorf("Stream.FrameRate = %v, want %v", cfg.Stream.FrameRate, DefaultFrameRate)
	}
	if cfg.Session.FirstFrameTimeout.Std() != 30*time.Second {
		t.Errorf("Session.FirstFrameTimeout = %v", cfg.Session.FirstFrameTimeout.Std())
	}
	if !cfg.Simulation.Loop {
		t.Error("Simulation.Loop should default to true")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad(t *testing.T) {
	unsetEnv(t, EnvAddress, EnvLogLevel, EnvTrajectory)
	tmpDir := t.TempDir()

	if _, err := Load(filepath.Join(tmpDir, ConfigFileName)); err == nil {
		t.Error("Expected error for missing config")
	}

	path := writeFile(t, tmpDir, ConfigFileName, `{
  "server": {"address": ":8443", "max_sessions": 4, "allowed_origins": ["https://viewer.example.org"]},
  "tls": {"cert_file": "localhost.pem", "key_file": "/etc/molbridge/localhost.key", "key_password": "password"},
  "stream": {"frame_rate": 10, "bond_format": "uint32", "skip_unchanged": true},
  "session": {"first_frame_timeout": "5s", "read_timeout": 90},
  "simulation": {"trajectory": "water.json", "loop": false},
  "log": {"level": "debug", "format": "json"}
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != ":8443" || cfg.Server.MaxSessions != 4 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Session.FirstFrameTimeout.Std() != 5*time.Second {
		t.Errorf("FirstFrameTimeout = %v", cfg.Session.FirstFrameTimeout.Std())
	}
	if cfg.Session.ReadTimeout.Std() != 90*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Session.ReadTimeout.Std())
	}
	if cfg.Session.WriteTimeout.Std() != 10*time.Second {
		t.Errorf("WriteTimeout should keep its default, got %v", cfg.Session.WriteTimeout.Std())
	}
	if cfg.Simulation.Loop {
		t.Error("Simulation.Loop should be false")
	}
	if cfg.Path() != path || cfg.Dir() != tmpDir {
		t.Errorf("Path = %q, Dir = %q", cfg.Path(), cfg.Dir())
	}
	if got := cfg.ResolvePath(cfg.Simulation.Trajectory); got != filepath.Join(tmpDir, "water.json") {
		t.Errorf("ResolvePath = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		data string
	}{
		{"syntax", `{"server": `},
		{"unknown field", `{"server": {"port": 443}}`},
		{"bad duration", `{"session": {"read_timeout": "soon"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tmpDir, ConfigFileName, tt.data)
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFromDir_MissingFileUsesDefaults(t *testing.T) {
	unsetEnv(t, EnvAddress)

	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Server.Address != DefaultAddress || cfg.Path() != "" {
		t.Errorf("cfg = %+v, path %q", cfg.Server, cfg.Path())
	}
}

func TestEnvOverrides(t *testing.T) {
	unsetEnv(t, EnvTLSPassword, EnvTrajectory)
	t.Setenv(EnvAddress, ":9443")
	t.Setenv(EnvLogLevel, "warn")

	dir := t.TempDir()
	writeFile(t, dir, ConfigFileName, `{"server": {"address": ":8443"}, "log": {"level": "debug"}}`)
	writeFile(t, dir, EnvFileName, "MOLBRIDGE_TLS_KEY_PASSWORD=from-dotenv\nMOLBRIDGE_ADDRESS=:7443\n")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Server.Address != ":9443" {
		t.Errorf("Address = %q, want the process environment to win", cfg.Server.Address)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.TLS.KeyPassword != "from-dotenv" {
		t.Errorf("KeyPassword = %q, want value from .env", cfg.TLS.KeyPassword)
	}
}

func TestValidate(t *testing.T) {
	cfg := New()
	cfg.Server.MaxSessions = -1
	cfg.Stream.BondFormat = "float32"
	cfg.Session.WriteTimeout = Duration(-time.Second)
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Record.Out = "s3://bucket"

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate = %v, want *ValidationError", err)
	}

	// TLS missing, plus the six fields above.
	if len(verr.Problems) != 7 {
		t.Fatalf("problems = %d: %v", len(verr.Problems), verr.Problems)
	}
	for _, want := range []string{"tls.cert_file", "server.max_sessions", "stream.bond_format", "session.write_timeout", "log.level", "log.format", "record.out"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}

	ok := New()
	ok.Server.Insecure = true
	if err := ok.Validate(); err != nil {
		t.Errorf("insecure defaults: %v", err)
	}
	ok.Server.Insecure = false
	ok.TLS.PKCS12File = "bundle.p12"
	if err := ok.Validate(); err != nil {
		t.Errorf("pkcs12: %v", err)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := New()
	cfg.Server.Address = ":8443"
	cfg.Server.MaxSessions = 3
	cfg.Stream.FrameRate = 12
	cfg.Stream.BondFormat = "uint32"
	cfg.Stream.Limit = 100
	cfg.Session.HeartbeatInterval = Duration(5 * time.Second)
	cfg.TLS.CertFile = "cert.pem"

	sc, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if sc.Address != ":8443" || sc.MaxSessions != 3 {
		t.Errorf("server = %+v", sc)
	}
	if sc.TLS.CertFile != "cert.pem" {
		t.Errorf("CertFile = %q, want unchanged without a config path", sc.TLS.CertFile)
	}
	s := sc.SessionConfig
	if s.FrameRate != 12 || s.HeartbeatInterval != 5*time.Second {
		t.Errorf("session = %+v", s)
	}
	if s.Encoder.BondFormat != codec.Uint32 || s.Encoder.Limit != 100 {
		t.Errorf("encoder = %+v", s.Encoder)
	}
}

func TestSaveAndReload(t *testing.T) {
	unsetEnv(t, EnvAddress, EnvLogLevel, EnvTrajectory)
	tmpDir := t.TempDir()

	cfg := New()
	if err := cfg.Save(); err == nil {
		t.Error("Save without path should fail")
	}

	cfg.Server.Address = ":8080"
	cfg.Simulation.Loop = false
	cfg.Record.Out = "out/water.json"
	path := filepath.Join(tmpDir, ConfigFileName)
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Address != ":8080" || loaded.Simulation.Loop || loaded.Record.Out != "out/water.json" {
		t.Errorf("reloaded = %+v %+v %+v", loaded.Server, loaded.Simulation, loaded.Record)
	}
	if loaded.Session.FirstFrameTimeout != cfg.Session.FirstFrameTimeout {
		t.Errorf("FirstFrameTimeout = %v", loaded.Session.FirstFrameTimeout.Std())
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("expected error for trace")
	}
}
