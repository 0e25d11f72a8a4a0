// Package config provides configuration parsing for molbridge.
//
// The configuration is stored in molbridge.json. Every field is optional;
// missing fields keep their defaults. An optional .env file next to the
// configuration is loaded into the environment, and MOLBRIDGE_* variables
// then override the file.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":8443",
//	    "max_sessions": 16,
//	    "allowed_origins": ["https://viewer.example.org"]
//	  },
//	  "tls": {
//	    "cert_file": "localhost.pem",
//	    "key_file": "localhost.key",
//	    "key_password": "password"
//	  },
//	  "stream": {
//	    "frame_rate": 30,
//	    "limit": 8000,
//	    "bond_format": "uint64"
//	  },
//	  "session": {
//	    "first_frame_timeout": "30s",
//	    "heartbeat_interval": "25s"
//	  },
//	  "simulation": {
//	    "trajectory": "water.json",
//	    "loop": true
//	  },
//	  "log": {"level": "info", "format": "json"},
//	  "record": {"frames": 100, "out": "s3://bucket/runs/water.json"}
//	}
//
// Relative file paths are resolved against the configuration file's
// directory.
//
// # Usage
//
//	cfg, err := config.LoadFromDir(".")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	serverConfig, err := cfg.ServerConfig()
package config
