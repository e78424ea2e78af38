// Package config defines the JSON-serializable configuration for the eavstore
// server and loader. Decoding uses the standard library only.
//
// Precedence, applied by the binaries: flag > environment > file > Default().
//
// Example:
//
//	{
//	  "server":  { "addr": ":3000", "max_upload_bytes": 67108864 },
//	  "storage": { "kind": "postgres", "dsn": "postgresql://...", "auto_create_schema": true },
//	  "ingest":  { "flush_threshold": 1000, "max_concurrent_streams": 8, "comma": ",", "trim_space": true },
//	  "metrics": { "backend": "pushgateway", "pushgateway_url": "http://pushgateway:9091", "job": "eavstore" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	Server  Server  `json:"server"`
	Storage Storage `json:"storage"`
	Ingest  Ingest  `json:"ingest"`
	Metrics Metrics `json:"metrics"`
}

// Server configures the HTTP listener.
type Server struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string `json:"addr"`

	// MaxUploadBytes caps an /importCSV request body.
	MaxUploadBytes int64 `json:"max_upload_bytes"`
}

// Storage selects and configures the backend.
type Storage struct {
	// Kind is a registered backend: "postgres" or "sqlite".
	Kind string `json:"kind"`

	// DSN is passed to the backend unchanged.
	DSN string `json:"dsn"`

	// AutoCreateSchema creates the three tables on startup when missing.
	AutoCreateSchema bool `json:"auto_create_schema"`

	// MaxConns bounds the connection pool; 0 keeps the backend default.
	MaxConns int `json:"max_conns"`
}

// Ingest tunes the ingestion pipeline.
type Ingest struct {
	FlushThreshold       int    `json:"flush_threshold"`
	MaxConcurrentStreams int    `json:"max_concurrent_streams"`
	Comma                string `json:"comma"`
	TrimSpace            bool   `json:"trim_space"`
}

// CommaRune returns the first rune of Comma, or ',' when empty.
func (i Ingest) CommaRune() rune {
	if i.Comma == "" {
		return ','
	}
	return []rune(i.Comma)[0]
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
	Job            string `json:"job"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":3000",
			MaxUploadBytes: 64 << 20,
		},
		Storage: Storage{
			Kind:             "postgres",
			AutoCreateSchema: true,
		},
		Ingest: Ingest{
			FlushThreshold: 1000,
			Comma:          ",",
			TrimSpace:      true,
		},
		Metrics: Metrics{
			Backend: "none",
			Job:     "eavstore",
		},
	}
}

// Load reads path over Default(). Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides using getenv (os.Getenv in
// production). Recognized: DATABASE_URL, PORT, EAV_FLUSH_THRESHOLD,
// METRICS_BACKEND, PUSHGATEWAY_URL.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := getenv("EAV_FLUSH_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EAV_FLUSH_THRESHOLD=%q: %w", v, err)
		}
		cfg.Ingest.FlushThreshold = n
	}
	if v := getenv("METRICS_BACKEND"); v != "" {
		cfg.Metrics.Backend = v
	}
	if v := getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	return nil
}

// Marshal renders cfg as indented JSON, e.g. for -print-config.
func Marshal(cfg Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
