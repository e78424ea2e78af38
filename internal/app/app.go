// Package app wires configuration into a running store, registry, ingestion
// pipeline and pivot engine. It keeps the binaries thin: they depend on this
// package and the storage factory, never on a backend package directly.
package app

import (
	"context"
	"fmt"
	"log"

	"eavstore/internal/config"
	"eavstore/internal/ingest"
	"eavstore/internal/metrics"
	"eavstore/internal/metrics/datadog"
	"eavstore/internal/metrics/prompush"
	"eavstore/internal/pivot"
	"eavstore/internal/registry"
	"eavstore/internal/storage"
)

// App holds the long-lived components built from one Config.
type App struct {
	Store    storage.Store
	Registry *registry.Registry
	Pipeline *ingest.Pipeline
	Engine   *pivot.Engine
}

// Function variables used as test seams.
var (
	newStore     = storage.New
	ensureSchema = storage.EnsureSchema
)

// Open connects to the configured store, bootstraps the schema when
// storage.auto_create_schema is set, and builds the pipeline and engine.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := newStore(ctx, storage.Config{
		Kind:     cfg.Storage.Kind,
		DSN:      cfg.Storage.DSN,
		MaxConns: cfg.Storage.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if cfg.Storage.AutoCreateSchema {
		if err := ensureSchema(ctx, cfg.Storage.Kind, st); err != nil {
			st.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
		log.Printf("app: schema ready kind=%s", cfg.Storage.Kind)
	}

	reg := registry.New(st)
	return &App{
		Store:    st,
		Registry: reg,
		Pipeline: ingest.New(reg, st, ingest.Config{
			FlushThreshold:       cfg.Ingest.FlushThreshold,
			MaxConcurrentStreams: cfg.Ingest.MaxConcurrentStreams,
			Comma:                cfg.Ingest.CommaRune(),
			TrimSpace:            cfg.Ingest.TrimSpace,
		}),
		Engine: pivot.New(st),
	}, nil
}

// Close releases the store.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}

// SetupMetrics installs the configured metrics backend. The returned closer
// flushes (and for datadog, closes) the backend; it is never nil.
func SetupMetrics(m config.Metrics) (func(), error) {
	nop := func() {}

	switch m.Backend {
	case "", "none":
		return nop, nil

	case "pushgateway":
		b, err := prompush.NewBackend(m.Job, m.PushgatewayURL)
		if err != nil {
			return nop, err
		}
		metrics.SetBackend(b)
		log.Printf("metrics: backend=pushgateway url=%s job=%s", m.PushgatewayURL, m.Job)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}, nil

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       m.DatadogAddr,
			GlobalTags: []string{"job:" + m.Job},
		})
		if err != nil {
			return nop, err
		}
		metrics.SetBackend(b)
		log.Printf("metrics: backend=datadog addr=%s job=%s", m.DatadogAddr, m.Job)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: close error: %v", err)
			}
		}, nil
	}
	return nop, fmt.Errorf("unknown metrics backend %q", m.Backend)
}
