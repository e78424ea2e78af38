package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eavstore/internal/app"
	"eavstore/internal/config"
	"eavstore/internal/httpapi"
	"eavstore/internal/metrics"

	// register all backends with the storage factory.
	_ "eavstore/internal/storage/all"
)

const (
	metricsFlushInterval = 15 * time.Second
	shutdownTimeout      = 30 * time.Second
)

// main is the entry point for the HTTP server. It resolves configuration
// (flag -> env -> file -> default), opens the store and serves until SIGINT or
// SIGTERM.
func main() {
	var (
		cfgPath     string
		addr        string
		dsn         string
		storageKind string
		metricsFlg  string
		validate    bool
		printConfig bool
	)

	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.addr and PORT)")
	flag.StringVar(&dsn, "dsn", "", "storage DSN (overrides storage.dsn and DATABASE_URL)")
	flag.StringVar(&storageKind, "storage", "", "storage kind: postgres or sqlite")
	flag.StringVar(&metricsFlg, "metrics-backend", "", "metrics backend: none, pushgateway or datadog")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&printConfig, "print-config", false, "print the resolved configuration and exit")
	verbose := flag.Bool("v", false, "enable request access logs")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			fatalf("%v", err)
		}
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		fatalf("env: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if storageKind != "" {
		cfg.Storage.Kind = storageKind
	}
	if metricsFlg != "" {
		cfg.Metrics.Backend = metricsFlg
	}

	if printConfig {
		b, err := config.Marshal(cfg)
		if err != nil {
			fatalf("marshal config: %v", err)
		}
		fmt.Println(string(b))
		os.Exit(0)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid")
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid")
		os.Exit(0)
	}

	if err := run(cfg, *verbose); err != nil {
		fatalf("%v", err)
	}
}

// run serves until SIGINT or SIGTERM. Every cleanup is deferred here so that
// it also runs on the error paths.
func run(cfg config.Config, accessLog bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics, _ := startMetrics(ctx, cfg.Metrics)
	defer closeMetrics()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpapi.New(httpapi.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AccessLog:      accessLog,
	}, a.Pipeline, a.Engine, a.Store)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Running on %s (storage=%s)...", cfg.Server.Addr, cfg.Storage.Kind)
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Printf("server: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
	}
	return nil
}

// startMetrics installs the metrics backend. The periodic push runs only when
// a pushgateway backend was installed; pushing reports whether it started.
// A failed setup leaves metrics disabled.
func startMetrics(ctx context.Context, m config.Metrics) (closeFn func(), pushing bool) {
	closeFn, err := app.SetupMetrics(m)
	if err != nil {
		log.Printf("metrics: %v; metrics disabled", err)
		return closeFn, false
	}
	if m.Backend != "pushgateway" {
		return closeFn, false
	}
	go pushMetrics(ctx)
	return closeFn, true
}

// pushMetrics pushes to the gateway periodically; a long-running server never
// reaches the final flush often enough on its own.
func pushMetrics(ctx context.Context) {
	t := time.NewTicker(metricsFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
