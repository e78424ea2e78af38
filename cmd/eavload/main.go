package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"eavstore/internal/app"
	"eavstore/internal/config"
	"eavstore/internal/datasource/file"
	"eavstore/internal/datasource/httpds"
	"eavstore/internal/ingest"

	// register all backends with the storage factory.
	_ "eavstore/internal/storage/all"
)

// main ingests local CSV files and URLs as one request, then optionally runs
// a filter query and prints the wide rows as JSON.
//
//	eavload -storage sqlite -dsn file:eav.db gdp.csv pop.csv
//	eavload -list inputs.txt -query Year=2020,GDP=100
func main() {
	var (
		cfgPath     string
		dsn         string
		storageKind string
		listPath    string
		query       string
		threshold   int
		metricsFlg  string
	)

	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional)")
	flag.StringVar(&dsn, "dsn", "", "storage DSN (overrides storage.dsn and DATABASE_URL)")
	flag.StringVar(&storageKind, "storage", "", "storage kind: postgres or sqlite")
	flag.StringVar(&listPath, "list", "", "manifest file listing inputs, one per line")
	flag.StringVar(&query, "query", "", "filters to run after loading, e.g. Year=2020,GDP=100")
	flag.IntVar(&threshold, "threshold", 0, "flush threshold (overrides ingest.flush_threshold)")
	flag.StringVar(&metricsFlg, "metrics-backend", "", "metrics backend: none, pushgateway or datadog")
	verbose := flag.Bool("v", false, "enable verbose logs")
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
	if dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if storageKind != "" {
		cfg.Storage.Kind = storageKind
	}
	if threshold > 0 {
		cfg.Ingest.FlushThreshold = threshold
	}
	if metricsFlg != "" {
		cfg.Metrics.Backend = metricsFlg
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError || *verbose {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if config.HasErrors(issues) {
		os.Exit(1)
	}

	inputs := flag.Args()
	if listPath != "" {
		listed, err := file.ReadManifest(listPath)
		if err != nil {
			fatalf("%v", err)
		}
		inputs = append(inputs, listed...)
	}
	filters, err := parseFilters(query)
	if err != nil {
		fatalf("-query: %v", err)
	}
	if len(inputs) == 0 && filters == nil {
		fatalf("nothing to do: pass CSV paths or URLs, -list, or -query")
	}

	if err := load(cfg, inputs, filters, *verbose); err != nil {
		fatalf("%v", err)
	}
}

// load runs the ingest request and the optional query. Cleanups are deferred
// here so they also run when either step fails.
func load(cfg config.Config, inputs []string, filters map[string]string, verbose bool) error {
	closeMetrics, err := app.SetupMetrics(cfg.Metrics)
	if err != nil {
		log.Printf("metrics: %v; metrics disabled", err)
	}
	defer closeMetrics()

	ctx := context.Background()
	start := time.Now()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(inputs) > 0 {
		rep, err := a.Pipeline.Ingest(ctx, buildSources(inputs))
		if verbose {
			log.Printf("load: %+v", rep)
		}
		if err != nil {
			return fmt.Errorf("load failed: %w", err)
		}
		log.Printf("load: streams=%d records=%d facts=%d in %s",
			rep.Streams, rep.Records, rep.Written, time.Since(start).Truncate(time.Millisecond))
	}

	if filters != nil {
		rows, err := a.Engine.Query(ctx, filters)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"results": rows}); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}

// buildSources makes one stream per input. Local files are labeled by base
// name, URLs by their last path segment.
func buildSources(inputs []string) []ingest.Source {
	var client *httpds.Client
	out := make([]ingest.Source, 0, len(inputs))
	for _, in := range inputs {
		if file.IsURL(in) {
			if client == nil {
				client = httpds.NewClient(httpds.Config{})
			}
			s := client.Source(in)
			out = append(out, ingest.Source{Label: s.Label(), Data: s})
			continue
		}
		l := file.NewLocal(in)
		out = append(out, ingest.Source{Label: l.Label(), Data: l})
	}
	return out
}

// parseFilters parses "k=v,k=v". An empty string yields nil (no query); "all"
// yields an empty, non-nil map (every row).
func parseFilters(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := map[string]string{}
	if s == "all" {
		return out, nil
	}
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("bad filter %q, want key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
