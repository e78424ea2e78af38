package config

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single lint finding. Path is a dotted path into the config
// (e.g. "storage.dsn").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate lints cfg without mutating it. Callers decide whether warnings are
// fatal.
func Validate(cfg Config) []Issue {
	var issues []Issue
	issues = append(issues, validateServer(cfg.Server)...)
	issues = append(issues, validateStorage(cfg.Storage)...)
	issues = append(issues, validateIngest(cfg.Ingest)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	return issues
}

func validateServer(s Server) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Addr) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "server.addr",
			Message:  "server.addr must not be empty",
		})
	}
	if s.MaxUploadBytes <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "server.max_upload_bytes",
			Message:  "max_upload_bytes is not positive; uploads are unbounded",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	}

	known := map[string]struct{}{
		"postgres": {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty",
		})
	}
	if s.MaxConns < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.max_conns",
			Message:  "max_conns must not be negative",
		})
	}
	if s.Kind == "sqlite" && s.MaxConns > 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.max_conns",
			Message:  fmt.Sprintf("max_conns=%d with sqlite; concurrent writers will contend for the file lock", s.MaxConns),
		})
	}
	return issues
}

func validateIngest(in Ingest) []Issue {
	var issues []Issue

	if in.FlushThreshold <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.flush_threshold",
			Message:  fmt.Sprintf("flush_threshold=%d; the default of 1000 is used", in.FlushThreshold),
		})
	}
	if in.MaxConcurrentStreams < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.max_concurrent_streams",
			Message:  "max_concurrent_streams must not be negative",
		})
	}
	if in.Comma != "" {
		r, size := utf8.DecodeRuneInString(in.Comma)
		switch {
		case size != len(in.Comma):
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "ingest.comma",
				Message:  fmt.Sprintf("comma %q must be a single character", in.Comma),
			})
		case r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "ingest.comma",
				Message:  fmt.Sprintf("comma %q is not a valid delimiter", in.Comma),
			})
		}
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
		if strings.TrimSpace(m.Job) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.job",
				Message:  "metrics.job is empty; the default job name is used",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q (want none, pushgateway or datadog)", m.Backend),
		})
	}
	return issues
}
