package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"eavstore/internal/config"
)

// Not parallel: startMetrics installs the process-wide metrics backend.
func TestStartMetrics(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	tests := []struct {
		name        string
		m           config.Metrics
		wantPushing bool
	}{
		{name: "none", m: config.Metrics{Backend: "none"}},
		{name: "pushgateway without url", m: config.Metrics{Backend: "pushgateway", Job: "eav"}},
		{name: "unknown backend", m: config.Metrics{Backend: "graphite"}},
		{name: "pushgateway", m: config.Metrics{Backend: "pushgateway", PushgatewayURL: gw.URL, Job: "eav"}, wantPushing: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			closeFn, pushing := startMetrics(ctx, tt.m)
			if closeFn == nil {
				t.Fatal("closeFn is nil")
			}
			defer closeFn()
			if pushing != tt.wantPushing {
				t.Fatalf("pushing = %t, want %t", pushing, tt.wantPushing)
			}
		})
	}
}
