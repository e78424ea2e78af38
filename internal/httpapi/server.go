// Package httpapi exposes the ingestion and filter endpoints over HTTP.
//
// Routes:
//
//	GET  /           -> upload and filter form
//	POST /importCSV  -> multipart upload; every file part is one named stream
//	GET  /filter     -> pivot query, one filter per query parameter
//	GET  /healthz    -> store ping
package httpapi

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"eavstore/internal/ingest"
	"eavstore/internal/pivot"
)

// Ingester runs one ingestion request over sources yielded in order.
// *ingest.Pipeline satisfies it.
type Ingester interface {
	IngestEach(ctx context.Context, next func() (ingest.Source, error)) (ingest.Report, error)
}

// Querier runs pivot queries. *pivot.Engine satisfies it.
type Querier interface {
	Query(ctx context.Context, filters map[string]string) ([]pivot.Row, error)
}

// Pinger checks store reachability. storage.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls request handling.
type Config struct {
	// MaxUploadBytes caps an /importCSV body; <= 0 is unbounded.
	MaxUploadBytes int64

	// AccessLog enables echo's request logger.
	AccessLog bool
}

// Server wraps an echo instance with the eavstore routes.
type Server struct {
	cfg      Config
	e        *echo.Echo
	tmpl     *template.Template
	ingester Ingester
	querier  Querier
	pinger   Pinger
}

// New constructs a Server.
func New(cfg Config, ing Ingester, q Querier, p Pinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if cfg.AccessLog {
		e.Use(middleware.Logger())
	}

	s := &Server{
		cfg:      cfg,
		e:        e,
		tmpl:     template.Must(template.New("index").Parse(indexHTML)),
		ingester: ing,
		querier:  q,
		pinger:   p,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/", s.handleIndex)
	s.e.POST("/importCSV", s.handleImport)
	s.e.GET("/filter", s.handleFilter)
	s.e.GET("/healthz", s.handleHealth)
}

// Handler returns the root handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) handleIndex(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return s.tmpl.Execute(c.Response(), nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pinger.Ping(c.Request().Context()); err != nil {
		return c.String(http.StatusServiceUnavailable, "store unavailable: "+err.Error()+"\n")
	}
	return c.String(http.StatusOK, "ok\n")
}

// indexHTML is a minimal page for manual uploads and filters.
//
//go:embed index.tmpl.html
var indexHTML string
