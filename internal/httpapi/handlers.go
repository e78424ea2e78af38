package httpapi

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"eavstore/internal/batcher"
	"eavstore/internal/datasource"
	"eavstore/internal/ingest"
)

// handleImport ingests every file part of a multipart body as one request.
// Parts are read as they arrive; each runs as its own stream, labeled by its
// form field name. Non-file form fields are skipped.
func (s *Server) handleImport(c echo.Context) error {
	req := c.Request()
	if s.cfg.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, s.cfg.MaxUploadBytes)
	}

	mr, err := req.MultipartReader()
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("Unable to read upload: %v\n", err))
	}

	var (
		files   int
		readErr error
	)
	next := func() (ingest.Source, error) {
		for {
			p, err := mr.NextPart()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr = err
				}
				return ingest.Source{}, err
			}
			if p.FileName() == "" {
				_ = p.Close()
				continue
			}
			files++
			return partSource(p), nil
		}
	}

	rep, err := s.ingester.IngestEach(req.Context(), next)
	if err != nil {
		return importError(c, err, readErr)
	}
	if files == 0 {
		return c.String(http.StatusBadRequest, "No files in upload.\n")
	}
	c.Response().Header().Set("X-Eav-Facts-Written", fmt.Sprint(rep.Written))
	return c.String(http.StatusOK, "Done.\n")
}

func partSource(p *multipart.Part) ingest.Source {
	return ingest.Source{
		Label: p.FormName(),
		Data: datasource.Func(func(context.Context) (io.ReadCloser, error) {
			return p, nil
		}),
	}
}

// importError maps a failed request to a status: an oversized body is 413,
// flush failures are the server's fault, stream failures the input's.
func importError(c echo.Context, err, readErr error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return c.String(http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes.\n", mbe.Limit))
	}
	var swe *batcher.StoreWriteError
	if errors.As(err, &swe) {
		return c.String(http.StatusInternalServerError, fmt.Sprintf("Unable to store records: %v\n", swe))
	}
	var se *ingest.StreamError
	if errors.As(err, &se) {
		var pe *csv.ParseError
		if errors.As(se.Err, &pe) {
			return c.String(http.StatusBadRequest, fmt.Sprintf("Unable to process input \"%s\": %v\n", se.Label, pe))
		}
		return c.String(http.StatusBadRequest,
			fmt.Sprintf("Unable to fully process input \"%s\": %v; Record: %s\n", se.Label, se.Err, se.RecordText()))
	}
	if readErr != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("Unable to read upload: %v\n", readErr))
	}
	return c.String(http.StatusInternalServerError, fmt.Sprintf("Unable to process upload: %v\n", err))
}

// handleFilter treats every query parameter as one filter. Repeated keys use
// the first value.
func (s *Server) handleFilter(c echo.Context) error {
	params := c.QueryParams()
	filters := make(map[string]string, len(params))
	for k, vs := range params {
		if len(vs) > 0 {
			filters[k] = vs[0]
		}
	}

	rows, err := s.querier.Query(c.Request().Context(), filters)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"err": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"results": rows})
}
