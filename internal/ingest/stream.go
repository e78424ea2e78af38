package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"eavstore/internal/batcher"
	"eavstore/internal/registry"
	"eavstore/internal/storage"
)

type state int

const (
	awaitingHeader state = iota
	streaming
	done
	failed
)

func (s state) String() string {
	switch s {
	case awaitingHeader:
		return "awaiting_header"
	case streaming:
		return "streaming"
	case done:
		return "done"
	case failed:
		return "failed"
	}
	return "unknown"
}

// header is the variable context declared by a stream's first record. It is
// owned by exactly one stream.
type header struct {
	names []string
	ids   []int64
}

func (h header) width() int { return len(h.ids) + 2 }

// stream drives one source through awaitingHeader -> streaming -> done, or
// failed from any state.
type stream struct {
	label   string
	cfg     Config
	reg     *registry.Registry
	batch   *batcher.Batcher
	aborted func() bool

	state state
	hdr   header
	line  int

	records int64
	facts   int64
	skipped int64
	flushes int64
}

// run consumes r to the end. Parse and resolution failures come back as
// *StreamError; flush failures come back as *batcher.StoreWriteError.
func (s *stream) run(ctx context.Context, r io.Reader) error {
	cr := csv.NewReader(skipBOM(r))
	cr.Comma = s.cfg.Comma
	cr.FieldsPerRecord = -1 // arity is checked against the header below
	cr.ReuseRecord = true

	for {
		if s.aborted() {
			s.state = failed
			return ErrAborted
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			s.state = done
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				s.line = pe.Line
			}
			return s.fail(rec, &ParseError{Reason: "unreadable record", Err: err})
		}
		s.line, _ = cr.FieldPos(0)
		if s.cfg.TrimSpace {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}

		switch s.state {
		case awaitingHeader:
			err = s.resolveHeader(ctx, rec)
		case streaming:
			err = s.ingestRecord(ctx, rec)
		}
		if err != nil {
			var swe *batcher.StoreWriteError
			if errors.As(err, &swe) {
				s.state = failed
				return err
			}
			return s.fail(rec, err)
		}
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark so the first header cell
// reads "Country" and quoted first cells still parse.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

func (s *stream) fail(rec []string, err error) error {
	s.state = failed
	return &StreamError{
		Label:  s.label,
		Line:   s.line,
		Record: append([]string(nil), rec...),
		Err:    err,
	}
}

func (s *stream) resolveHeader(ctx context.Context, rec []string) error {
	if len(rec) < 2 {
		return &ParseError{Reason: fmt.Sprintf("header has %d fields, want at least Country,Year", len(rec))}
	}
	names := append([]string(nil), rec[2:]...)
	ids, err := s.reg.ResolveVariables(ctx, names)
	if err != nil {
		return err
	}
	s.hdr = header{names: names, ids: ids}
	s.state = streaming
	return nil
}

func (s *stream) ingestRecord(ctx context.Context, rec []string) error {
	if len(rec) != s.hdr.width() {
		return &ParseError{Reason: fmt.Sprintf("record has %d fields, header has %d", len(rec), s.hdr.width())}
	}
	if registry.Normalize(rec[0]) == "" {
		return &ParseError{Reason: "empty country"}
	}
	year, err := parseYear(rec[1])
	if err != nil {
		return &ParseError{Reason: fmt.Sprintf("year %q is not a 32-bit integer", rec[1]), Err: err}
	}
	countryID, err := s.reg.ResolveCountry(ctx, rec[0])
	if err != nil {
		return err
	}

	s.records++
	for i, v := range rec[2:] {
		if v == "" {
			s.skipped++
			continue
		}
		s.batch.Enqueue(storage.Fact{
			CountryID:  countryID,
			Year:       year,
			VariableID: s.hdr.ids[i],
			Value:      v,
		})
		s.facts++
	}

	n, err := s.batch.Flush(ctx, false)
	if err != nil {
		return err
	}
	if n > 0 {
		s.flushes++
	}
	return nil
}

// parseYear accepts only values that fit the INTEGER year column, so an
// out-of-range year fails its own stream instead of the shared flush.
func parseYear(s string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
