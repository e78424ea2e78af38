package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAborted marks streams stopped because a flush failed elsewhere in the
// same request.
var ErrAborted = errors.New("ingest: request aborted after flush failure")

// ParseError reports a malformed record: wrong arity, a year that is not an
// integer, or an unreadable line.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// StreamError scopes a parse or resolution failure to one stream. Err is a
// *ParseError or a *registry.ResolutionError.
type StreamError struct {
	Label  string
	Line   int
	Record []string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %q line %d: %v; record: %s", e.Label, e.Line, e.Err, e.RecordText())
}

func (e *StreamError) Unwrap() error { return e.Err }

// RecordText renders the offending record as a comma-joined line.
func (e *StreamError) RecordText() string {
	return strings.Join(e.Record, ",")
}
