// Package ingest turns uploaded wide-format CSV streams into facts.
//
// One call to Pipeline.Ingest or Pipeline.IngestEach is one request: every
// source runs as its own stream, sharing the registry and a batcher created
// for the request. Ingest runs streams concurrently; IngestEach runs them in
// the order its callback yields them. A stream's header context belongs to that stream alone. Parse and
// resolution failures stop only the failing stream; a flush failure fails the
// whole request. Once every stream has settled a forced flush writes what is
// left, so nothing stays pending after Ingest returns.
//
// Facts enqueued but not yet flushed are lost if the process dies before the
// final flush.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"eavstore/internal/batcher"
	"eavstore/internal/datasource"
	"eavstore/internal/metrics"
	"eavstore/internal/registry"
)

// Config tunes a Pipeline. The zero value is usable.
type Config struct {
	// FlushThreshold is the pending size that triggers an automatic flush.
	// <= 0 selects batcher.DefaultThreshold.
	FlushThreshold int

	// MaxConcurrentStreams bounds streams processed at once; <= 0 is unbounded.
	MaxConcurrentStreams int

	// Comma is the field delimiter; 0 means ','.
	Comma rune

	// TrimSpace trims surrounding whitespace from every cell.
	TrimSpace bool
}

// Source is one named input stream.
type Source struct {
	Label string
	Data  datasource.Source
}

// Report summarizes one Ingest call.
type Report struct {
	Streams int
	Failed  int
	Records int64 // data records accepted
	Facts   int64 // facts enqueued
	Skipped int64 // empty values dropped
	Written int64 // facts committed
	Flushes int64 // committed batches
	Elapsed time.Duration
}

// Pipeline ingests requests against one registry and store.
type Pipeline struct {
	reg   *registry.Registry
	store batcher.Beginner
	cfg   Config
}

// New returns a Pipeline. reg and store must be backed by the same database.
func New(reg *registry.Registry, store batcher.Beginner, cfg Config) *Pipeline {
	if cfg.Comma == 0 {
		cfg.Comma = ','
	}
	return &Pipeline{reg: reg, store: store, cfg: cfg}
}

// Ingest processes sources concurrently as one request and returns once
// every stream has settled and the final flush has run.
//
// The returned error is nil only if every stream reached done and every flush
// committed. Otherwise it joins, in completion order, each stream's
// *StreamError and any *batcher.StoreWriteError; use errors.As to inspect.
//
// Cancellation of ctx does not interrupt in-flight streams: they run to
// completion or failure so that no batch is abandoned half way.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source) (Report, error) {
	r := p.begin(ctx)

	var g errgroup.Group
	if p.cfg.MaxConcurrentStreams > 0 {
		g.SetLimit(p.cfg.MaxConcurrentStreams)
	}
	for _, src := range sources {
		g.Go(func() error {
			r.run(src)
			// Siblings keep running regardless of this stream's outcome.
			return nil
		})
	}
	_ = g.Wait()

	return r.finish()
}

// IngestEach processes sources one at a time as one request. next is called
// again only after the previous source's stream has settled, which suits
// inputs that must be consumed in order, such as the parts of a multipart
// body. io.EOF from next ends the request; any other error from next also
// ends it and is joined into the returned error after the final flush.
func (p *Pipeline) IngestEach(ctx context.Context, next func() (Source, error)) (Report, error) {
	r := p.begin(ctx)
	for {
		src, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.addErr(fmt.Errorf("next source: %w", err))
			break
		}
		r.run(src)
	}
	return r.finish()
}

// request is the state shared by the streams of one Ingest call.
type request struct {
	p     *Pipeline
	ctx   context.Context
	began time.Time
	batch *batcher.Batcher

	aborted atomic.Bool
	streams atomic.Int64

	failedN, records, facts, skipped, flushes atomic.Int64

	mu   sync.Mutex
	errs []error
}

func (p *Pipeline) begin(ctx context.Context) *request {
	return &request{
		p:     p,
		ctx:   context.WithoutCancel(ctx),
		began: time.Now(),
		batch: batcher.New(p.store, p.cfg.FlushThreshold),
	}
}

func (r *request) addErr(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// run drives one source to completion. Safe for concurrent use.
func (r *request) run(src Source) {
	r.streams.Add(1)
	s := &stream{
		label:   src.Label,
		cfg:     r.p.cfg,
		reg:     r.p.reg,
		batch:   r.batch,
		aborted: r.aborted.Load,
	}
	err := r.p.runStream(r.ctx, s, src.Data)

	r.records.Add(s.records)
	r.facts.Add(s.facts)
	r.skipped.Add(s.skipped)
	r.flushes.Add(s.flushes)

	if err == nil {
		log.Printf("ingest: stream %q done records=%d facts=%d skipped=%d", s.label, s.records, s.facts, s.skipped)
		return
	}
	r.failedN.Add(1)
	var swe *batcher.StoreWriteError
	if errors.As(err, &swe) {
		r.aborted.Store(true)
	}
	var se *StreamError
	if errors.As(err, &se) {
		metrics.RecordRows("parse_errors", 1)
	}
	log.Printf("ingest: stream %q failed line=%d: %v", s.label, s.line, err)
	r.addErr(err)
}

// finish runs the forced final flush and builds the Report.
func (r *request) finish() (Report, error) {
	n, err := r.batch.Flush(r.ctx, true)
	if err != nil {
		r.addErr(err)
	} else if n > 0 {
		r.flushes.Add(1)
	}

	rep := Report{
		Streams: int(r.streams.Load()),
		Failed:  int(r.failedN.Load()),
		Records: r.records.Load(),
		Facts:   r.facts.Load(),
		Skipped: r.skipped.Load(),
		Written: r.batch.Written(),
		Flushes: r.flushes.Load(),
		Elapsed: time.Since(r.began),
	}

	r.mu.Lock()
	reqErr := errors.Join(r.errs...)
	r.mu.Unlock()

	metrics.RecordRows("records", rep.Records)
	metrics.RecordRows("skipped", rep.Skipped)
	metrics.RecordStep("ingest", reqErr, rep.Elapsed)
	log.Printf("ingest: request streams=%d failed=%d records=%d facts=%d written=%d flushes=%d elapsed=%s",
		rep.Streams, rep.Failed, rep.Records, rep.Facts, rep.Written, rep.Flushes, rep.Elapsed.Truncate(time.Millisecond))

	return rep, reqErr
}

func (p *Pipeline) runStream(ctx context.Context, s *stream, src datasource.Source) error {
	if src == nil {
		return s.fail(nil, &ParseError{Reason: "stream has no data source"})
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return s.fail(nil, &ParseError{Reason: "open stream", Err: err})
	}
	defer rc.Close()
	return s.run(ctx, rc)
}
