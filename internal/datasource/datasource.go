// Package datasource abstracts where an ingested stream's bytes come from.
// Implementations live in subpackages (file, httpds); the HTTP layer adapts
// multipart parts with Func.
package datasource

import (
	"context"
	"io"
	"strings"
)

// Source opens one byte stream. Callers must close the returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (io.ReadCloser, error)

// Open implements Source.
func (f Func) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// String returns a Source serving s. Each Open starts from the beginning.
func String(s string) Source {
	return Func(func(ctx context.Context) (io.ReadCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return io.NopCloser(strings.NewReader(s)), nil
	})
}
