// Package registry resolves human-readable country and variable names to the
// stable numeric identifiers used by facts, creating rows on first sight.
//
// Creation always goes through the store's insert-if-absent primitives, so two
// callers racing on the same new name observe the same id and never create a
// duplicate row.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Store is the subset of storage.Store the registry needs.
type Store interface {
	InsertVariable(ctx context.Context, name string) error
	LookupVariables(ctx context.Context, names []string) (map[string]int64, error)
	UpsertCountry(ctx context.Context, name string) (int64, error)
}

// ResolutionError reports a failed lookup or insert for one name.
type ResolutionError struct {
	Kind string // "country" or "variable"
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Registry is safe for concurrent use by many streams.
type Registry struct {
	store Store

	// countries memoizes name -> id. Ids never change once assigned.
	countries sync.Map
}

// New returns a Registry backed by store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Normalize trims surrounding whitespace and applies Unicode NFC so that the
// same visible name always maps to the same row.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// ResolveVariables returns one id per input name, in input order. Duplicate
// names resolve to the same id.
func (r *Registry) ResolveVariables(ctx context.Context, names []string) ([]int64, error) {
	keys := make([]string, len(names))
	distinct := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, n := range names {
		k := Normalize(n)
		if k == "" {
			return nil, &ResolutionError{Kind: "variable", Name: n, Err: fmt.Errorf("empty name at position %d", i)}
		}
		keys[i] = k
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, k)
	}
	if len(distinct) == 0 {
		return []int64{}, nil
	}

	for _, k := range distinct {
		if err := r.store.InsertVariable(ctx, k); err != nil {
			return nil, &ResolutionError{Kind: "variable", Name: k, Err: err}
		}
	}

	byName, err := r.store.LookupVariables(ctx, distinct)
	if err != nil {
		return nil, &ResolutionError{Kind: "variable", Name: strings.Join(distinct, ","), Err: err}
	}

	ids := make([]int64, len(keys))
	for i, k := range keys {
		id, ok := byName[k]
		if !ok {
			return nil, &ResolutionError{Kind: "variable", Name: k, Err: fmt.Errorf("not found after insert")}
		}
		ids[i] = id
	}
	return ids, nil
}

// ResolveCountry returns the id for name, creating the country if needed.
func (r *Registry) ResolveCountry(ctx context.Context, name string) (int64, error) {
	k := Normalize(name)
	if k == "" {
		return 0, &ResolutionError{Kind: "country", Name: name, Err: fmt.Errorf("empty name")}
	}
	if v, ok := r.countries.Load(k); ok {
		return v.(int64), nil
	}
	id, err := r.store.UpsertCountry(ctx, k)
	if err != nil {
		return 0, &ResolutionError{Kind: "country", Name: k, Err: err}
	}
	r.countries.Store(k, id)
	return id, nil
}
