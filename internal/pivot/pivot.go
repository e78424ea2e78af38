// Package pivot reconstructs wide (year, country, variables...) rows from the
// EAV fact table.
//
// Filters are a flat name -> value map. "Country" and "Year" restrict the facts
// before aggregation; any other key is a variable filter applied to the
// aggregated object. Variable filters combine with AND: a row is returned
// only if every named variable is present with exactly the given value.
package pivot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"eavstore/internal/metrics"
	"eavstore/internal/registry"
	"eavstore/internal/storage"
)

// Structural filter keys.
const (
	CountryKey = "Country"
	YearKey    = "Year"
)

// Row is one wide row: "year" (int), "country" (string) and one string per
// variable observed for that (year, country).
type Row map[string]any

// QueryError reports a malformed filter or a failed query. No rows accompany it.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return "pivot query: " + e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

// Store is the subset of storage.Store the engine needs.
type Store interface {
	QueryPivot(ctx context.Context, query string, args []any) ([]storage.PivotRow, error)
	Dialect() storage.Dialect
}

// Engine runs pivot queries against one store.
type Engine struct {
	store Store
}

// New returns an Engine over store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Query returns the rows matching filters, ordered by year then country.
func (e *Engine) Query(ctx context.Context, filters map[string]string) (rows []Row, err error) {
	began := time.Now()
	defer func() { metrics.RecordStep("query", err, time.Since(began)) }()

	q, args, err := Build(e.store.Dialect(), filters)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	groups, err := e.store.QueryPivot(ctx, q, args)
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	rows = make([]Row, 0, len(groups))
	for _, g := range groups {
		vars := map[string]string{}
		if len(g.Object) > 0 {
			if err := json.Unmarshal(g.Object, &vars); err != nil {
				return nil, &QueryError{Err: fmt.Errorf("decode object for %s/%d: %w", g.Country, g.Year, err)}
			}
		}
		row := make(Row, len(vars)+2)
		for k, v := range vars {
			row[k] = v
		}
		row["year"] = int(g.Year)
		row["country"] = g.Country
		rows = append(rows, row)
	}
	return rows, nil
}

// Build renders the pivot query for d. Every filter value travels as a bound
// argument; identifiers come only from the fixed schema.
//
// Empty Country or Year values are ignored. Year must otherwise be an integer.
func Build(d storage.Dialect, filters map[string]string) (string, []any, error) {
	var (
		args  []any
		where []string
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if c := registry.Normalize(filters[CountryKey]); c != "" {
		where = append(where, "c.name = "+bind(c))
	}
	if y := strings.TrimSpace(filters[YearKey]); y != "" {
		year, err := strconv.ParseInt(y, 10, 32)
		if err != nil {
			return "", nil, fmt.Errorf("filter Year=%q is not a 32-bit integer", filters[YearKey])
		}
		where = append(where, "f.year = "+bind(int(year)))
	}

	var b strings.Builder
	b.WriteString("SELECT year, country, ")
	b.WriteString(d.ObjectText("obj"))
	b.WriteString(" FROM (SELECT f.year AS year, c.name AS country, ")
	b.WriteString(d.ObjectAgg("v.name", "f.value"))
	b.WriteString(" AS obj FROM facts f")
	b.WriteString(" JOIN countries c ON c.id = f.country_id")
	b.WriteString(" JOIN variables v ON v.id = f.variable_id")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" GROUP BY f.year, c.name) agg")

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if k == CountryKey || k == YearKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		field := d.ObjectField("obj", bind(registry.Normalize(k)))
		b.WriteString(field + " = " + bind(filters[k]))
	}

	b.WriteString(" ORDER BY year, country")
	return b.String(), args, nil
}
