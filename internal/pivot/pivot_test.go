package pivot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"eavstore/internal/datasource"
	"eavstore/internal/ingest"
	"eavstore/internal/registry"
	"eavstore/internal/storage"
	"eavstore/internal/storage/postgres"
	"eavstore/internal/storage/sqlite"
)

func TestBuild_Postgres(t *testing.T) {
	t.Parallel()

	q, args, err := Build(postgres.Dialect{}, map[string]string{
		"Country": "USA",
		"Year":    "2020",
		"Pop":     "5",
		"GDP":     "100",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantQ := "SELECT year, country, obj::text FROM (" +
		"SELECT f.year AS year, c.name AS country, json_object_agg(v.name, f.value) AS obj FROM facts f" +
		" JOIN countries c ON c.id = f.country_id" +
		" JOIN variables v ON v.id = f.variable_id" +
		" WHERE c.name = $1 AND f.year = $2" +
		" GROUP BY f.year, c.name) agg" +
		" WHERE (obj ->> $3::text) = $4 AND (obj ->> $5::text) = $6" +
		" ORDER BY year, country"
	if q != wantQ {
		t.Fatalf("query mismatch:\n got %s\nwant %s", q, wantQ)
	}
	wantArgs := []any{"USA", 2020, "GDP", "100", "Pop", "5"}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Filters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filters  map[string]string
		wantArgs []any
		wantErr  bool
	}{
		{name: "no filters", filters: nil, wantArgs: nil},
		{name: "empty structural values ignored", filters: map[string]string{"Country": "", "Year": " "}, wantArgs: nil},
		{name: "year trimmed", filters: map[string]string{"Year": " 1999 "}, wantArgs: []any{1999}},
		{name: "country normalized", filters: map[string]string{"Country": "  USA "}, wantArgs: []any{"USA"}},
		{name: "empty variable value still filters", filters: map[string]string{"GDP": ""}, wantArgs: []any{"GDP", ""}},
		{name: "year not integer", filters: map[string]string{"Year": "20x0"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, args, err := Build(sqlite.Dialect{}, tt.filters)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Fatalf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_ValuesNeverInterpolated(t *testing.T) {
	t.Parallel()

	evil := "x' OR '1'='1"
	q, args, err := Build(postgres.Dialect{}, map[string]string{"Country": evil, evil: evil})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(q, evil) || strings.Contains(q, "'1'") {
		t.Fatalf("filter text leaked into query: %s", q)
	}
	if len(args) != 3 {
		t.Fatalf("args = %v, want 3 bound values", args)
	}
}

type failingStore struct{ err error }

func (s failingStore) QueryPivot(ctx context.Context, q string, args []any) ([]storage.PivotRow, error) {
	return nil, s.err
}

func (failingStore) Dialect() storage.Dialect { return sqlite.Dialect{} }

func TestQuery_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	e := New(failingStore{err: boom})

	rows, err := e.Query(context.Background(), nil)
	var qe *QueryError
	if !errors.As(err, &qe) || !errors.Is(err, boom) {
		t.Fatalf("Query error = %v, want *QueryError wrapping boom", err)
	}
	if rows != nil {
		t.Fatalf("rows = %v, want nil on error", rows)
	}

	for _, y := range []string{"twenty", "3000000000"} {
		if _, err := e.Query(context.Background(), map[string]string{"Year": y}); !errors.As(err, &qe) {
			t.Fatalf("Query(Year=%s) error = %v, want *QueryError", y, err)
		}
	}
}

// seed ingests one stream with the canonical two-row table.
func seed(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.OpenTemp(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenTemp: %v", err)
	}
	t.Cleanup(st.Close)

	p := ingest.New(registry.New(st), st, ingest.Config{TrimSpace: true})
	_, err = p.Ingest(ctx, []ingest.Source{{
		Label: "wdi",
		Data: datasource.String("Country,Year,GDP,Pop\n" +
			"USA,2020,100,5\n" +
			"CAN,2020,50,3\n" +
			"USA,2021,110,\n"),
	}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return New(st)
}

func TestQuery_SQLite(t *testing.T) {
	t.Parallel()
	e := seed(t)

	tests := []struct {
		name    string
		filters map[string]string
		want    []Row
	}{
		{
			name:    "year and variable",
			filters: map[string]string{"Year": "2020", "GDP": "100"},
			want:    []Row{{"year": 2020, "country": "USA", "GDP": "100", "Pop": "5"}},
		},
		{
			name:    "variable filters combine with AND",
			filters: map[string]string{"GDP": "100", "Pop": "3"},
			want:    []Row{},
		},
		{
			name:    "absent variable does not match",
			filters: map[string]string{"Country": "USA", "Pop": "5", "Year": "2021"},
			want:    []Row{},
		},
		{
			name:    "country only, ordered by year",
			filters: map[string]string{"Country": "USA"},
			want: []Row{
				{"year": 2020, "country": "USA", "GDP": "100", "Pop": "5"},
				{"year": 2021, "country": "USA", "GDP": "110"},
			},
		},
		{
			name:    "no filters, ordered by year then country",
			filters: map[string]string{},
			want: []Row{
				{"year": 2020, "country": "CAN", "GDP": "50", "Pop": "3"},
				{"year": 2020, "country": "USA", "GDP": "100", "Pop": "5"},
				{"year": 2021, "country": "USA", "GDP": "110"},
			},
		},
		{
			name:    "unknown variable",
			filters: map[string]string{"Inflation": "2"},
			want:    []Row{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Query(context.Background(), tt.filters)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuery_SQLiteAwkwardVariableNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := sqlite.OpenTemp(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("OpenTemp: %v", err)
	}
	t.Cleanup(st.Close)

	p := ingest.New(registry.New(st), st, ingest.Config{})
	_, err = p.Ingest(ctx, []ingest.Source{{
		Label: "odd",
		Data:  datasource.String("Country,Year,\"a\"\"b\",GDP.pc\nUSA,2020,1,7\n"),
	}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := []Row{{"year": 2020, "country": "USA", `a"b`: "1", "GDP.pc": "7"}}
	for _, filters := range []map[string]string{
		{`a"b`: "1"},
		{"GDP.pc": "7"},
	} {
		got, err := New(st).Query(ctx, filters)
		if err != nil {
			t.Fatalf("Query(%v): %v", filters, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("Query(%v) mismatch (-want +got):\n%s", filters, diff)
		}
	}
}
