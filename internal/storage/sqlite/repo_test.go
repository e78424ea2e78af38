package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"eavstore/internal/storage"
)

func newTestStore(tb testing.TB) storage.Store {
	tb.Helper()
	st, err := OpenTemp(context.Background(), tb.TempDir())
	if err != nil {
		tb.Fatalf("open temp store: %v", err)
	}
	tb.Cleanup(st.Close)
	return st
}

func TestUpsertCountry_Idempotent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.UpsertCountry(ctx, "USA")
	if err != nil {
		t.Fatalf("UpsertCountry: %v", err)
	}
	b, err := st.UpsertCountry(ctx, "USA")
	if err != nil {
		t.Fatalf("UpsertCountry again: %v", err)
	}
	if a != b {
		t.Fatalf("ids differ: %d vs %d", a, b)
	}
	c, err := st.UpsertCountry(ctx, "CAN")
	if err != nil {
		t.Fatalf("UpsertCountry CAN: %v", err)
	}
	if c == a {
		t.Fatalf("distinct names share id %d", a)
	}
}

func TestUpsertCountry_Concurrent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = st.UpsertCountry(ctx, "Narnia")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got id %d, want %d", i, ids[i], ids[0])
		}
	}
}

func TestVariables_InsertAndLookup(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	for _, n := range []string{"GDP", "Pop", "GDP"} {
		if err := st.InsertVariable(ctx, n); err != nil {
			t.Fatalf("InsertVariable(%q): %v", n, err)
		}
	}
	got, err := st.LookupVariables(ctx, []string{"GDP", "Pop", "Unknown"})
	if err != nil {
		t.Fatalf("LookupVariables: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LookupVariables = %v, want 2 entries", got)
	}
	if got["GDP"] == got["Pop"] {
		t.Fatalf("GDP and Pop share id %d", got["GDP"])
	}

	empty, err := st.LookupVariables(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("LookupVariables(nil) = %v, %v", empty, err)
	}
}

func countFacts(t *testing.T, st storage.Store) int {
	t.Helper()
	rows, err := st.QueryPivot(context.Background(),
		"SELECT 0, '', CAST(COUNT(*) AS TEXT) FROM facts", nil)
	if err != nil {
		t.Fatalf("count facts: %v", err)
	}
	var n int
	if _, err := fmt.Sscan(string(rows[0].Object), &n); err != nil {
		t.Fatalf("parse count: %v", err)
	}
	return n
}

func TestTx_CommitOverwrites(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	cid, _ := st.UpsertCountry(ctx, "USA")
	_ = st.InsertVariable(ctx, "GDP")
	vids, _ := st.LookupVariables(ctx, []string{"GDP"})

	for _, v := range []string{"100", "200"} {
		tx, err := st.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := tx.UpsertFacts(ctx, []storage.Fact{{CountryID: cid, Year: 2020, VariableID: vids["GDP"], Value: v}}); err != nil {
			t.Fatalf("UpsertFacts: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	if n := countFacts(t, st); n != 1 {
		t.Fatalf("facts = %d, want 1", n)
	}
	rows, err := st.QueryPivot(ctx, "SELECT year, 'USA', value FROM facts", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if string(rows[0].Object) != "200" {
		t.Fatalf("value = %q, want 200", rows[0].Object)
	}
}

func TestTx_RollbackDiscardsBatch(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	cid, _ := st.UpsertCountry(ctx, "USA")
	_ = st.InsertVariable(ctx, "GDP")
	vids, _ := st.LookupVariables(ctx, []string{"GDP"})

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	facts := []storage.Fact{
		{CountryID: cid, Year: 2020, VariableID: vids["GDP"], Value: "1"},
		{CountryID: cid + 999, Year: 2020, VariableID: vids["GDP"], Value: "2"}, // violates FK
	}
	if err := tx.UpsertFacts(ctx, facts); err == nil {
		t.Fatal("expected foreign key failure")
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n := countFacts(t, st); n != 0 {
		t.Fatalf("facts after rollback = %d, want 0", n)
	}

	// A second rollback on a finished transaction is not an error.
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if got := d.Placeholder(4); got != "?" {
		t.Errorf("Placeholder = %q", got)
	}
	if got, want := d.ObjectAgg("k", "v"), "json_group_object(k, v)"; got != want {
		t.Errorf("ObjectAgg = %q, want %q", got, want)
	}
	if got, want := d.ObjectField("obj", "?"), `(SELECT je.value FROM json_each(obj) je WHERE je.key = ?)`; got != want {
		t.Errorf("ObjectField = %q, want %q", got, want)
	}
}

func TestDialect_ObjectFieldOnStore(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	d := st.Dialect()

	// Keys that look like JSON path syntax must still address one member.
	q := fmt.Sprintf(`SELECT 1, 'x', %s FROM (SELECT json_object('GDP.pc', '7', 'a"b', '8', '$root', '9', 'x[0]', '10') AS obj)`,
		d.ObjectField("obj", d.Placeholder(1)))

	tests := []struct{ key, want string }{
		{"GDP.pc", "7"},
		{`a"b`, "8"},
		{"$root", "9"},
		{"x[0]", "10"},
	}
	for _, tt := range tests {
		rows, err := st.QueryPivot(context.Background(), q, []any{tt.key})
		if err != nil {
			t.Fatalf("QueryPivot(%q): %v", tt.key, err)
		}
		if len(rows) != 1 || string(rows[0].Object) != tt.want {
			t.Fatalf("field %q = %+v, want %s", tt.key, rows, tt.want)
		}
	}
}
