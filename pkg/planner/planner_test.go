package planner

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"batchql/pkg/catalog"
	"batchql/pkg/scan"
	"batchql/pkg/sqlparse"
)

// int64Batch builds a single-batch arrow.Record from column name/value
// pairs, the shape every planner test registers into a catalog.
func int64Batch(t *testing.T, cols map[string][]int64, order []string) arrow.Record {
	t.Helper()
	fields := make([]arrow.Field, len(order))
	arrs := make([]arrow.Array, len(order))
	var numRows int64
	for i, name := range order {
		vals := cols[name]
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
		b := array.NewInt64Builder(memory.DefaultAllocator)
		b.AppendValues(vals, nil)
		arrs[i] = b.NewInt64Array()
		b.Release()
		numRows = int64(len(vals))
	}
	sch := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(sch, arrs, numRows)
	for _, a := range arrs {
		a.Release()
	}
	return rec
}

func registerTable(cat *catalog.Catalog, name string, rec arrow.Record) {
	mem := scan.NewMemory(rec.Schema(), []arrow.Record{rec})
	cat.Register(name, catalog.Source{Batches: mem})
}

func runQuery(t *testing.T, cat *catalog.Catalog, query string) arrow.Record {
	t.Helper()
	stmt, err := sqlparse.Parse(query)
	if err != nil {
		t.Fatalf("Parse(%q): %v", query, err)
	}
	op, err := Plan(context.Background(), cat, stmt)
	if err != nil {
		t.Fatalf("Plan(%q): %v", query, err)
	}
	defer op.Close()

	var batches []arrow.Record
	for op.Next() {
		b := op.Batch()
		b.Retain()
		batches = append(batches, b)
	}
	if err := op.Err(); err != nil {
		t.Fatalf("operator error: %v", err)
	}
	if len(batches) == 0 {
		t.Fatalf("query %q: produced no batches", query)
	}
	defer func() {
		for _, b := range batches[1:] {
			b.Release()
		}
	}()
	if len(batches) > 1 {
		t.Fatalf("query %q: expected a single output batch, got %d", query, len(batches))
	}
	return batches[0]
}

func int64Column(t *testing.T, rec arrow.Record, name string) []int64 {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		t.Fatalf("column %q not found in output schema %v", name, rec.Schema())
	}
	col := rec.Column(idx[0]).(*array.Int64)
	out := make([]int64, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

func assertInt64Slice(t *testing.T, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// float64Column reads a column that arrow/compute's "mean" aggregate (and
// anything derived from it) always produces as Float64, regardless of the
// input column's own integer type.
func float64Column(t *testing.T, rec arrow.Record, name string) []float64 {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		t.Fatalf("column %q not found in output schema %v", name, rec.Schema())
	}
	col := rec.Column(idx[0]).(*array.Float64)
	out := make([]float64, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

// TestGroupByWithDerivedColumn reproduces the end-to-end SQL scenario
// documented as spec.md §8 scenario 4: a GROUP BY query whose projection
// list both references a bare key column and builds a derived column out
// of an aggregate alias ("average_age + 1 AS adjusted_avg_age"). Both the
// Project-over-Aggregate plan shape and the catalog's "left as-is"
// identifier fallback are required for this to come out right rather than
// silently dropping the derived column.
func TestGroupByWithDerivedColumn(t *testing.T) {
	cat := catalog.New()
	users := int64Batch(t, map[string][]int64{
		"id":  {1, 2, 1, 2, 3},
		"age": {25, 30, 35, 40, 45},
	}, []string{"id", "age"})
	defer users.Release()
	registerTable(cat, "users", users)

	out := runQuery(t, cat, `SELECT id, COUNT(id) AS count, AVG(age) AS average_age, average_age + 1 AS adjusted_avg_age FROM users GROUP BY id`)
	defer out.Release()

	if out.NumRows() != 3 {
		t.Fatalf("NumRows: got %d, want 3", out.NumRows())
	}

	type row struct {
		count          int64
		averageAge     float64
		adjustedAvgAge float64
	}
	byID := make(map[int64]row)
	ids := int64Column(t, out, "id")
	counts := int64Column(t, out, "count")
	avgAges := float64Column(t, out, "average_age")
	adjusted := float64Column(t, out, "adjusted_avg_age")
	for i, id := range ids {
		byID[id] = row{counts[i], avgAges[i], adjusted[i]}
	}

	want := map[int64]row{
		1: {2, 30, 31},
		2: {2, 35, 36},
		3: {1, 45, 46},
	}
	for id, w := range want {
		got, ok := byID[id]
		if !ok {
			t.Fatalf("missing group id=%d in output %v", id, byID)
		}
		if got != w {
			t.Errorf("group id=%d: got (count,average_age,adjusted_avg_age)=%v, want %v", id, got, w)
		}
	}
}

// TestInnerJoinFilterAndGroupBy reproduces spec.md §8 scenario 5: a join
// across two tables, a WHERE filter over the right table's column, and a
// GROUP BY on a qualified left-table column whose output must keep its
// "table.column" name since no alias was given.
func TestInnerJoinFilterAndGroupBy(t *testing.T) {
	cat := catalog.New()
	users := int64Batch(t, map[string][]int64{
		"id":  {1, 2, 3},
		"age": {25, 30, 30},
	}, []string{"id", "age"})
	defer users.Release()
	registerTable(cat, "users", users)

	orders := int64Batch(t, map[string][]int64{
		"user_id": {1, 2, 3, 4},
		"amount":  {100, 200, 150, 300},
	}, []string{"user_id", "amount"})
	defer orders.Release()
	registerTable(cat, "orders", orders)

	out := runQuery(t, cat, `SELECT users.age, SUM(orders.amount) AS total_amount FROM users JOIN orders ON users.id = orders.user_id WHERE orders.amount > 100 GROUP BY users.age`)
	defer out.Release()

	if out.NumRows() != 1 {
		t.Fatalf("NumRows: got %d, want 1", out.NumRows())
	}
	ages := int64Column(t, out, "users.age")
	totals := int64Column(t, out, "total_amount")
	assertInt64Slice(t, ages, []int64{30})
	assertInt64Slice(t, totals, []int64{350})
}
