package operator

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"batchql/pkg/scan"
)

func buildInt64Record(t *testing.T, fields []string, cols [][]int64) arrow.Record {
	t.Helper()
	af := make([]arrow.Field, len(fields))
	arrs := make([]arrow.Array, len(fields))
	var numRows int64
	for i, name := range fields {
		af[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
		b := array.NewInt64Builder(memory.DefaultAllocator)
		b.AppendValues(cols[i], nil)
		arrs[i] = b.NewInt64Array()
		b.Release()
		numRows = int64(len(cols[i]))
	}
	sch := arrow.NewSchema(af, nil)
	rec := array.NewRecord(sch, arrs, numRows)
	for _, a := range arrs {
		a.Release()
	}
	return rec
}

func TestInnerJoinMatchesOnKeyAndDropsRightKey(t *testing.T) {
	left := buildInt64Record(t, []string{"id", "amount"}, [][]int64{{1, 2, 3}, {10, 20, 30}})
	defer left.Release()
	right := buildInt64Record(t, []string{"id", "qty"}, [][]int64{{2, 3, 4}, {200, 300, 400}})
	defer right.Release()

	leftMem := scan.NewMemory(left.Schema(), []arrow.Record{left})
	rightMem := scan.NewMemory(right.Schema(), []arrow.Record{right})

	j := NewInnerJoin(context.Background(), leftMem, rightMem, "id", "id")
	defer j.Close()

	if !j.Next() {
		t.Fatalf("Next: expected a result batch, err=%v", j.Err())
	}
	batch := j.Batch()

	for _, name := range []string{"id_right"} {
		if idx := batch.Schema().FieldIndices(name); len(idx) != 0 {
			t.Errorf("schema: found unexpected column %q (right join key must be dropped)", name)
		}
	}
	if idx := batch.Schema().FieldIndices("id"); len(idx) == 0 {
		t.Fatal("schema: missing left key column 'id'")
	}
	if idx := batch.Schema().FieldIndices("qty"); len(idx) == 0 {
		t.Fatal("schema: missing right column 'qty'")
	}
	if batch.NumRows() != 2 {
		t.Fatalf("NumRows: got %d, want 2 (ids 2 and 3 match)", batch.NumRows())
	}

	ids := batch.Column(int(batch.Schema().FieldIndices("id")[0])).(*array.Int64)
	qtys := batch.Column(int(batch.Schema().FieldIndices("qty")[0])).(*array.Int64)
	got := make(map[int64]int64)
	for i := 0; i < int(batch.NumRows()); i++ {
		got[ids.Value(i)] = qtys.Value(i)
	}
	want := map[int64]int64{2: 200, 3: 300}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("id %d: got qty %d, want %d", k, got[k], v)
		}
	}
}
