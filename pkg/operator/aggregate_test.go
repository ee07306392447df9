package operator

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"batchql/pkg/scan"
)

// twoColRecord builds a (key, value) int64 record, the shape every
// aggregate test groups or sums over.
func twoColRecord(t *testing.T, keyName, valueName string, keys, values []int64) arrow.Record {
	t.Helper()
	kb := array.NewInt64Builder(memory.DefaultAllocator)
	defer kb.Release()
	kb.AppendValues(keys, nil)
	karr := kb.NewInt64Array()
	defer karr.Release()

	vb := array.NewInt64Builder(memory.DefaultAllocator)
	defer vb.Release()
	vb.AppendValues(values, nil)
	varr := vb.NewInt64Array()
	defer varr.Release()

	sch := arrow.NewSchema([]arrow.Field{
		{Name: keyName, Type: arrow.PrimitiveTypes.Int64},
		{Name: valueName, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	return array.NewRecord(sch, []arrow.Array{karr, varr}, int64(len(keys)))
}

func drainGroups(t *testing.T, op Operator, keyCol, valCol string) map[int64]int64 {
	t.Helper()
	got := make(map[int64]int64)
	for op.Next() {
		batch := op.Batch()
		keyIdx := batch.Schema().FieldIndices(keyCol)[0]
		valIdx := batch.Schema().FieldIndices(valCol)[0]
		keys := batch.Column(keyIdx).(*array.Int64)
		vals := batch.Column(valIdx).(*array.Int64)
		for i := 0; i < int(batch.NumRows()); i++ {
			got[keys.Value(i)] = vals.Value(i)
		}
	}
	if err := op.Err(); err != nil {
		t.Fatalf("operator error: %v", err)
	}
	return got
}

func TestAggregateSingleKeySum(t *testing.T) {
	rec := twoColRecord(t, "dept", "amount", []int64{1, 1, 2}, []int64{10, 20, 5})
	defer rec.Release()
	mem := scan.NewMemory(rec.Schema(), []arrow.Record{rec})

	a := NewAggregate(context.Background(), mem, []string{"dept"}, []AggExpr{
		{OutName: "total", Func: "sum", Column: "amount"},
	})
	defer a.Close()

	got := drainGroups(t, a, "dept", "total")
	want := map[int64]int64{1: 30, 2: 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("group %d: got %d, want %d", k, got[k], v)
		}
	}
}

func TestAggregateMultiKeySum(t *testing.T) {
	kb1 := array.NewInt64Builder(memory.DefaultAllocator)
	defer kb1.Release()
	kb1.AppendValues([]int64{1, 1, 1, 2}, nil)
	dept := kb1.NewInt64Array()
	defer dept.Release()

	kb2 := array.NewInt64Builder(memory.DefaultAllocator)
	defer kb2.Release()
	kb2.AppendValues([]int64{100, 100, 200, 100}, nil)
	region := kb2.NewInt64Array()
	defer region.Release()

	vb := array.NewInt64Builder(memory.DefaultAllocator)
	defer vb.Release()
	vb.AppendValues([]int64{1, 2, 3, 4}, nil)
	amount := vb.NewInt64Array()
	defer amount.Release()

	sch := arrow.NewSchema([]arrow.Field{
		{Name: "dept", Type: arrow.PrimitiveTypes.Int64},
		{Name: "region", Type: arrow.PrimitiveTypes.Int64},
		{Name: "amount", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rec := array.NewRecord(sch, []arrow.Array{dept, region, amount}, 4)
	defer rec.Release()

	mem := scan.NewMemory(rec.Schema(), []arrow.Record{rec})
	a := NewAggregate(context.Background(), mem, []string{"dept", "region"}, []AggExpr{
		{OutName: "total", Func: "sum", Column: "amount"},
	})
	defer a.Close()

	type key struct{ dept, region int64 }
	got := make(map[key]int64)
	for a.Next() {
		batch := a.Batch()
		depts := batch.Column(0).(*array.Int64)
		regions := batch.Column(1).(*array.Int64)
		totals := batch.Column(2).(*array.Int64)
		for i := 0; i < int(batch.NumRows()); i++ {
			got[key{depts.Value(i), regions.Value(i)}] = totals.Value(i)
		}
	}
	if err := a.Err(); err != nil {
		t.Fatalf("operator error: %v", err)
	}
	want := map[key]int64{
		{1, 100}: 3, // rows 0,1
		{1, 200}: 3, // row 2
		{2, 100}: 4, // row 3
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("group %v: got %d, want %d", k, got[k], v)
		}
	}
}

func TestAggregateZeroKeyOverEmptyInput(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	mem := scan.NewMemory(sch, nil)

	a := NewAggregate(context.Background(), mem, nil, []AggExpr{
		{OutName: "n", Func: "count", Column: "id"},
	})
	defer a.Close()

	if !a.Next() {
		t.Fatalf("Next: expected one row for a zero-key aggregation over an empty source, got none (err=%v)", a.Err())
	}
	batch := a.Batch()
	if batch.NumRows() != 1 {
		t.Fatalf("NumRows: got %d, want 1", batch.NumRows())
	}
	n := batch.Column(0).(*array.Int64).Value(0)
	if n != 0 {
		t.Errorf("count over zero rows: got %d, want 0", n)
	}
	if a.Next() {
		t.Error("Next: expected exactly one output row")
	}
}
