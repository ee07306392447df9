package operator

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"batchql/pkg/scan"
)

func TestExternalSortDescending(t *testing.T) {
	// Two batches, so ExternalSort spills (and merges) two separate runs.
	rec1 := intRecord(t, []int64{3, 1, 4})
	defer rec1.Release()
	rec2 := intRecord(t, []int64{1, 5, 9, 2})
	defer rec2.Release()

	mem := scan.NewMemory(rec1.Schema(), []arrow.Record{rec1, rec2})
	es := NewExternalSort(context.Background(), mem, []SortKey{{Column: "n", Descending: true}}, t.TempDir())
	defer es.Close()

	var got []int64
	for es.Next() {
		batch := es.Batch()
		col := batch.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			got = append(got, col.Value(i))
		}
	}
	if err := es.Err(); err != nil {
		t.Fatalf("operator error: %v", err)
	}
	want := []int64{9, 5, 4, 3, 2, 1, 1}
	assertInt64Slice(t, got, want)
}
