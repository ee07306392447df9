package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"batchql/internal/errgo"
)

// SortKey names a column to order by and its direction.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort buffers its entire child into memory, concatenates it into a
// single batch, computes a composite sort-index permutation and emits
// the result as one batch. The planner builds a Sort for every ORDER BY;
// ExternalSort is the bounded-memory alternative, built only by callers
// that construct it directly.
type Sort struct {
	ctx   context.Context
	child Operator
	keys  []SortKey

	done bool
	cur  arrow.Record
	err  error
}

// NewSort builds an in-memory Sort operator.
func NewSort(ctx context.Context, child Operator, keys []SortKey) *Sort {
	return &Sort{ctx: ctxOrBackground(ctx), child: child, keys: keys}
}

func (s *Sort) Schema() *arrow.Schema { return s.child.Schema() }

func (s *Sort) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	s.done = true

	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	for s.child.Next() {
		b := s.child.Batch()
		b.Retain()
		batches = append(batches, b)
	}
	if err := s.child.Err(); err != nil {
		s.err = err
		return false
	}
	if len(batches) == 0 {
		s.cur = array.NewRecord(s.child.Schema(), emptyColumns(s.child.Schema()), 0)
		return true
	}

	concatenated, err := concatRecords(s.child.Schema(), batches)
	if err != nil {
		s.err = err
		return false
	}
	defer concatenated.Release()

	sortOpts := compute.SortOptions{
		Keys:          sortKeysToArrow(s.keys),
		NullPlacement: compute.NullPlacementAtStart,
	}
	indicesDatum, err := compute.SortIndices(s.ctx, compute.NewDatumWithoutOwning(concatenated), sortOpts)
	if err != nil {
		s.err = errgo.Wrap(errgo.KindRuntime, "computing sort indices", err)
		return false
	}
	indices := indicesDatum.(*compute.ArrayDatum).MakeArray()
	defer indices.Release()

	taken, err := compute.TakeRecordBatch(s.ctx, concatenated, indices, compute.DefaultTakeOptions())
	if err != nil {
		s.err = errgo.Wrap(errgo.KindRuntime, "applying sort permutation", err)
		return false
	}
	s.cur = taken
	return true
}

func (s *Sort) Batch() arrow.Record { return s.cur }
func (s *Sort) Err() error          { return s.err }

func (s *Sort) Close() error {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	return s.child.Close()
}

func sortKeysToArrow(keys []SortKey) []compute.SortKey {
	out := make([]compute.SortKey, len(keys))
	for i, k := range keys {
		order := compute.SortAscending
		if k.Descending {
			order = compute.SortDescending
		}
		out[i] = compute.SortKey{Name: k.Column, Order: order}
	}
	return out
}

func emptyColumns(schema *arrow.Schema) []arrow.Array {
	cols := make([]arrow.Array, len(schema.Fields()))
	for i, f := range schema.Fields() {
		b := array.NewBuilder(memory.DefaultAllocator, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	return cols
}

// concatRecords combines a list of same-schema batches into a single
// record by concatenating each column independently. Used by the
// in-memory Sort, by Aggregate before grouping, and by InnerJoin's drain.
func concatRecords(schema *arrow.Schema, batches []arrow.Record) (arrow.Record, error) {
	numCols := len(schema.Fields())
	cols := make([]arrow.Array, numCols)
	var numRows int64
	for i := 0; i < numCols; i++ {
		parts := make([]arrow.Array, len(batches))
		for j, b := range batches {
			parts[j] = b.Column(i)
		}
		concatenated, err := array.Concatenate(parts, memory.DefaultAllocator)
		if err != nil {
			releaseAll(cols[:i])
			return nil, errgo.Wrap(errgo.KindRuntime, "concatenating column "+schema.Field(i).Name, err)
		}
		cols[i] = concatenated
		if i == 0 {
			numRows = int64(concatenated.Len())
		}
	}
	rec := array.NewRecord(schema, cols, numRows)
	releaseAll(cols)
	return rec, nil
}
