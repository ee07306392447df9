package operator

import (
	"container/heap"
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"batchql/internal/elog"
	"batchql/internal/errgo"
	"batchql/internal/mmapfile"
)

// ExternalSort sorts a child whose combined output is assumed too large to
// hold in memory. Each child batch is individually sorted and spilled to
// an Arrow IPC file on disk; the runs are then merged with a K-way
// min-heap merge, mmapping each run file and reading it sequentially so
// the working set stays bounded by run count rather than total row
// count.
type ExternalSort struct {
	ctx     context.Context
	child   Operator
	keys    []SortKey
	tempDir string
	log     *elog.Logger

	schema *arrow.Schema
	runs   []*run
	h      mergeHeap
	merged bool

	cur arrow.Record
	err error
}

// NewExternalSort builds an ExternalSort operator. tempDir is where spill
// files are written; an empty string uses os.TempDir.
func NewExternalSort(ctx context.Context, child Operator, keys []SortKey, tempDir string) *ExternalSort {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &ExternalSort{ctx: ctxOrBackground(ctx), child: child, keys: keys, tempDir: tempDir, log: elog.Default}
}

func (e *ExternalSort) Schema() *arrow.Schema { return e.schema }

// run is one sorted spill file: its IPC file mmapped for reading, plus the
// merge cursor into it. spillSortedBatch creates one per child batch.
type run struct {
	path   string
	file   *mmapfile.File
	reader *ipc.FileReader
	idx    int // next row-group (record) to read from reader
	cur    arrow.Record
	curRow int64
}

func (e *ExternalSort) ensureRuns() error {
	if e.runs != nil || e.merged {
		return nil
	}
	var runs []*run
	n := 0
	for e.child.Next() {
		batch := e.child.Batch()
		if e.schema == nil {
			e.schema = batch.Schema()
		}
		r, err := e.spillSortedBatch(batch, n)
		if err != nil {
			return err
		}
		runs = append(runs, r)
		n++
	}
	if err := e.child.Err(); err != nil {
		return err
	}
	if e.schema == nil {
		e.schema = e.child.Schema()
	}
	e.log.Debugf("external sort: spilled %d runs to %s", n, e.tempDir)
	e.runs = runs
	return e.primeHeap()
}

func (e *ExternalSort) spillSortedBatch(batch arrow.Record, n int) (*run, error) {
	sortOpts := compute.SortOptions{Keys: sortKeysToArrow(e.keys), NullPlacement: compute.NullPlacementAtStart}
	indicesDatum, err := compute.SortIndices(e.ctx, compute.NewDatumWithoutOwning(batch), sortOpts)
	if err != nil {
		return nil, errgo.Wrap(errgo.KindRuntime, "sorting spill batch", err)
	}
	indices := indicesDatum.(*compute.ArrayDatum).MakeArray()
	defer indices.Release()

	sorted, err := compute.TakeRecordBatch(e.ctx, batch, indices, compute.DefaultTakeOptions())
	if err != nil {
		return nil, errgo.Wrap(errgo.KindRuntime, "applying spill sort permutation", err)
	}
	defer sorted.Release()

	f, err := os.CreateTemp(e.tempDir, fmt.Sprintf("batchql-sort-run-%d-*.arrow", n))
	if err != nil {
		return nil, errgo.Wrap(errgo.KindRuntime, "creating sort spill file", err)
	}
	path := f.Name()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(sorted.Schema()), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		f.Close()
		return nil, errgo.Wrap(errgo.KindRuntime, "opening sort spill writer", err)
	}
	if err := w.Write(sorted); err != nil {
		w.Close()
		f.Close()
		return nil, errgo.Wrap(errgo.KindRuntime, "writing sort spill run", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return nil, errgo.Wrap(errgo.KindRuntime, "closing sort spill writer", err)
	}
	f.Close()

	mf, err := mmapfile.Open(path)
	if err != nil {
		return nil, errgo.Wrap(errgo.KindRuntime, "mmapping sort spill run", err)
	}
	reader, err := ipc.NewFileReader(mf.Reader(), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		mf.Close()
		return nil, errgo.Wrap(errgo.KindRuntime, "opening sort spill reader", err)
	}
	return &run{path: path, file: mf, reader: reader}, nil
}

// heapEntry holds a copy of the composite sort-key scalars for one row, so
// the heap can compare rows without touching the mmap once a run cursor
// has advanced past the row the entry was built from.
type heapEntry struct {
	runIdx int
	keyVal []scalar.Scalar
}

type mergeHeap struct {
	entries []heapEntry
	keys    []SortKey
}

func (h *mergeHeap) Len() int { return len(h.entries) }
func (h *mergeHeap) Less(i, j int) bool {
	return heapKeyLess(h.entries[i].keyVal, h.entries[j].keyVal, h.keys)
}
func (h *mergeHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *mergeHeap) Push(x any)    { h.entries = append(h.entries, x.(heapEntry)) }
func (h *mergeHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

func heapKeyLess(a, b []scalar.Scalar, keys []SortKey) bool {
	for i := range keys {
		// Nulls come first in either direction, matching the
		// NullPlacementAtStart order each run was spilled in.
		if aNull, bNull := !a[i].IsValid(), !b[i].IsValid(); aNull != bNull {
			return aNull
		}
		cmp := compareScalars(a[i], b[i])
		if cmp == 0 {
			continue
		}
		if keys[i].Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// compareScalars orders nulls first, then by the scalar's natural Go
// comparable value. Only the numeric, string and boolean scalar kinds
// produced by this engine's sort keys are handled.
func compareScalars(a, b scalar.Scalar) int {
	aNull, bNull := !a.IsValid(), !b.IsValid()
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	switch av := a.(type) {
	case *scalar.Int64:
		bv := b.(*scalar.Int64)
		return cmpOrdered(av.Value, bv.Value)
	case *scalar.Float64:
		bv := b.(*scalar.Float64)
		return cmpOrdered(av.Value, bv.Value)
	case *scalar.String:
		bv := b.(*scalar.String)
		return cmpOrdered(av.String(), bv.String())
	case *scalar.Boolean:
		bv := b.(*scalar.Boolean)
		if av.Value == bv.Value {
			return 0
		}
		if !av.Value {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (e *ExternalSort) primeHeap() error {
	e.h = mergeHeap{keys: e.keys}
	for i, r := range e.runs {
		ok, err := e.advanceRun(r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		key, err := e.rowKey(r)
		if err != nil {
			return err
		}
		heap.Push(&e.h, heapEntry{runIdx: i, keyVal: key})
	}
	heap.Init(&e.h)
	e.merged = true
	return nil
}

// advanceRun loads the next record from a run's reader if the current one
// is exhausted or unset. Returns false once the run has no more rows.
func (e *ExternalSort) advanceRun(r *run) (bool, error) {
	for r.cur == nil || r.curRow >= r.cur.NumRows() {
		if r.idx >= r.reader.NumRecords() {
			return false, nil
		}
		rec, err := r.reader.RecordAt(r.idx)
		if err != nil {
			return false, errgo.Wrap(errgo.KindRuntime, "reading sort spill run", err)
		}
		r.idx++
		r.cur = rec
		r.curRow = 0
		if r.cur.NumRows() == 0 {
			continue
		}
	}
	return true, nil
}

func (e *ExternalSort) rowKey(r *run) ([]scalar.Scalar, error) {
	key := make([]scalar.Scalar, len(e.keys))
	for i, k := range e.keys {
		idx := r.cur.Schema().FieldIndices(k.Column)
		if len(idx) == 0 {
			return nil, errgo.Wrap(errgo.KindRuntime, "sort key column missing from spill run: "+k.Column, errgo.ErrColumnNotFound)
		}
		col := r.cur.Column(idx[0])
		s, err := scalar.GetScalar(col, int(r.curRow))
		if err != nil {
			return nil, errgo.Wrap(errgo.KindRuntime, "reading sort key scalar", err)
		}
		key[i] = s
	}
	return key, nil
}

// Next pops one row at a time off the merge heap and accumulates it into
// an output batch, emitting once mergeBatchSize rows have accumulated or
// the runs are exhausted.
const mergeBatchSize = 1024

func (e *ExternalSort) Next() bool {
	if e.err != nil {
		return false
	}
	if e.cur != nil {
		e.cur.Release()
		e.cur = nil
	}
	if err := e.ensureRuns(); err != nil {
		e.err = err
		return false
	}
	if e.h.Len() == 0 {
		return false
	}

	builders := newRecordBuilders(e.schema)
	rows := 0
	for e.h.Len() > 0 && rows < mergeBatchSize {
		top := heap.Pop(&e.h).(heapEntry)
		r := e.runs[top.runIdx]
		appendRow(builders, r.cur, int(r.curRow))
		rows++
		r.curRow++

		ok, err := e.advanceRun(r)
		if err != nil {
			releaseBuilders(builders)
			e.err = err
			return false
		}
		if ok {
			key, err := e.rowKey(r)
			if err != nil {
				releaseBuilders(builders)
				e.err = err
				return false
			}
			heap.Push(&e.h, heapEntry{runIdx: top.runIdx, keyVal: key})
		}
	}
	e.cur = finishRecordBuilders(e.schema, builders, int64(rows))
	return true
}

func (e *ExternalSort) Batch() arrow.Record { return e.cur }
func (e *ExternalSort) Err() error          { return e.err }

func (e *ExternalSort) Close() error {
	if e.cur != nil {
		e.cur.Release()
		e.cur = nil
	}
	for _, r := range e.runs {
		if r.cur != nil {
			r.cur.Release()
		}
		if r.reader != nil {
			r.reader.Close()
		}
		if r.file != nil {
			r.file.Close()
		}
		os.Remove(r.path)
	}
	e.runs = nil
	return e.child.Close()
}

func newRecordBuilders(schema *arrow.Schema) []array.Builder {
	out := make([]array.Builder, len(schema.Fields()))
	for i, f := range schema.Fields() {
		out[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
	}
	return out
}

func appendRow(builders []array.Builder, src arrow.Record, row int) {
	for i, b := range builders {
		appendValueFromArray(b, src.Column(i), row)
	}
}

func releaseBuilders(builders []array.Builder) {
	for _, b := range builders {
		b.Release()
	}
}

func finishRecordBuilders(schema *arrow.Schema, builders []array.Builder, rows int64) arrow.Record {
	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, rows)
	releaseAll(cols)
	return rec
}
