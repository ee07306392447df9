package operator

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"batchql/internal/errgo"
)

// AggExpr is one SELECT-list aggregation: the arrow/compute scalar
// aggregate function (sum, mean, min, max, count, ...) applied to a
// single input column, bound to an output name.
type AggExpr struct {
	OutName string
	Func    string
	Column  string
}

// Aggregate buffers its entire child, groups rows by the GROUP BY key
// columns, and emits one output row per distinct key (or a single row
// when GroupBy is empty, treating the whole input as one implicit
// group). A single GROUP BY column takes a hash-bucketing fast path; two
// or more keys fall back to sorting the buffered rows and scanning for
// key breaks, since a composite hash key has no single Arrow array to
// bucket on directly.
type Aggregate struct {
	ctx     context.Context
	child   Operator
	groupBy []string
	aggs    []AggExpr

	done   bool
	cur    arrow.Record
	err    error
	schema *arrow.Schema
}

// NewAggregate builds an Aggregate operator.
func NewAggregate(ctx context.Context, child Operator, groupBy []string, aggs []AggExpr) *Aggregate {
	return &Aggregate{ctx: ctxOrBackground(ctx), child: child, groupBy: groupBy, aggs: aggs}
}

func (a *Aggregate) Schema() *arrow.Schema { return a.schema }

func (a *Aggregate) Next() bool {
	if a.err != nil || a.done {
		return false
	}
	a.done = true

	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	for a.child.Next() {
		b := a.child.Batch()
		b.Retain()
		batches = append(batches, b)
	}
	if err := a.child.Err(); err != nil {
		a.err = err
		return false
	}

	var combined arrow.Record
	if len(batches) == 0 {
		// A literally empty source still goes through grouping below. A
		// zero-key aggregation has one implicit group (the whole, empty,
		// input) and emits one row of Sum/Count/Mean's identity-element
		// results; a keyed aggregation finds zero groups, and buildOutput
		// emits a typed zero-row batch.
		childSchema := a.child.Schema()
		combined = array.NewRecord(childSchema, emptyColumns(childSchema), 0)
	} else {
		var err error
		combined, err = concatRecords(a.child.Schema(), batches)
		if err != nil {
			a.err = err
			return false
		}
	}
	defer combined.Release()

	var groups [][]int64 // row indices per group
	var keyRows []int64  // representative row for each group's key values
	var err error

	switch len(a.groupBy) {
	case 0:
		allRows := make([]int64, combined.NumRows())
		for i := range allRows {
			allRows[i] = int64(i)
		}
		groups = [][]int64{allRows}
		keyRows = []int64{0}
	case 1:
		groups, keyRows, err = a.hashGroup(combined)
	default:
		groups, keyRows, err = a.sortGroup(combined)
	}
	if err != nil {
		a.err = err
		return false
	}

	rec, schema, err := a.buildOutput(combined, groups, keyRows)
	if err != nil {
		a.err = err
		return false
	}
	a.schema = schema
	a.cur = rec
	return true
}

// hashGroup buckets rows by a single key column's formatted scalar value,
// preserving first-seen group order.
func (a *Aggregate) hashGroup(combined arrow.Record) ([][]int64, []int64, error) {
	keyCol := a.groupBy[0]
	idx := combined.Schema().FieldIndices(keyCol)
	if len(idx) == 0 {
		return nil, nil, errgo.Wrap(errgo.KindPlanning, "GROUP BY column not found: "+keyCol, errgo.ErrColumnNotFound)
	}
	col := combined.Column(idx[0])

	order := make([]string, 0)
	buckets := make(map[string][]int64)
	reps := make(map[string]int64)
	for row := 0; row < combined.NumRows(); row++ {
		key, err := scalarKeyString(col, row)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
			reps[key] = int64(row)
		}
		buckets[key] = append(buckets[key], int64(row))
	}
	groups := make([][]int64, len(order))
	keyRows := make([]int64, len(order))
	for i, key := range order {
		groups[i] = buckets[key]
		keyRows[i] = reps[key]
	}
	return groups, keyRows, nil
}

// sortGroup sorts the combined batch by the composite GROUP BY key and
// scans for key breaks, grouping contiguous runs of equal keys.
func (a *Aggregate) sortGroup(combined arrow.Record) ([][]int64, []int64, error) {
	keys := make([]SortKey, len(a.groupBy))
	for i, g := range a.groupBy {
		keys[i] = SortKey{Column: g}
	}
	sortOpts := compute.SortOptions{Keys: sortKeysToArrow(keys), NullPlacement: compute.NullPlacementAtStart}
	indicesDatum, err := compute.SortIndices(a.ctx, compute.NewDatumWithoutOwning(combined), sortOpts)
	if err != nil {
		return nil, nil, errgo.Wrap(errgo.KindRuntime, "sorting GROUP BY rows", err)
	}
	indices := indicesDatum.(*compute.ArrayDatum).MakeArray().(*array.Uint64)
	defer indices.Release()

	keyCols := make([]arrow.Array, len(a.groupBy))
	for i, g := range a.groupBy {
		fi := combined.Schema().FieldIndices(g)
		if len(fi) == 0 {
			return nil, nil, errgo.Wrap(errgo.KindPlanning, "GROUP BY column not found: "+g, errgo.ErrColumnNotFound)
		}
		keyCols[i] = combined.Column(fi[0])
	}

	var groups [][]int64
	var keyRows []int64
	var cur []int64
	var prevKey []scalar.Scalar
	for i := 0; i < indices.Len(); i++ {
		row := int(indices.Value(i))
		key, err := rowKeyOf(keyCols, row)
		if err != nil {
			return nil, nil, err
		}
		if prevKey != nil && !sameKey(prevKey, key) {
			groups = append(groups, cur)
			keyRows = append(keyRows, cur[0])
			cur = nil
		}
		cur = append(cur, int64(row))
		prevKey = key
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
		keyRows = append(keyRows, cur[0])
	}
	return groups, keyRows, nil
}

func rowKeyOf(cols []arrow.Array, row int) ([]scalar.Scalar, error) {
	key := make([]scalar.Scalar, len(cols))
	for i, c := range cols {
		s, err := scalar.GetScalar(c, row)
		if err != nil {
			return nil, errgo.Wrap(errgo.KindRuntime, "reading GROUP BY key scalar", err)
		}
		key[i] = s
	}
	return key, nil
}

func sameKey(a, b []scalar.Scalar) bool {
	for i := range a {
		if compareScalars(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func scalarKeyString(col arrow.Array, row int) (string, error) {
	if col.IsNull(row) {
		return "\x00NULL", nil
	}
	s, err := scalar.GetScalar(col, row)
	if err != nil {
		return "", errgo.Wrap(errgo.KindRuntime, "reading GROUP BY key scalar", err)
	}
	return fmt.Sprintf("%v", s), nil
}

// buildOutput computes one row per group: the group's key column values
// (read from its representative row) followed by each aggregation
// function applied to the rows belonging to that group.
func (a *Aggregate) buildOutput(combined arrow.Record, groups [][]int64, keyRows []int64) (arrow.Record, *arrow.Schema, error) {
	numGroups := len(groups)

	keyBuilders := make([]array.Builder, len(a.groupBy))
	keyCols := make([]arrow.Array, len(a.groupBy))
	fields := make([]arrow.Field, 0, len(a.groupBy)+len(a.aggs))
	for i, g := range a.groupBy {
		fi := combined.Schema().FieldIndices(g)
		if len(fi) == 0 {
			return nil, nil, errgo.Wrap(errgo.KindPlanning, "GROUP BY column not found: "+g, errgo.ErrColumnNotFound)
		}
		keyCols[i] = combined.Column(fi[0])
		keyBuilders[i] = array.NewBuilder(memory.DefaultAllocator, keyCols[i].DataType())
		fields = append(fields, arrow.Field{Name: g, Type: keyCols[i].DataType(), Nullable: true})
	}
	for gi := range groups {
		for ki := range a.groupBy {
			appendValueFromArray(keyBuilders[ki], keyCols[ki], int(keyRows[gi]))
		}
	}

	aggBuilders := make([]array.Builder, len(a.aggs))
	aggSrc := make([]arrow.Array, len(a.aggs))
	for ai, agg := range a.aggs {
		fi := combined.Schema().FieldIndices(agg.Column)
		if len(fi) == 0 {
			return nil, nil, errgo.Wrap(errgo.KindPlanning, "aggregation column not found: "+agg.Column, errgo.ErrColumnNotFound)
		}
		aggSrc[ai] = combined.Column(fi[0])
	}

	for gi, rows := range groups {
		indices := array.NewUint64Builder(memory.DefaultAllocator)
		for _, r := range rows {
			indices.Append(uint64(r))
		}
		idxArr := indices.NewUint64Array()

		for ai, agg := range a.aggs {
			slice, err := compute.TakeArray(a.ctx, aggSrc[ai], idxArr)
			if err != nil {
				indices.Release()
				idxArr.Release()
				return nil, nil, errgo.Wrap(errgo.KindRuntime, "gathering group rows for "+agg.Column, err)
			}
			result, err := compute.CallFunction(a.ctx, agg.Func, nil, compute.NewDatumWithoutOwning(slice))
			slice.Release()
			if err != nil {
				indices.Release()
				idxArr.Release()
				return nil, nil, errgo.Wrap(errgo.KindRuntime, "aggregating "+agg.Func+"("+agg.Column+")", err)
			}
			if aggBuilders[ai] == nil {
				resultType := result.(*compute.ScalarDatum).Value.DataType()
				aggBuilders[ai] = array.NewBuilder(memory.DefaultAllocator, resultType)
				fields = append(fields, arrow.Field{Name: agg.OutName, Type: resultType, Nullable: true})
			}
			appendScalar(aggBuilders[ai], result.(*compute.ScalarDatum).Value)
		}
		indices.Release()
		idxArr.Release()
	}

	// With zero groups (e.g. the child produced rows but they were all
	// filtered out upstream) the loop above never ran, so aggBuilders are
	// still nil and their result type/field were never learned. Call each
	// aggregate on an empty slice of its source column to learn the
	// result type and produce a zero-length column of the right shape.
	if numGroups == 0 {
		for ai, agg := range a.aggs {
			empty := array.NewUint64Builder(memory.DefaultAllocator)
			idxArr := empty.NewUint64Array()
			slice, err := compute.TakeArray(a.ctx, aggSrc[ai], idxArr)
			idxArr.Release()
			if err != nil {
				return nil, nil, errgo.Wrap(errgo.KindRuntime, "gathering empty group for "+agg.Column, err)
			}
			result, err := compute.CallFunction(a.ctx, agg.Func, nil, compute.NewDatumWithoutOwning(slice))
			slice.Release()
			if err != nil {
				return nil, nil, errgo.Wrap(errgo.KindRuntime, "aggregating "+agg.Func+"("+agg.Column+") over zero groups", err)
			}
			resultType := result.(*compute.ScalarDatum).Value.DataType()
			aggBuilders[ai] = array.NewBuilder(memory.DefaultAllocator, resultType)
			fields = append(fields, arrow.Field{Name: agg.OutName, Type: resultType, Nullable: true})
		}
	}

	var cols []arrow.Array
	for _, b := range keyBuilders {
		cols = append(cols, b.NewArray())
		b.Release()
	}
	for _, b := range aggBuilders {
		cols = append(cols, b.NewArray())
		b.Release()
	}

	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, cols, int64(numGroups))
	releaseAll(cols)
	return rec, schema, nil
}

func (a *Aggregate) Batch() arrow.Record { return a.cur }
func (a *Aggregate) Err() error          { return a.err }

func (a *Aggregate) Close() error {
	if a.cur != nil {
		a.cur.Release()
		a.cur = nil
	}
	return a.child.Close()
}

// appendScalar appends a single scalar value to a builder, the
// group-output counterpart to appendValueFromArray.
func appendScalar(dst array.Builder, s scalar.Scalar) {
	if !s.IsValid() {
		dst.AppendNull()
		return
	}
	switch v := s.(type) {
	case *scalar.Boolean:
		dst.(*array.BooleanBuilder).Append(v.Value)
	case *scalar.Int8:
		dst.(*array.Int8Builder).Append(v.Value)
	case *scalar.Int16:
		dst.(*array.Int16Builder).Append(v.Value)
	case *scalar.Int32:
		dst.(*array.Int32Builder).Append(v.Value)
	case *scalar.Int64:
		dst.(*array.Int64Builder).Append(v.Value)
	case *scalar.Uint8:
		dst.(*array.Uint8Builder).Append(v.Value)
	case *scalar.Uint16:
		dst.(*array.Uint16Builder).Append(v.Value)
	case *scalar.Uint32:
		dst.(*array.Uint32Builder).Append(v.Value)
	case *scalar.Uint64:
		dst.(*array.Uint64Builder).Append(v.Value)
	case *scalar.Float32:
		dst.(*array.Float32Builder).Append(v.Value)
	case *scalar.Float64:
		dst.(*array.Float64Builder).Append(v.Value)
	case *scalar.String:
		dst.(*array.StringBuilder).Append(v.String())
	default:
		panic(fmt.Sprintf("appendScalar: unsupported scalar type %T", s))
	}
}
