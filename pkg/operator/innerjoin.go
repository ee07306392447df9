package operator

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"batchql/internal/errgo"
)

// InnerJoin materializes both children fully, then for every left row
// looks up matching right rows by equality on a single key-column pair.
// The right table's join-key column is dropped from the output (it is
// redundant with the left key every output row matched against); any
// other column present on both sides is emitted twice, the right copy
// suffixed "_right".
type InnerJoin struct {
	ctx      context.Context
	left     Operator
	right    Operator
	leftKey  string
	rightKey string

	done   bool
	cur    arrow.Record
	err    error
	schema *arrow.Schema
}

// NewInnerJoin builds an InnerJoin operator equating left.leftKey =
// right.rightKey.
func NewInnerJoin(ctx context.Context, left, right Operator, leftKey, rightKey string) *InnerJoin {
	return &InnerJoin{ctx: ctxOrBackground(ctx), left: left, right: right, leftKey: leftKey, rightKey: rightKey}
}

func (j *InnerJoin) Schema() *arrow.Schema { return j.schema }

func (j *InnerJoin) Next() bool {
	if j.err != nil || j.done {
		return false
	}
	j.done = true

	leftTbl, err := drain(j.left)
	if err != nil {
		j.err = err
		return false
	}
	defer leftTbl.Release()
	rightTbl, err := drain(j.right)
	if err != nil {
		j.err = err
		return false
	}
	defer rightTbl.Release()

	leftKeyIdx := leftTbl.Schema().FieldIndices(j.leftKey)
	rightKeyIdx := rightTbl.Schema().FieldIndices(j.rightKey)
	if len(leftKeyIdx) == 0 || len(rightKeyIdx) == 0 {
		j.err = errgo.Wrap(errgo.KindPlanning, "join key column not found", errgo.ErrColumnNotFound)
		return false
	}
	leftKeyCol := leftTbl.Column(leftKeyIdx[0])
	rightKeyCol := rightTbl.Column(rightKeyIdx[0])

	rightIndex := make(map[string][]int64, rightTbl.NumRows())
	for row := 0; row < rightTbl.NumRows(); row++ {
		if rightKeyCol.IsNull(row) {
			continue
		}
		k, err := scalarKeyString(rightKeyCol, row)
		if err != nil {
			j.err = err
			return false
		}
		rightIndex[k] = append(rightIndex[k], int64(row))
	}

	var leftRows, rightRows []int64
	for row := 0; row < leftTbl.NumRows(); row++ {
		if leftKeyCol.IsNull(row) {
			continue
		}
		k, err := scalarKeyString(leftKeyCol, row)
		if err != nil {
			j.err = err
			return false
		}
		matches, ok := rightIndex[k]
		if !ok {
			continue
		}
		for _, rr := range matches {
			leftRows = append(leftRows, int64(row))
			rightRows = append(rightRows, rr)
		}
	}

	schema, colSources := j.buildSchema(leftTbl.Schema(), rightTbl.Schema())
	j.schema = schema

	leftIdxArr := int64SliceToArray(leftRows)
	rightIdxArr := int64SliceToArray(rightRows)
	defer leftIdxArr.Release()
	defer rightIdxArr.Release()

	cols := make([]arrow.Array, len(colSources))
	for i, src := range colSources {
		var base arrow.Array
		var idx *array.Int64
		if src.fromLeft {
			base = leftTbl.Column(src.index)
			idx = leftIdxArr
		} else {
			base = rightTbl.Column(src.index)
			idx = rightIdxArr
		}
		taken, err := compute.TakeArray(j.ctx, base, idx)
		if err != nil {
			releaseAll(cols[:i])
			j.err = errgo.Wrap(errgo.KindRuntime, "gathering join output column "+src.name, err)
			return false
		}
		cols[i] = taken
	}
	j.cur = array.NewRecord(schema, cols, int64(len(leftRows)))
	releaseAll(cols)
	return true
}

type joinColSource struct {
	name     string
	fromLeft bool
	index    int
}

// buildSchema orders output columns left-then-right, dropping the right
// table's join-key column (redundant with the left key it was matched
// against) and suffixing any other right column "_right" when its name
// collides with a left column.
func (j *InnerJoin) buildSchema(left, right *arrow.Schema) (*arrow.Schema, []joinColSource) {
	leftNames := make(map[string]bool, len(left.Fields()))
	for _, f := range left.Fields() {
		leftNames[f.Name] = true
	}

	var fields []arrow.Field
	var sources []joinColSource
	for i, f := range left.Fields() {
		fields = append(fields, f)
		sources = append(sources, joinColSource{name: f.Name, fromLeft: true, index: i})
	}
	for i, f := range right.Fields() {
		if f.Name == j.rightKey {
			continue
		}
		name := f.Name
		if leftNames[name] {
			name = fmt.Sprintf("%s_right", name)
		}
		ff := f
		ff.Name = name
		fields = append(fields, ff)
		sources = append(sources, joinColSource{name: name, fromLeft: false, index: i})
	}
	return arrow.NewSchema(fields, nil), sources
}

func (j *InnerJoin) Batch() arrow.Record { return j.cur }
func (j *InnerJoin) Err() error          { return j.err }

func (j *InnerJoin) Close() error {
	if j.cur != nil {
		j.cur.Release()
		j.cur = nil
	}
	lerr := j.left.Close()
	rerr := j.right.Close()
	if lerr != nil {
		return lerr
	}
	return rerr
}

// drain fully consumes an operator into a single concatenated record.
func drain(op Operator) (arrow.Record, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	for op.Next() {
		b := op.Batch()
		b.Retain()
		batches = append(batches, b)
	}
	if err := op.Err(); err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		schema := op.Schema()
		return array.NewRecord(schema, emptyColumns(schema), 0), nil
	}
	return concatRecords(op.Schema(), batches)
}

func int64SliceToArray(vals []int64) *array.Int64 {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(vals, nil)
	return b.NewInt64Array()
}
