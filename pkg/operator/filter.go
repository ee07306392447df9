package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"

	"batchql/internal/errgo"
	"batchql/pkg/expr"
)

// Filter evaluates a predicate expression against each child batch and
// emits only the rows for which it is true. Batches for which the
// predicate selects zero rows are still emitted (as zero-row records);
// the caller sees them via Next/Batch like any other batch.
type Filter struct {
	ctx   context.Context
	child Operator
	pred  expr.Expression

	cur arrow.Record
	err error
}

// NewFilter builds a Filter operator. pred must evaluate to a boolean
// array or boolean scalar over the child's schema.
func NewFilter(ctx context.Context, child Operator, pred expr.Expression) *Filter {
	return &Filter{ctx: ctxOrBackground(ctx), child: child, pred: pred}
}

func (f *Filter) Schema() *arrow.Schema { return f.child.Schema() }

func (f *Filter) Next() bool {
	if f.err != nil {
		return false
	}
	if f.cur != nil {
		f.cur.Release()
		f.cur = nil
	}
	if !f.child.Next() {
		f.err = f.child.Err()
		return false
	}
	batch := f.child.Batch()

	mask, err := f.pred.Eval(f.ctx, batch)
	if err != nil {
		f.err = err
		return false
	}
	maskArr, err := expr.AsArray(mask, batch.NumRows())
	if err != nil {
		f.err = err
		return false
	}
	defer maskArr.Release()

	if maskArr.DataType().ID() != arrow.BOOL {
		f.err = errgo.New(errgo.KindRuntime, "filter predicate did not evaluate to a boolean column")
		return false
	}

	filtered, err := compute.FilterRecordBatch(f.ctx, batch, maskArr, compute.DefaultFilterOptions())
	if err != nil {
		f.err = errgo.Wrap(errgo.KindRuntime, "applying filter mask", err)
		return false
	}
	f.cur = filtered
	return true
}

func (f *Filter) Batch() arrow.Record { return f.cur }
func (f *Filter) Err() error          { return f.err }

func (f *Filter) Close() error {
	if f.cur != nil {
		f.cur.Release()
		f.cur = nil
	}
	return f.child.Close()
}
