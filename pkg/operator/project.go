package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"batchql/pkg/expr"
)

// NamedExpr pairs an expression with the output column name it projects
// to.
type NamedExpr struct {
	Name string
	Expr expr.Expression
}

// Project evaluates a fixed list of expressions against each child batch
// and emits a new batch made of exactly those columns, in order. This is
// also how SELECT * is lowered: one ColumnRef per input field.
type Project struct {
	ctx    context.Context
	child  Operator
	exprs  []NamedExpr
	schema *arrow.Schema

	cur arrow.Record
	err error
}

// NewProject builds a Project operator. The output schema is derived from
// the names in exprs; types are inferred lazily from the first batch
// evaluated, since an expression's result type can depend on its inputs.
func NewProject(ctx context.Context, child Operator, exprs []NamedExpr) *Project {
	return &Project{ctx: ctxOrBackground(ctx), child: child, exprs: exprs}
}

func (p *Project) Schema() *arrow.Schema { return p.schema }

func (p *Project) Next() bool {
	if p.err != nil {
		return false
	}
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	if !p.child.Next() {
		p.err = p.child.Err()
		return false
	}
	batch := p.child.Batch()

	// accum grows by one column per expression evaluated so far, so a
	// later expression can reference an earlier one's output name (e.g.
	// "a+1 AS b, b*2 AS c" — b must resolve when evaluating c).
	accumFields := append([]arrow.Field(nil), batch.Schema().Fields()...)
	accumCols := append([]arrow.Array(nil), batch.Columns()...)
	accum := batch

	cols := make([]arrow.Array, len(p.exprs))
	fields := make([]arrow.Field, len(p.exprs))
	for i, ne := range p.exprs {
		d, err := ne.Expr.Eval(p.ctx, accum)
		if err != nil {
			releaseAll(cols[:i])
			if accum != batch {
				accum.Release()
			}
			p.err = err
			return false
		}
		arr, err := expr.AsArray(d, batch.NumRows())
		if err != nil {
			releaseAll(cols[:i])
			if accum != batch {
				accum.Release()
			}
			p.err = err
			return false
		}
		cols[i] = arr
		fields[i] = arrow.Field{Name: ne.Name, Type: arr.DataType(), Nullable: true}

		accumFields = append(accumFields, fields[i])
		accumCols = append(accumCols, arr)
		next := array.NewRecord(arrow.NewSchema(accumFields, nil), accumCols, batch.NumRows())
		if accum != batch {
			accum.Release()
		}
		accum = next
	}
	if accum != batch {
		accum.Release()
	}
	p.schema = arrow.NewSchema(fields, nil)
	p.cur = array.NewRecord(p.schema, cols, batch.NumRows())
	releaseAll(cols)
	return true
}

func (p *Project) Batch() arrow.Record { return p.cur }
func (p *Project) Err() error          { return p.err }

func (p *Project) Close() error {
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	return p.child.Close()
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}
