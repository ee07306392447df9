// Package expr implements the expression tree evaluated by the physical
// operators: column references, literals, and function calls over the
// columnar compute kernels.
package expr

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"batchql/internal/errgo"
)

// Expression is a node in the expression tree. Eval applies the expression
// to a batch and returns either an array datum (one value per row) or a
// scalar datum, the latter only for function calls whose kernel reduces
// (sum, mean, ...). Expressions are stateless and idempotent: evaluating
// the same expression against the same batch twice yields equal results.
type Expression interface {
	Eval(ctx context.Context, batch arrow.Record) (compute.Datum, error)
	fmt.Stringer
}

// ColumnRef resolves a name against the input batch's schema.
type ColumnRef struct {
	Name string
}

// Col builds a ColumnRef. Mirrors the teacher's col() shorthand.
func Col(name string) *ColumnRef { return &ColumnRef{Name: name} }

func (c *ColumnRef) String() string { return "ColumnRef(" + c.Name + ")" }

func (c *ColumnRef) Eval(_ context.Context, batch arrow.Record) (compute.Datum, error) {
	idx := batch.Schema().FieldIndices(c.Name)
	if len(idx) == 0 {
		return nil, errgo.Wrap(errgo.KindExpression, "unknown column "+c.Name, errgo.ErrColumnNotFound)
	}
	col := batch.Column(idx[0])
	col.Retain()
	return compute.NewDatum(col), nil
}

// Literal is a scalar value known at plan time. Its Arrow scalar is
// resolved once at construction rather than on every Eval.
type Literal struct {
	value  any
	scalar scalar.Scalar
}

// Lit builds a Literal from a Go native value (int64, float64, string, bool
// or nil). Mirrors the teacher's lit() shorthand.
func Lit(value any) *Literal {
	return &Literal{value: value, scalar: toArrowScalar(value)}
}

func (l *Literal) String() string { return fmt.Sprintf("Literal(%v)", l.value) }

func (l *Literal) Eval(_ context.Context, _ arrow.Record) (compute.Datum, error) {
	return compute.NewDatum(l.scalar), nil
}

func toArrowScalar(value any) scalar.Scalar {
	switch v := value.(type) {
	case nil:
		return scalar.MakeNullScalar(arrow.Null)
	case int64:
		return scalar.NewInt64Scalar(v)
	case int:
		return scalar.NewInt64Scalar(int64(v))
	case float64:
		return scalar.NewFloat64Scalar(v)
	case string:
		return scalar.NewStringScalar(v)
	case bool:
		return scalar.NewBooleanScalar(v)
	default:
		panic(fmt.Sprintf("expr: unsupported literal type %T", value))
	}
}

// FunctionCall is an opaque callable from the columnar runtime plus an
// ordered list of argument expressions. Each argument is evaluated against
// the same batch before the function itself runs.
type FunctionCall struct {
	Name string // arrow/compute function name, e.g. "add", "equal", "sum"
	Opts compute.FunctionOptions
	Args []Expression
}

// Call builds a FunctionCall with no extra kernel options.
func Call(name string, args ...Expression) *FunctionCall {
	return &FunctionCall{Name: name, Args: args}
}

// CallWithOptions builds a FunctionCall carrying kernel options (e.g. a
// rounding mode, a set-membership value set).
func CallWithOptions(name string, opts compute.FunctionOptions, args ...Expression) *FunctionCall {
	return &FunctionCall{Name: name, Opts: opts, Args: args}
}

func (f *FunctionCall) String() string {
	s := f.Name + "("
	for i, a := range f.Args {
		if i > 0 {
			s += ","
		}
		s += a.String()
	}
	return s + ")"
}

func (f *FunctionCall) Eval(ctx context.Context, batch arrow.Record) (compute.Datum, error) {
	if len(f.Args) == 0 {
		return nil, errgo.Wrap(errgo.KindExpression, "function "+f.Name+" called with no arguments", errgo.ErrEmptyExpression)
	}
	args := make([]compute.Datum, len(f.Args))
	for i, a := range f.Args {
		d, err := a.Eval(ctx, batch)
		if err != nil {
			return nil, err
		}
		args[i] = d
	}
	result, err := compute.CallFunction(ctx, f.Name, f.Opts, args...)
	if err != nil {
		return nil, errgo.Wrap(errgo.KindRuntime, "function "+f.Name+" failed", err)
	}
	return result, nil
}

// AsArray requires the datum to be an array-shaped result of d.Len() rows,
// broadcasting a scalar datum to a constant array when the caller needs a
// per-row mask or column (e.g. Filter's predicate, Project's computed
// column).
func AsArray(mem compute.Datum, numRows int64) (arrow.Array, error) {
	switch d := mem.(type) {
	case *compute.ArrayDatum:
		return d.MakeArray(), nil
	case *compute.ScalarDatum:
		arr, err := scalar.MakeArrayFromScalar(d.Value, int(numRows), nil)
		if err != nil {
			return nil, errgo.Wrap(errgo.KindRuntime, "broadcasting scalar result", err)
		}
		return arr, nil
	default:
		return nil, errgo.New(errgo.KindRuntime, fmt.Sprintf("unexpected datum kind %T", mem))
	}
}
