// Package planner lowers a parsed SELECT statement (pkg/sqlast) into a
// physical operator tree (pkg/operator), resolving identifiers against
// the tables a query opens (pkg/catalog) and rewriting the projection
// list into the grouping/aggregation shape a GROUP BY query needs.
package planner

import (
	"context"
	"strings"

	"batchql/internal/errgo"
	"batchql/pkg/catalog"
	"batchql/pkg/expr"
	"batchql/pkg/operator"
	"batchql/pkg/sqlast"
)

// Plan lowers stmt into an executable operator tree against cat. The
// returned Operator's Schema() reflects the statement's final
// projection, after GROUP BY/ORDER BY/LIMIT have all been applied.
func Plan(ctx context.Context, cat *catalog.Catalog, stmt *sqlast.Select) (operator.Operator, error) {
	pl := &planner{ctx: ctx, cat: cat, opened: catalog.NewOpenedTables(), droppedRightKey: make(map[string]string)}
	return pl.plan(stmt)
}

type planner struct {
	ctx    context.Context
	cat    *catalog.Catalog
	opened *catalog.OpenedTables

	// droppedRightKey records, per joined table alias (lowercased), the
	// join-key column operator.InnerJoin drops from its output, so
	// expandStar's "SELECT *" expansion doesn't list a column the physical
	// operator never produces.
	droppedRightKey map[string]string
}

func (pl *planner) plan(stmt *sqlast.Select) (operator.Operator, error) {
	root, err := pl.openTable(stmt.From)
	if err != nil {
		return nil, err
	}

	for _, j := range stmt.Joins {
		rightOp, err := pl.openTable(j.Table)
		if err != nil {
			root.Close()
			return nil, err
		}
		leftCol, err := pl.resolveQualifiedName(j.LeftOn)
		if err != nil {
			return nil, err
		}
		rightCol, err := pl.resolveQualifiedName(j.RightOn)
		if err != nil {
			return nil, err
		}
		pl.droppedRightKey[strings.ToLower(j.Table.Alias)] = rightCol
		root = operator.NewInnerJoin(pl.ctx, root, rightOp, leftCol, rightCol)
	}

	if stmt.Where != nil {
		pred, err := pl.lowerExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		root = operator.NewFilter(pl.ctx, root, pred)
	}

	if len(stmt.GroupBy) > 0 || hasAggregation(stmt.Projection) {
		agg, err := pl.planAggregate(root, stmt)
		if err != nil {
			return nil, err
		}
		proj, err := pl.planAggregateProjection(stmt.Projection)
		if err != nil {
			return nil, err
		}
		root = operator.NewProject(pl.ctx, agg, proj)
	} else {
		proj, err := pl.planProjection(stmt.Projection)
		if err != nil {
			return nil, err
		}
		root = operator.NewProject(pl.ctx, root, proj)
	}

	if len(stmt.OrderBy) > 0 {
		keys := make([]operator.SortKey, len(stmt.OrderBy))
		for i, t := range stmt.OrderBy {
			id, ok := t.Expr.(*sqlast.Identifier)
			if !ok {
				return nil, errgo.New(errgo.KindPlanning, "ORDER BY only supports column references")
			}
			keys[i] = operator.SortKey{Column: id.Name, Descending: t.Descending}
		}
		root = operator.NewSort(pl.ctx, root, keys)
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		limit := int64(-1)
		if stmt.Limit != nil {
			limit = *stmt.Limit
		}
		offset := int64(0)
		if stmt.Offset != nil {
			offset = *stmt.Offset
		}
		root = operator.NewPaginate(pl.ctx, root, offset, limit)
	}

	return root, nil
}

func (pl *planner) openTable(ref sqlast.TableRef) (operator.Operator, error) {
	op, sch, err := pl.cat.OpenScan(pl.ctx, ref.Name)
	if err != nil {
		return nil, err
	}
	if err := pl.opened.Open(ref.Alias, sch); err != nil {
		op.Close()
		return nil, err
	}
	return op, nil
}

// resolveQualifiedName resolves a join-condition identifier to the plain
// column name it is namespaced under in the already-opened table's
// batches (this planner keeps batches in their scan-native schema and
// resolves names at plan time rather than physically renaming columns,
// since every table opened in one query currently carries distinct
// column names by construction of the Filter/Project/Join operators).
func (pl *planner) resolveQualifiedName(id *sqlast.Identifier) (string, error) {
	return pl.resolveIdentifier(id)
}

func (pl *planner) lowerExpr(e sqlast.Expr) (expr.Expression, error) {
	switch n := e.(type) {
	case *sqlast.Identifier:
		col, err := pl.resolveIdentifier(n)
		if err != nil {
			return nil, err
		}
		return expr.Col(col), nil
	case *sqlast.Literal:
		return expr.Lit(n.Value), nil
	case *sqlast.UnaryOp:
		operand, err := pl.lowerExpr(n.Operand)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "NOT":
			return expr.Call("invert", operand), nil
		case "-":
			return expr.Call("negate", operand), nil
		default:
			return nil, errgo.New(errgo.KindPlanning, "unsupported unary operator "+n.Op)
		}
	case *sqlast.BinaryOp:
		left, err := pl.lowerExpr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := pl.lowerExpr(n.Right)
		if err != nil {
			return nil, err
		}
		fn, ok := binaryFunctions[n.Op]
		if !ok {
			return nil, errgo.New(errgo.KindPlanning, "unsupported operator "+n.Op)
		}
		return expr.Call(fn, left, right), nil
	case *sqlast.FunctionCall:
		args := make([]expr.Expression, len(n.Args))
		for i, a := range n.Args {
			le, err := pl.lowerExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = le
		}
		fn, ok := scalarFunctions[n.Name]
		if !ok {
			return nil, errgo.Wrap(errgo.KindPlanning, "unsupported function "+n.Name, errgo.ErrNotImplemented)
		}
		if len(args) == 0 {
			// A zero-argument scalar call (e.g. UPPER()) lowers to a call
			// with no arguments, which expr.FunctionCall.Eval rejects with
			// ErrEmptyExpression. COUNT(*) never reaches here: aggregates
			// are not in scalarFunctions and are planned by planAggregate.
			return expr.Call(fn), nil
		}
		return expr.Call(fn, args...), nil
	default:
		return nil, errgo.New(errgo.KindPlanning, "unsupported expression")
	}
}

func (pl *planner) resolveIdentifier(id *sqlast.Identifier) (string, error) {
	if id.Qualifier != "" {
		_, col, err := pl.opened.Resolve(id.Qualifier + "." + id.Name)
		return col, err
	}
	_, col, err := pl.opened.Resolve(id.Name)
	return col, err
}

var binaryFunctions = map[string]string{
	"+": "add", "-": "subtract", "*": "multiply", "/": "divide",
	"=": "equal", "<>": "not_equal", "!=": "not_equal",
	"<": "less", "<=": "less_equal", ">": "greater", ">=": "greater_equal",
	"AND": "and_kleene", "OR": "or_kleene",
}

var scalarFunctions = map[string]string{
	"UPPER": "utf8_upper", "LOWER": "utf8_lower", "LENGTH": "utf8_length",
	"ABS": "abs", "ROUND": "round",
}

var aggregateFunctions = map[string]string{
	"SUM": "sum", "AVG": "mean", "MIN": "min", "MAX": "max", "COUNT": "count",
}

func hasAggregation(items []sqlast.ProjectionItem) bool {
	for _, it := range items {
		if fc, ok := it.Expr.(*sqlast.FunctionCall); ok {
			if _, isAgg := aggregateFunctions[fc.Name]; isAgg {
				return true
			}
		}
	}
	return false
}

// planProjection lowers a non-aggregating SELECT list. "SELECT *" (a
// single Star projection item) expands to one ColumnRef per column
// currently in scope, across every opened table in FROM/JOIN order.
func (pl *planner) planProjection(items []sqlast.ProjectionItem) ([]operator.NamedExpr, error) {
	if len(items) == 1 {
		if _, ok := items[0].Expr.(*sqlast.Star); ok {
			return pl.expandStar(), nil
		}
	}
	out := make([]operator.NamedExpr, len(items))
	for i, it := range items {
		e, err := pl.lowerExpr(it.Expr)
		if err != nil {
			return nil, err
		}
		name := it.Alias
		if name == "" {
			name = projectionName(it.Expr)
		}
		out[i] = operator.NamedExpr{Name: name, Expr: e}
	}
	return out, nil
}

// expandStar lists one column per opened table in FROM/JOIN order, the
// same columns operator.InnerJoin's buildSchema leaves in its output: a
// joined table's own join-key column is skipped (InnerJoin drops it as
// redundant with the left key), and a later table's column name colliding
// with one already listed is suffixed "_right".
func (pl *planner) expandStar() []operator.NamedExpr {
	seen := make(map[string]bool)
	var out []operator.NamedExpr
	for _, alias := range pl.opened.Order() {
		sch := pl.opened.Schema(alias)
		dropped, hasDropped := pl.droppedRightKey[strings.ToLower(alias)]
		for _, f := range sch.Fields() {
			if hasDropped && f.Name == dropped {
				continue
			}
			name := f.Name
			if seen[name] {
				name = name + "_right"
			}
			seen[name] = true
			out = append(out, operator.NamedExpr{Name: name, Expr: expr.Col(name)})
		}
	}
	return out
}

// projectionName names an unaliased projection item: a qualified
// identifier keeps its "table.column" form (spec.md §8 scenario 5 expects
// a bare "users.age" projection to come out named exactly that), an
// unqualified one keeps its bare name, a function call lowercases its
// name, and anything else falls back to a generic placeholder.
func projectionName(e sqlast.Expr) string {
	switch n := e.(type) {
	case *sqlast.Identifier:
		if n.Qualifier != "" {
			return n.Qualifier + "." + n.Name
		}
		return n.Name
	case *sqlast.FunctionCall:
		return strings.ToLower(n.Name)
	default:
		return "expr"
	}
}

// planAggregate builds the Aggregate node for a GROUP BY (or bare-aggregate,
// zero-key) query. Every aggregate projection item must carry an explicit
// AS alias, since that alias is the column name the Aggregate node emits
// and planAggregateProjection later references it by. Bare GROUP BY key
// columns and derived expressions are not computed here — they are
// resolved against the Aggregate node's output by planAggregateProjection,
// which always sits above this node as a Project layer.
func (pl *planner) planAggregate(child operator.Operator, stmt *sqlast.Select) (operator.Operator, error) {
	groupCols := make([]string, len(stmt.GroupBy))
	for i, g := range stmt.GroupBy {
		id, ok := g.(*sqlast.Identifier)
		if !ok {
			return nil, errgo.New(errgo.KindPlanning, "GROUP BY only supports column references")
		}
		col, err := pl.resolveIdentifier(id)
		if err != nil {
			return nil, err
		}
		groupCols[i] = col
	}

	var aggs []operator.AggExpr
	for _, it := range stmt.Projection {
		fc, ok := it.Expr.(*sqlast.FunctionCall)
		if !ok {
			// Not a function call: a bare GROUP BY key column or a derived
			// expression, both projected by planAggregateProjection; skip
			// it here.
			continue
		}
		fn, isAgg := aggregateFunctions[fc.Name]
		if !isAgg {
			return nil, errgo.Wrap(errgo.KindPlanning, "non-aggregate function in GROUP BY query: "+fc.Name, errgo.ErrNotImplemented)
		}
		if it.Alias == "" {
			return nil, errgo.Wrap(errgo.KindPlanning, "aggregation "+fc.Name+" requires an AS alias", errgo.ErrAggregationWithoutAlias)
		}
		col := ""
		if len(fc.Args) > 0 {
			id, ok := fc.Args[0].(*sqlast.Identifier)
			if !ok {
				return nil, errgo.New(errgo.KindPlanning, "aggregate arguments must be column references")
			}
			resolved, err := pl.resolveIdentifier(id)
			if err != nil {
				return nil, err
			}
			col = resolved
		} else if len(groupCols) > 0 {
			col = groupCols[0]
		} else if order := pl.opened.Order(); len(order) > 0 {
			if sch := pl.opened.Schema(order[0]); sch != nil && len(sch.Fields()) > 0 {
				col = sch.Field(0).Name
			}
		}
		aggs = append(aggs, operator.AggExpr{OutName: it.Alias, Func: fn, Column: col})
	}

	return operator.NewAggregate(pl.ctx, child, groupCols, aggs), nil
}

// planAggregateProjection lowers the final SELECT list of a GROUP BY query
// into the Project layer spec.md fixes above every Aggregate node. An
// aliased aggregate function call is not recomputed here — it already
// exists as a column on the Aggregate node's output, under its alias — so
// it is projected through as a plain column reference. Everything else
// (bare GROUP BY key columns, and derived expressions referencing an
// aggregate's alias, e.g. "average_age + 1 AS adjusted_avg_age") lowers
// the same way a non-aggregating SELECT list does: identifiers that match
// no opened table's schema resolve as references to an earlier
// projection's alias instead (catalog.OpenedTables.Resolve's fallback).
func (pl *planner) planAggregateProjection(items []sqlast.ProjectionItem) ([]operator.NamedExpr, error) {
	out := make([]operator.NamedExpr, len(items))
	for i, it := range items {
		if fc, ok := it.Expr.(*sqlast.FunctionCall); ok {
			if _, isAgg := aggregateFunctions[fc.Name]; isAgg {
				out[i] = operator.NamedExpr{Name: it.Alias, Expr: expr.Col(it.Alias)}
				continue
			}
		}
		e, err := pl.lowerExpr(it.Expr)
		if err != nil {
			return nil, err
		}
		name := it.Alias
		if name == "" {
			name = projectionName(it.Expr)
		}
		out[i] = operator.NamedExpr{Name: name, Expr: e}
	}
	return out, nil
}
