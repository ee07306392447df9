// Package sqlast defines the parse tree produced by pkg/sqlparse and
// consumed by pkg/planner: a SELECT statement's clauses, and the
// expression nodes that appear in its projection list, WHERE clause,
// GROUP BY/ORDER BY key lists and join condition.
package sqlast

// Expr is any node in a SQL expression tree.
type Expr interface {
	exprNode()
}

// Identifier is a column reference, optionally table-qualified
// ("t.col"); Qualifier is empty when unqualified.
type Identifier struct {
	Qualifier string
	Name      string
}

func (*Identifier) exprNode() {}

// Star represents the unqualified "*" in a SELECT list.
type Star struct{}

func (*Star) exprNode() {}

// Literal is a constant value: int64, float64, string, bool or nil.
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}

// BinaryOp is a two-operand operator: arithmetic (+ - * /), comparison
// (= <> < <= > >=) or logical (AND OR).
type BinaryOp struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryOp) exprNode() {}

// UnaryOp is a single-operand prefix operator: NOT or unary -.
type UnaryOp struct {
	Op      string
	Operand Expr
}

func (*UnaryOp) exprNode() {}

// FunctionCall is a named function applied to an argument list, used
// both for scalar functions and for aggregates (SUM, COUNT, ...).
type FunctionCall struct {
	Name string
	Args []Expr
}

func (*FunctionCall) exprNode() {}

// ProjectionItem is one SELECT-list entry: an expression plus an
// optional AS alias (empty when none was given).
type ProjectionItem struct {
	Expr  Expr
	Alias string
}

// OrderingTerm is one ORDER BY key: an expression plus its direction.
type OrderingTerm struct {
	Expr       Expr
	Descending bool
}

// TableRef is one FROM/JOIN source: a table name plus its alias (given
// with AS or as a bare identifier after the name; equal to Name when
// neither was given).
type TableRef struct {
	Name  string
	Alias string
}

// Join describes an INNER JOIN against an additional table, with its
// ON-clause equality condition already split into the two sides' column
// references (the only join condition shape this engine supports).
type Join struct {
	Table   TableRef
	LeftOn  *Identifier
	RightOn *Identifier
}

// Select is a full SELECT statement.
type Select struct {
	Projection []ProjectionItem
	From       TableRef
	Joins      []Join
	Where      Expr // nil when no WHERE clause
	GroupBy    []Expr
	OrderBy    []OrderingTerm
	Limit      *int64 // nil when no LIMIT clause
	Offset     *int64 // nil when no OFFSET clause
}
