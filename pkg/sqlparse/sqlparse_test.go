package sqlparse

import (
	"testing"

	"batchql/pkg/sqlast"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := Parse("SELECT a, b FROM t WHERE a > 1 ORDER BY b DESC LIMIT 10")
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if len(stmt.Projection) != 2 {
		t.Fatalf("Projection: got %d items, want 2", len(stmt.Projection))
	}
	if stmt.From.Name != "t" {
		t.Errorf("From.Name: got %q, want %q", stmt.From.Name, "t")
	}
	if stmt.Where == nil {
		t.Fatal("Where: got nil, want a predicate")
	}
	bo, ok := stmt.Where.(*sqlast.BinaryOp)
	if !ok || bo.Op != ">" {
		t.Errorf("Where: got %#v, want a > BinaryOp", stmt.Where)
	}
	if len(stmt.OrderBy) != 1 || !stmt.OrderBy[0].Descending {
		t.Errorf("OrderBy: got %+v, want one descending term", stmt.OrderBy)
	}
	if stmt.Limit == nil || *stmt.Limit != 10 {
		t.Errorf("Limit: got %v, want 10", stmt.Limit)
	}
}

func TestParseStar(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t")
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if len(stmt.Projection) != 1 {
		t.Fatalf("Projection: got %d items, want 1", len(stmt.Projection))
	}
	if _, ok := stmt.Projection[0].Expr.(*sqlast.Star); !ok {
		t.Errorf("Projection[0].Expr: got %#v, want *sqlast.Star", stmt.Projection[0].Expr)
	}
}

func TestParseGroupByAggregate(t *testing.T) {
	stmt, err := Parse("SELECT dept, SUM(salary) AS total FROM emp GROUP BY dept")
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if len(stmt.GroupBy) != 1 {
		t.Fatalf("GroupBy: got %d keys, want 1", len(stmt.GroupBy))
	}
	fc, ok := stmt.Projection[1].Expr.(*sqlast.FunctionCall)
	if !ok || fc.Name != "SUM" {
		t.Fatalf("Projection[1].Expr: got %#v, want SUM(...)", stmt.Projection[1].Expr)
	}
	if stmt.Projection[1].Alias != "total" {
		t.Errorf("Projection[1].Alias: got %q, want %q", stmt.Projection[1].Alias, "total")
	}
}

func TestParseJoin(t *testing.T) {
	stmt, err := Parse("SELECT * FROM orders o JOIN customers c ON o.customer_id = c.id")
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if len(stmt.Joins) != 1 {
		t.Fatalf("Joins: got %d, want 1", len(stmt.Joins))
	}
	j := stmt.Joins[0]
	if j.Table.Alias != "c" {
		t.Errorf("Joins[0].Table.Alias: got %q, want %q", j.Table.Alias, "c")
	}
	if j.LeftOn.Qualifier != "o" || j.LeftOn.Name != "customer_id" {
		t.Errorf("Joins[0].LeftOn: got %+v", j.LeftOn)
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	stmt, err := Parse("SELECT a FROM t WHERE a = 1 AND b = 2 OR c = 3")
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	top, ok := stmt.Where.(*sqlast.BinaryOp)
	if !ok || top.Op != "OR" {
		t.Fatalf("top-level operator: got %#v, want OR", stmt.Where)
	}
	left, ok := top.Left.(*sqlast.BinaryOp)
	if !ok || left.Op != "AND" {
		t.Errorf("left of OR: got %#v, want AND", top.Left)
	}
}

func TestParseTrailingInputError(t *testing.T) {
	_, err := Parse("SELECT a FROM t EXTRA")
	if err == nil {
		t.Fatal("Parse: expected an error for trailing input")
	}
}
