// Package errgo provides the sentinel and typed errors every layer of the
// engine reports through, matching the taxonomy of lex / parse / expression
// / planning / not-implemented / runtime / value errors the engine
// distinguishes between.
package errgo

import (
	"errors"
	"strconv"
)

var (
	// ErrColumnNotFound is returned when an expression references a column
	// absent from the input batch's schema.
	ErrColumnNotFound = errors.New("column not found")
	// ErrAmbiguousColumn is returned when an unqualified identifier matches
	// more than one opened table's schema.
	ErrAmbiguousColumn = errors.New("ambiguous column name")
	// ErrTableAlreadyOpened is returned when a FROM/JOIN clause reopens a
	// table name already present in the planner's opened-tables map.
	ErrTableAlreadyOpened = errors.New("table already opened in this plan")
	// ErrTableNotFound is returned when the catalog has no entry for a
	// requested table name.
	ErrTableNotFound = errors.New("table not found in catalog")
	// ErrNotImplemented marks statements recognized but unsupported
	// (INSERT, UPDATE, ...).
	ErrNotImplemented = errors.New("not implemented")
	// ErrUnsupportedJoin is returned for a join type other than INNER
	// (LEFT, RIGHT, FULL, CROSS, NATURAL) written directly after a table
	// name. An ON condition other than a single column equality is
	// reported as a parse error instead.
	ErrUnsupportedJoin = errors.New("unsupported join")
	// ErrAggregationWithoutAlias is returned when a GROUP BY query has an
	// aggregation projection with no AS alias.
	ErrAggregationWithoutAlias = errors.New("aggregation requires an alias")
	// ErrKeyLengthMismatch reports sort keys and descending flags of
	// different lengths. Sort and ExternalSort take both together as one
	// SortKey per column, so neither returns it.
	ErrKeyLengthMismatch = errors.New("keys and descending must have the same length")
	// ErrEmptyExpression is returned when a function call expression is
	// evaluated with no arguments.
	ErrEmptyExpression = errors.New("empty expression")
)

// Kind classifies an error for callers that want to branch on the stage
// that produced it without string-matching messages.
type Kind int

const (
	KindLex Kind = iota
	KindParse
	KindExpression
	KindPlanning
	KindNotImplemented
	KindRuntime
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindLex:
		return "lex"
	case KindParse:
		return "parse"
	case KindExpression:
		return "expression"
	case KindPlanning:
		return "planning"
	case KindNotImplemented:
		return "not-implemented"
	case KindRuntime:
		return "runtime"
	case KindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying the stage that raised it plus, where
// available, the input position (lex/parse errors) and the wrapped cause.
type Error struct {
	Kind Kind
	Pos  int // -1 when not applicable
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return e.Kind.String() + " error at position " + strconv.Itoa(e.Pos) + ": " + e.Msg
	}
	return e.Kind.String() + " error: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no source position.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Pos: -1, Msg: msg}
}

// Wrap builds an Error around a cause, preserving errors.Is/As on it.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Pos: -1, Msg: msg, Err: cause}
}

// At builds an Error carrying a source position, for lex/parse failures.
func At(kind Kind, pos int, msg string) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: msg}
}
