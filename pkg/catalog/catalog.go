// Package catalog tracks the tables a query has access to and the ones a
// particular plan has opened so far, enforcing that a table alias is
// opened at most once per query and that unqualified column references
// resolve unambiguously across every table currently in scope.
package catalog

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"batchql/internal/errgo"
	"batchql/pkg/operator"
	"batchql/pkg/scan"
	"batchql/pkg/schema"
)

// Source describes how to open a table: its backing file and format.
// Exactly one of CSVPath, ParquetPath or Batches should be set.
type Source struct {
	CSVPath     string
	ParquetPath string
	Batches     *scan.Memory
	BatchSize   int
}

// Catalog is the case-insensitive table name -> Source map available to
// a query. Table lookups fold case; column names inside a table's schema
// do not.
type Catalog struct {
	sources map[string]Source // lower(name) -> source
	names   map[string]string // lower(name) -> original-case name
}

// New builds an empty Catalog.
func New() *Catalog {
	return &Catalog{sources: make(map[string]Source), names: make(map[string]string)}
}

// Register adds a table to the catalog under name. Registering the same
// name twice overwrites the previous source; it is the planner, not the
// catalog, that rejects reopening a table within one plan.
func (c *Catalog) Register(name string, src Source) {
	key := strings.ToLower(name)
	c.sources[key] = src
	c.names[key] = name
}

// Lookup returns the Source registered for name, case-insensitively.
func (c *Catalog) Lookup(name string) (Source, bool) {
	src, ok := c.sources[strings.ToLower(name)]
	return src, ok
}

// OpenScan opens name as a scan operator plus its probed schema.
func (c *Catalog) OpenScan(ctx context.Context, name string) (operator.Operator, *arrow.Schema, error) {
	src, ok := c.Lookup(name)
	if !ok {
		return nil, nil, errgo.Wrap(errgo.KindPlanning, "table "+name, errgo.ErrTableNotFound)
	}
	switch {
	case src.CSVPath != "":
		s := scan.NewCSV(src.CSVPath, src.BatchSize)
		sch, err := s.PollSchema()
		if err != nil {
			return nil, nil, err
		}
		return &scanOperator{s}, sch, nil
	case src.ParquetPath != "":
		s := scan.NewParquet(ctx, src.ParquetPath, src.BatchSize)
		sch, err := s.PollSchema()
		if err != nil {
			return nil, nil, err
		}
		return &scanOperator{s}, sch, nil
	case src.Batches != nil:
		sch, _ := src.Batches.PollSchema()
		return &scanOperator{src.Batches}, sch, nil
	default:
		return nil, nil, errgo.New(errgo.KindPlanning, "table "+name+" has no backing source")
	}
}

// scanner is the narrow interface the scan package's three readers share
// (operator.Operator plus a schema probe), adapted to operator.Operator
// by scanOperator below.
type scanner interface {
	Next() bool
	Batch() arrow.Record
	Err() error
	Close() error
	Schema() *arrow.Schema
}

type scanOperator struct {
	scanner
}

// OpenedTables tracks the tables a single plan has opened, by alias, so
// the planner can resolve unqualified identifiers and reject ambiguous
// or repeated names. Aliases fold case the same way table names do.
type OpenedTables struct {
	order   []string
	schemas map[string]*arrow.Schema
}

// NewOpenedTables builds an empty OpenedTables tracker.
func NewOpenedTables() *OpenedTables {
	return &OpenedTables{schemas: make(map[string]*arrow.Schema)}
}

// Open records alias as opened with the given schema. Returns
// ErrTableAlreadyOpened if alias was already opened in this plan.
func (o *OpenedTables) Open(alias string, sch *arrow.Schema) error {
	key := strings.ToLower(alias)
	if _, ok := o.schemas[key]; ok {
		return errgo.Wrap(errgo.KindPlanning, "table "+alias, errgo.ErrTableAlreadyOpened)
	}
	o.schemas[key] = sch
	o.order = append(o.order, alias)
	return nil
}

// Order returns the opened tables' aliases in FROM/JOIN order.
func (o *OpenedTables) Order() []string { return o.order }

// Schema returns the schema an alias was opened with.
func (o *OpenedTables) Schema(alias string) *arrow.Schema {
	return o.schemas[strings.ToLower(alias)]
}

// Resolve finds which opened table(s) carry column. A qualified
// identifier ("t.col") resolves directly against that table; an
// unqualified identifier must match exactly one opened table's schema.
func (o *OpenedTables) Resolve(identifier string) (table, column string, err error) {
	if tbl, col, ok := schema.SplitQualified(identifier); ok {
		sch, known := o.schemas[strings.ToLower(tbl)]
		if !known {
			return "", "", errgo.Wrap(errgo.KindPlanning, "table "+tbl, errgo.ErrTableNotFound)
		}
		if !schema.HasColumn(sch, col) {
			return "", "", errgo.Wrap(errgo.KindPlanning, "column "+col+" on table "+tbl, errgo.ErrColumnNotFound)
		}
		return tbl, col, nil
	}

	var matches []string
	for _, alias := range o.order {
		sch := o.schemas[strings.ToLower(alias)]
		if schema.HasColumn(sch, identifier) {
			matches = append(matches, alias)
		}
	}
	switch len(matches) {
	case 0:
		// Matches no opened table's schema: assumed to be a reference to a
		// computed or aliased column from earlier in the same projection
		// list, left as-is for the caller to resolve against that batch.
		return "", identifier, nil
	case 1:
		return matches[0], identifier, nil
	default:
		return "", "", errgo.Wrap(errgo.KindPlanning, "column "+identifier, errgo.ErrAmbiguousColumn)
	}
}

// Qualified returns "table.column" for an already-resolved reference.
// Opened tables' batches are not renamed to this form; they keep the
// column names their scan produced.
func Qualified(table, column string) string {
	return table + "." + column
}
