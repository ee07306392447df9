// cmd/batchql/main.go
//
// batchql - run a single SELECT query against one or more CSV/Parquet
// tables and print the result.
//
// Usage:
//
//	batchql -t name=path.csv [-t other=path.parquet ...] "SELECT ..."
//
// Each -t flag registers one table under the catalog name given before
// "=". The table's format is inferred from the path's extension
// (.csv or .parquet).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"batchql/internal/elog"
	"batchql/pkg/catalog"
	"batchql/pkg/planner"
	"batchql/pkg/sqlparse"
)

type tableFlags []string

func (t *tableFlags) String() string { return strings.Join(*t, ",") }
func (t *tableFlags) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func main() {
	var tables tableFlags
	flag.Var(&tables, "t", "name=path table binding, repeatable")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: batchql -t name=path [-t name=path ...] \"SELECT ...\"")
		os.Exit(2)
	}
	query := flag.Arg(0)

	cat := catalog.New()
	for _, t := range tables {
		name, path, ok := strings.Cut(t, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid -t binding %q, expected name=path\n", t)
			os.Exit(2)
		}
		src := catalog.Source{}
		switch {
		case strings.HasSuffix(path, ".parquet"):
			src.ParquetPath = path
		default:
			src.CSVPath = path
		}
		cat.Register(name, src)
	}

	if err := run(cat, query); err != nil {
		elog.Default.Warnf("%v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cat *catalog.Catalog, query string) error {
	stmt, err := sqlparse.Parse(query)
	if err != nil {
		return err
	}

	ctx := context.Background()
	op, err := planner.Plan(ctx, cat, stmt)
	if err != nil {
		return err
	}
	defer op.Close()

	printed := false
	for op.Next() {
		printBatch(op.Batch(), !printed)
		printed = true
	}
	return op.Err()
}

func printBatch(rec arrow.Record, header bool) {
	if header {
		names := make([]string, rec.NumCols())
		for i, f := range rec.Schema().Fields() {
			names[i] = f.Name
		}
		fmt.Println(strings.Join(names, "\t"))
	}
	for row := 0; row < int(rec.NumRows()); row++ {
		cells := make([]string, rec.NumCols())
		for col := 0; col < int(rec.NumCols()); col++ {
			cells[col] = cellString(rec.Column(col), row)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}

func cellString(col arrow.Array, row int) string {
	if col.IsNull(row) {
		return "NULL"
	}
	return col.ValueStr(row)
}
