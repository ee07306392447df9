// Package schema provides small helpers over arrow.Schema: listing field
// names, probing for a column, namespacing field names, and splitting
// qualified identifiers.
package schema

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Names returns the ordered field names of schema.
func Names(s *arrow.Schema) []string {
	fields := s.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// HasColumn reports whether schema has a field named name.
func HasColumn(s *arrow.Schema, name string) bool {
	return len(s.FieldIndices(name)) > 0
}

// Namespace returns a schema with every field renamed "table.field".
func Namespace(s *arrow.Schema, table string) *arrow.Schema {
	fields := s.Fields()
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		f.Name = table + "." + f.Name
		out[i] = f
	}
	return arrow.NewSchema(out, nil)
}

// SplitQualified splits a possibly-dotted identifier "table.column" into
// its table and column parts. ok is false when the identifier carries no
// dot.
func SplitQualified(identifier string) (table, column string, ok bool) {
	idx := strings.LastIndexByte(identifier, '.')
	if idx < 0 {
		return "", identifier, false
	}
	return identifier[:idx], identifier[idx+1:], true
}
