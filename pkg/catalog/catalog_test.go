package catalog

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func fieldsSchema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, n := range names {
		fields[i] = arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Int64}
	}
	return arrow.NewSchema(fields, nil)
}

func TestOpenedTablesRejectsReopen(t *testing.T) {
	ot := NewOpenedTables()
	if err := ot.Open("orders", fieldsSchema("id")); err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	if err := ot.Open("orders", fieldsSchema("id")); err == nil {
		t.Fatal("Open: expected an error reopening the same alias")
	}
}

func TestResolveUnqualifiedColumn(t *testing.T) {
	ot := NewOpenedTables()
	_ = ot.Open("orders", fieldsSchema("id", "total"))

	table, col, err := ot.Resolve("total")
	if err != nil {
		t.Fatalf("Resolve: unexpected error: %v", err)
	}
	if table != "orders" || col != "total" {
		t.Errorf("Resolve(total) = (%q, %q), want (orders, total)", table, col)
	}
}

func TestResolveAmbiguousColumn(t *testing.T) {
	ot := NewOpenedTables()
	_ = ot.Open("orders", fieldsSchema("id"))
	_ = ot.Open("customers", fieldsSchema("id"))

	if _, _, err := ot.Resolve("id"); err == nil {
		t.Fatal("Resolve: expected ambiguity error for a column on two opened tables")
	}
}

func TestResolveQualifiedColumn(t *testing.T) {
	ot := NewOpenedTables()
	_ = ot.Open("orders", fieldsSchema("id"))
	_ = ot.Open("customers", fieldsSchema("id"))

	table, col, err := ot.Resolve("customers.id")
	if err != nil {
		t.Fatalf("Resolve: unexpected error: %v", err)
	}
	if table != "customers" || col != "id" {
		t.Errorf("Resolve(customers.id) = (%q, %q), want (customers, id)", table, col)
	}
}

func TestCatalogRegisterIsCaseInsensitive(t *testing.T) {
	c := New()
	c.Register("Orders", Source{CSVPath: "orders.csv"})
	if _, ok := c.Lookup("orders"); !ok {
		t.Error("Lookup(orders): expected the Orders registration to match case-insensitively")
	}
}
