package schema

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
}

func TestNames(t *testing.T) {
	got := Names(testSchema())
	want := []string{"id", "name"}
	if len(got) != len(want) {
		t.Fatalf("Names: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasColumn(t *testing.T) {
	s := testSchema()
	if !HasColumn(s, "id") {
		t.Error("HasColumn(id): got false, want true")
	}
	if HasColumn(s, "missing") {
		t.Error("HasColumn(missing): got true, want false")
	}
}

func TestNamespace(t *testing.T) {
	ns := Namespace(testSchema(), "orders")
	want := []string{"orders.id", "orders.name"}
	got := Names(ns)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Namespace field %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct {
		in        string
		wantTable string
		wantCol   string
		wantOK    bool
	}{
		{"orders.id", "orders", "id", true},
		{"id", "", "id", false},
		{"a.b.c", "a.b", "c", true},
	}
	for _, tt := range tests {
		table, col, ok := SplitQualified(tt.in)
		if table != tt.wantTable || col != tt.wantCol || ok != tt.wantOK {
			t.Errorf("SplitQualified(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, table, col, ok, tt.wantTable, tt.wantCol, tt.wantOK)
		}
	}
}
