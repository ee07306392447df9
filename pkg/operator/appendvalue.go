package operator

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// appendValueFromArray copies the value at row from src into dst,
// preserving nulls. Used by the external-merge sort, which rebuilds
// output batches one row at a time off a heap of run cursors. Only the
// array kinds produced by the CSV/Parquet scans and the expression
// evaluator's literal/arithmetic/comparison kernels are handled; an
// unrecognized type is a planning bug, not a runtime condition to
// recover from.
func appendValueFromArray(dst array.Builder, src arrow.Array, row int) {
	if src.IsNull(row) {
		dst.AppendNull()
		return
	}
	switch s := src.(type) {
	case *array.Boolean:
		dst.(*array.BooleanBuilder).Append(s.Value(row))
	case *array.Int8:
		dst.(*array.Int8Builder).Append(s.Value(row))
	case *array.Int16:
		dst.(*array.Int16Builder).Append(s.Value(row))
	case *array.Int32:
		dst.(*array.Int32Builder).Append(s.Value(row))
	case *array.Int64:
		dst.(*array.Int64Builder).Append(s.Value(row))
	case *array.Uint8:
		dst.(*array.Uint8Builder).Append(s.Value(row))
	case *array.Uint16:
		dst.(*array.Uint16Builder).Append(s.Value(row))
	case *array.Uint32:
		dst.(*array.Uint32Builder).Append(s.Value(row))
	case *array.Uint64:
		dst.(*array.Uint64Builder).Append(s.Value(row))
	case *array.Float32:
		dst.(*array.Float32Builder).Append(s.Value(row))
	case *array.Float64:
		dst.(*array.Float64Builder).Append(s.Value(row))
	case *array.String:
		dst.(*array.StringBuilder).Append(s.Value(row))
	case *array.LargeString:
		dst.(*array.LargeStringBuilder).Append(s.Value(row))
	case *array.Binary:
		dst.(*array.BinaryBuilder).Append(s.Value(row))
	case *array.Date32:
		dst.(*array.Date32Builder).Append(s.Value(row))
	case *array.Date64:
		dst.(*array.Date64Builder).Append(s.Value(row))
	case *array.Timestamp:
		dst.(*array.TimestampBuilder).Append(s.Value(row))
	default:
		panic("appendValueFromArray: unsupported array type " + src.DataType().Name())
	}
}
