// Package operator implements the physical, pipelined operator tree:
// filter, project, paginate, in-memory sort, external sort, aggregate and
// inner join over arrow.Record batches. Every operator is a single-shot,
// pull-based iterator; the caller drives execution by calling Next until it
// returns false, then Close to release any scoped resources (temp files,
// mmaps, open readers). Close must be safe to call early and more than
// once.
package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Operator is a node in the physical query plan. It holds exclusive
// ownership of the subtree beneath it; a node's lifetime is a single
// execution.
type Operator interface {
	// Next advances to the next batch. Returns false when the sequence is
	// exhausted or an error occurred (check Err in that case).
	Next() bool
	// Batch returns the batch produced by the most recent successful Next.
	Batch() arrow.Record
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases resources held by this operator and, transitively,
	// its children. Idempotent.
	Close() error
	// Schema returns this operator's output schema.
	Schema() *arrow.Schema
}

// ctxOrBackground returns ctx if non-nil, else context.Background(). Every
// constructor in this package accepts a context for the compute kernels it
// runs, since those are the engine's only "blocking" operations (the
// iteration protocol itself has no suspension points beyond the caller
// asking for the next batch, per the engine's cooperative scheduling
// model).
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
