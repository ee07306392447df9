package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Paginate applies OFFSET then LIMIT across the child's batch stream,
// trimming or dropping batches as needed and stopping the child early once
// the limit is satisfied.
type Paginate struct {
	ctx    context.Context
	child  Operator
	offset int64
	limit  int64 // -1 means unbounded

	skipped int64
	emitted int64
	done    bool

	cur arrow.Record
	err error
}

// NewPaginate builds a Paginate operator. limit < 0 means no LIMIT clause.
func NewPaginate(ctx context.Context, child Operator, offset, limit int64) *Paginate {
	return &Paginate{ctx: ctxOrBackground(ctx), child: child, offset: offset, limit: limit}
}

func (p *Paginate) Schema() *arrow.Schema { return p.child.Schema() }

func (p *Paginate) Next() bool {
	if p.err != nil || p.done {
		return false
	}
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	if p.limit >= 0 && p.emitted >= p.limit {
		p.done = true
		return false
	}

	for {
		if !p.child.Next() {
			p.err = p.child.Err()
			p.done = true
			return false
		}
		batch := p.child.Batch()
		rows := batch.NumRows()

		skip := int64(0)
		if p.skipped < p.offset {
			skip = p.offset - p.skipped
			if skip > rows {
				skip = rows
			}
			p.skipped += skip
		}
		remaining := rows - skip
		if remaining <= 0 {
			continue
		}

		take := remaining
		if p.limit >= 0 {
			allowed := p.limit - p.emitted
			if take > allowed {
				take = allowed
			}
		}
		if take <= 0 {
			p.done = true
			return false
		}

		p.cur = batch.NewSlice(skip, skip+take)
		p.emitted += take
		if p.limit >= 0 && p.emitted >= p.limit {
			p.done = true
		}
		return true
	}
}

func (p *Paginate) Batch() arrow.Record { return p.cur }
func (p *Paginate) Err() error          { return p.err }

func (p *Paginate) Close() error {
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	return p.child.Close()
}
