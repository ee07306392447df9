// Package scan implements the three scan variants the planner opens tables
// with: CSV, Parquet, and in-memory record batches. Each exposes a batch
// generator honoring a configurable target batch size, and a schema probe
// that returns column names/types without reading rows.
package scan

import (
	"context"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"batchql/internal/errgo"
)

// DefaultBatchSize is used when a scan is built without an explicit target
// batch size.
const DefaultBatchSize = 1024

// CSV scans a CSV file in chunks of a configurable block size.
type CSV struct {
	path      string
	batchSize int
	mem       memory.Allocator

	f       *os.File
	reader  *csv.Reader
	schema  *arrow.Schema
	cur     arrow.Record
	err     error
	started bool
}

// NewCSV opens path lazily: the file is only opened on the first Next or
// PollSchema call.
func NewCSV(path string, batchSize int) *CSV {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CSV{path: path, batchSize: batchSize, mem: memory.DefaultAllocator}
}

// PollSchema returns the column names and types without consuming rows.
func (c *CSV) PollSchema() (*arrow.Schema, error) {
	if c.schema != nil {
		return c.schema, nil
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c.schema, nil
}

func (c *CSV) open() error {
	if c.reader != nil {
		return nil
	}
	f, err := os.Open(c.path)
	if err != nil {
		return errgo.Wrap(errgo.KindRuntime, "opening CSV "+c.path, err)
	}
	c.f = f
	c.reader = csv.NewInferringReader(f,
		csv.WithComma(','),
		csv.WithHeader(true),
		csv.WithChunk(c.batchSize),
		csv.WithAllocator(c.mem),
	)
	c.schema = c.reader.Schema()
	return nil
}

func (c *CSV) Schema() *arrow.Schema { return c.schema }

func (c *CSV) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.open(); err != nil {
		c.err = err
		return false
	}
	if c.cur != nil {
		c.cur.Release()
		c.cur = nil
	}
	if !c.reader.Next() {
		if err := c.reader.Err(); err != nil {
			c.err = errgo.Wrap(errgo.KindRuntime, "reading CSV "+c.path, err)
		}
		return false
	}
	c.cur = c.reader.Record()
	c.cur.Retain()
	return true
}

func (c *CSV) Batch() arrow.Record { return c.cur }
func (c *CSV) Err() error          { return c.err }

func (c *CSV) Close() error {
	if c.cur != nil {
		c.cur.Release()
		c.cur = nil
	}
	if c.reader != nil {
		c.reader.Release()
		c.reader = nil
	}
	if c.f != nil {
		err := c.f.Close()
		c.f = nil
		return err
	}
	return nil
}

// Parquet scans a Parquet file, honoring a target row-group batch size.
type Parquet struct {
	path      string
	batchSize int
	mem       memory.Allocator
	ctx       context.Context

	f       *os.File
	rdr     *pqarrow.FileReader
	recRdr  pqarrow.RecordReader
	schema  *arrow.Schema
	cur     arrow.Record
	err     error
	opened  bool
}

// NewParquet builds a Parquet scan. batchSize controls the target
// row-group batch size requested from the reader.
func NewParquet(ctx context.Context, path string, batchSize int) *Parquet {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Parquet{path: path, batchSize: batchSize, mem: memory.DefaultAllocator, ctx: ctxOrBackground(ctx)}
}

func (p *Parquet) open() error {
	if p.opened {
		return nil
	}
	p.opened = true
	f, err := os.Open(p.path)
	if err != nil {
		return errgo.Wrap(errgo.KindRuntime, "opening parquet "+p.path, err)
	}
	p.f = f

	rdr, err := pqarrow.OpenFile(f, p.mem, pqarrow.WithBatchSize(int64(p.batchSize)))
	if err != nil {
		f.Close()
		return errgo.Wrap(errgo.KindRuntime, "reading parquet footer "+p.path, err)
	}
	p.rdr = rdr

	schema, err := rdr.Schema()
	if err != nil {
		return errgo.Wrap(errgo.KindRuntime, "reading parquet schema "+p.path, err)
	}
	p.schema = schema

	recRdr, err := rdr.GetRecordReader(p.ctx, nil, nil)
	if err != nil {
		return errgo.Wrap(errgo.KindRuntime, "opening parquet record reader "+p.path, err)
	}
	p.recRdr = recRdr
	return nil
}

func (p *Parquet) PollSchema() (*arrow.Schema, error) {
	if p.schema != nil {
		return p.schema, nil
	}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p.schema, nil
}

func (p *Parquet) Schema() *arrow.Schema { return p.schema }

func (p *Parquet) Next() bool {
	if p.err != nil {
		return false
	}
	if err := p.open(); err != nil {
		p.err = err
		return false
	}
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	rec, err := p.recRdr.Read()
	if err != nil {
		if err.Error() != "EOF" {
			p.err = errgo.Wrap(errgo.KindRuntime, "reading parquet "+p.path, err)
		}
		return false
	}
	rec.Retain()
	p.cur = rec
	return true
}

func (p *Parquet) Batch() arrow.Record { return p.cur }
func (p *Parquet) Err() error          { return p.err }

func (p *Parquet) Close() error {
	if p.cur != nil {
		p.cur.Release()
		p.cur = nil
	}
	if p.recRdr != nil {
		p.recRdr.Release()
		p.recRdr = nil
	}
	if p.f != nil {
		err := p.f.Close()
		p.f = nil
		return err
	}
	return nil
}

// Memory scans a fixed set of pre-built in-memory batches sharing a single
// schema. The whole content is emitted as-is: one (or several) batches.
type Memory struct {
	schema  *arrow.Schema
	batches []arrow.Record
	idx     int
	cur     arrow.Record
	err     error
}

// NewMemory builds an in-memory scan over batches, which must share schema.
func NewMemory(schema *arrow.Schema, batches []arrow.Record) *Memory {
	for _, b := range batches {
		b.Retain()
	}
	return &Memory{schema: schema, batches: batches}
}

// NewMemoryFromTable splits an arrow Table's chunks into per-chunk batches.
func NewMemoryFromTable(tbl arrow.Table) *Memory {
	schema := tbl.Schema()
	tr := array.NewTableReader(tbl, -1)
	var batches []arrow.Record
	for tr.Next() {
		rec := tr.Record()
		rec.Retain()
		batches = append(batches, rec)
	}
	tr.Release()
	return &Memory{schema: schema, batches: batches}
}

func (m *Memory) PollSchema() (*arrow.Schema, error) { return m.schema, nil }
func (m *Memory) Schema() *arrow.Schema              { return m.schema }

func (m *Memory) Next() bool {
	if m.cur != nil {
		m.cur.Release()
		m.cur = nil
	}
	if m.idx >= len(m.batches) {
		return false
	}
	m.cur = m.batches[m.idx]
	m.cur.Retain()
	m.idx++
	return true
}

func (m *Memory) Batch() arrow.Record { return m.cur }
func (m *Memory) Err() error          { return m.err }

func (m *Memory) Close() error {
	if m.cur != nil {
		m.cur.Release()
		m.cur = nil
	}
	for _, b := range m.batches {
		b.Release()
	}
	m.batches = nil
	return nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
