// Package storagetest provides hand-rolled fakes for the storage.Conn
// surface so worker tests run without a live column store.
package storagetest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// FakeConn records executed statements and prepared batches, and serves
// canned query results through QueryFunc.
type FakeConn struct {
	mu sync.Mutex

	// QueryFunc returns the rows for a query; nil means no rows.
	QueryFunc func(query string) ([][]any, error)
	// ExecErr fails every Exec call when set.
	ExecErr error
	// SendErr fails Batch.Send when set.
	SendErr error

	ExecStatements []string
	Batches        []*FakeBatch
}

var _ storage.Conn = (*FakeConn)(nil)

func (c *FakeConn) Query(_ context.Context, query string, _ ...any) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QueryFunc == nil {
		return &fakeRows{}, nil
	}
	rows, err := c.QueryFunc(query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{rows: rows}, nil
}

func (c *FakeConn) Exec(_ context.Context, query string, _ ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ExecErr != nil {
		return c.ExecErr
	}
	c.ExecStatements = append(c.ExecStatements, query)
	return nil
}

func (c *FakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := &FakeBatch{Query: query, sendErr: c.SendErr}
	c.Batches = append(c.Batches, batch)
	return batch, nil
}

func (c *FakeConn) Ping(context.Context) error { return nil }
func (c *FakeConn) Close() error               { return nil }

// SentRows returns all rows appended to successfully sent batches.
func (c *FakeConn) SentRows() [][]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]any
	for _, b := range c.Batches {
		if b.Sent() {
			out = append(out, b.AppendedRows()...)
		}
	}
	return out
}

// BatchCount returns how many batches have been prepared.
func (c *FakeConn) BatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Batches)
}

// Statements returns a copy of the executed statements.
func (c *FakeConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ExecStatements))
	copy(out, c.ExecStatements)
	return out
}

// FakeBatch captures appended rows. Unused driver.Batch methods panic via
// the embedded nil interface.
type FakeBatch struct {
	driver.Batch

	Query string

	mu      sync.Mutex
	rows    [][]any
	sent    bool
	sendErr error
}

func (b *FakeBatch) Append(v ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := make([]any, len(v))
	copy(row, v)
	b.rows = append(b.rows, row)
	return nil
}

func (b *FakeBatch) Send() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = true
	return nil
}

func (b *FakeBatch) Abort() error { return nil }

// Sent reports whether Send completed successfully.
func (b *FakeBatch) Sent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// AppendedRows returns the appended rows.
func (b *FakeBatch) AppendedRows() [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]any, len(b.rows))
	copy(out, b.rows)
	return out
}

// fakeRows serves canned result rows. Unused driver.Rows methods panic via
// the embedded nil interface.
type fakeRows struct {
	driver.Rows

	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.pos >= len(r.rows) {
		return fmt.Errorf("scan past end of rows")
	}
	row := r.rows[r.pos]
	r.pos++

	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		sv := reflect.ValueOf(row[i])
		if !sv.IsValid() {
			continue
		}
		if !sv.Type().ConvertibleTo(dv.Elem().Type()) {
			return fmt.Errorf("scan: cannot convert %s to %s", sv.Type(), dv.Elem().Type())
		}
		dv.Elem().Set(sv.Convert(dv.Elem().Type()))
	}
	return nil
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }
