// Package testutil provides a stub database/sql driver for postgres store
// tests. It models only the state(bucket, payload) table: upserts are staged
// per transaction and become visible on commit.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

var errStub = errors.New("stub failure")

// StubConn is a single shared connection holding the state table.
type StubConn struct {
	mu sync.Mutex

	// Buckets maps bucket name to its committed payload.
	Buckets    map[string][]byte
	Statements []string
	Commits    int
	Rollbacks  int

	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailQuery  bool
	FailCommit bool

	staged map[string][]byte
}

// NewStubDB registers a uniquely named driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Payload returns the committed payload of bucket.
func (c *StubConn) Payload(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Buckets[bucket]
	return p, ok
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the context methods.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepared statements unsupported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping: %w", errStub)
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin: %w", errStub)
	}
	c.mu.Lock()
	c.staged = make(map[string][]byte)
	c.mu.Unlock()
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. An upsert into state stages
// the (bucket, payload) pair; any other statement is recorded and ignored.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec: %w", errStub)
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "insert into state") {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: state upsert wants 2 args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("stub: bucket must be a string, got %T", args[0].Value)
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("stub: payload must be bytes, got %T", args[1].Value)
	}
	target := c.staged
	if target == nil {
		target = c.Buckets
	}
	target[bucket] = append([]byte(nil), payload...)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for selects over state.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if c.FailQuery {
		return nil, fmt.Errorf("query: %w", errStub)
	}
	if !strings.Contains(strings.ToLower(query), "from state") {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stubRows{}
	for _, name := range names {
		rows.rows = append(rows.rows, [2]driver.Value{name, c.Buckets[name]})
	}
	return rows, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCommit {
		c.staged = nil
		return fmt.Errorf("commit: %w", errStub)
	}
	for bucket, payload := range c.staged {
		c.Buckets[bucket] = payload
	}
	c.staged = nil
	c.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = nil
	c.Rollbacks++
	return nil
}

type stubRows struct {
	rows [][2]driver.Value
	next int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next][:])
	r.next++
	return nil
}
