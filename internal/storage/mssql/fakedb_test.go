package mssql

import (
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

//
// A tiny database/sql driver standing in for SQL Server. Every statement is
// recorded; queries are answered by a per-test handler. Bulk copy statements
// (INSERTBULK ...) buffer their rows until the argument-less flush Exec, the
// way go-mssqldb does.
//

const fakeDriverName = "mssql2pg-fake"

func init() { sql.Register(fakeDriverName, fakeDriver{}) }

type result struct {
	cols []string
	rows [][]driver.Value
	err  error
}

type execCall struct {
	q    string
	args []driver.Value
}

type fakeDB struct {
	mu        sync.Mutex
	handler   func(q string, args []driver.Value) result
	execs     []execCall
	queries   []execCall
	bulk      map[string][][]driver.Value
	commits   int
	rollbacks int
}

func (f *fakeDB) answer(q string, args []driver.Value) result {
	if f.handler == nil {
		return result{}
	}
	return f.handler(q, args)
}

// bulkRows returns the rows copied into table.
func (f *fakeDB) bulkRows(table string) [][]driver.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	for q, rows := range f.bulk {
		if strings.Contains(q, `"`+table+`"`) {
			return rows
		}
	}
	return nil
}

func (f *fakeDB) execsMatching(prefix string) []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execCall
	for _, e := range f.execs {
		if strings.HasPrefix(e.q, prefix) {
			out = append(out, e)
		}
	}
	return out
}

var fakes sync.Map // dsn -> *fakeDB

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	v, ok := fakes.Load(name)
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &fakeConn{db: v.(*fakeDB)}, nil
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(q string) (driver.Stmt, error) { return &fakeStmt{db: c.db, q: q}, nil }
func (c *fakeConn) Close() error                          { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)             { return &fakeTx{db: c.db}, nil }

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Commit() error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type fakeStmt struct {
	db      *fakeDB
	q       string
	pending [][]driver.Value
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	if strings.HasPrefix(s.q, "INSERTBULK") {
		if len(args) > 0 {
			s.pending = append(s.pending, append([]driver.Value(nil), args...))
			return driver.RowsAffected(0), nil
		}
		if res := s.db.answer(s.q, nil); res.err != nil {
			return nil, res.err
		}
		s.db.mu.Lock()
		if s.db.bulk == nil {
			s.db.bulk = map[string][][]driver.Value{}
		}
		s.db.bulk[s.q] = append(s.db.bulk[s.q], s.pending...)
		s.db.mu.Unlock()
		n := len(s.pending)
		s.pending = nil
		return driver.RowsAffected(n), nil
	}

	s.db.mu.Lock()
	s.db.execs = append(s.db.execs, execCall{s.q, args})
	s.db.mu.Unlock()
	if res := s.db.answer(s.q, args); res.err != nil {
		return nil, res.err
	}
	return driver.RowsAffected(0), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.db.mu.Lock()
	s.db.queries = append(s.db.queries, execCall{s.q, args})
	s.db.mu.Unlock()
	res := s.db.answer(s.q, args)
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{cols: res.cols, rows: res.rows}, nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

// newFakeStore opens a Store on a fresh fake database private to t.
func newFakeStore(t *testing.T, handler func(q string, args []driver.Value) result) (*Store, *fakeDB) {
	t.Helper()
	fdb := &fakeDB{handler: handler}
	fakes.Store(t.Name(), fdb)
	db, err := sql.Open(fakeDriverName, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
		fakes.Delete(t.Name())
	})
	return New(db), fdb
}

// single answers a one-column, one-row query.
func single(col string, v driver.Value) result {
	return result{cols: []string{col}, rows: [][]driver.Value{{v}}}
}
