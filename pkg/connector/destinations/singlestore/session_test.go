package singlestore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/testutil"
)

// scriptedStore is a database/sql driver that records statements and answers
// queries from a callback.
type scriptedStore struct {
	mu        sync.Mutex
	execs     []string
	queries   int
	commits   int
	rollbacks int
	answer    func(query string, args []driver.NamedValue) ([]string, [][]driver.Value, error)
}

func (s *scriptedStore) Connect(context.Context) (driver.Conn, error) { return &scriptedConn{s: s}, nil }
func (s *scriptedStore) Driver() driver.Driver                        { return scriptedDriver{s: s} }

func (s *scriptedStore) open(t *testing.T) *sql.DB {
	t.Helper()
	db := sql.OpenDB(s)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func (s *scriptedStore) snapshot() (execs []string, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...), s.commits, s.rollbacks
}

type scriptedDriver struct{ s *scriptedStore }

func (d scriptedDriver) Open(string) (driver.Conn, error) { return &scriptedConn{s: d.s}, nil }

type scriptedConn struct{ s *scriptedStore }

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) {
	return nil, stderrors.New("prepared statements are not supported")
}
func (c *scriptedConn) Close() error              { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error) { return scriptedTx{s: c.s}, nil }

func (c *scriptedConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.execs = append(c.s.execs, query)
	return driver.RowsAffected(1), nil
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.s.mu.Lock()
	c.s.queries++
	c.s.mu.Unlock()

	cols, rows, err := c.s.answer(query, args)
	if err != nil {
		return nil, err
	}
	return &scriptedRows{cols: cols, rows: rows}, nil
}

type scriptedTx struct{ s *scriptedStore }

func (tx scriptedTx) Commit() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.commits++
	return nil
}

func (tx scriptedTx) Rollback() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.rollbacks++
	return nil
}

type scriptedRows struct {
	cols []string
	rows [][]driver.Value
}

func (r *scriptedRows) Columns() []string { return r.cols }
func (r *scriptedRows) Close() error      { return nil }
func (r *scriptedRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func TestSQLSessionLoadFromRegistersStatementFile(t *testing.T) {
	var registered, deregistered string
	var handler func() io.Reader
	registerReader = func(name string, h func() io.Reader) {
		registered, handler = name, h
	}
	deregisterReader = func(name string) { deregistered = name }
	t.Cleanup(func() {
		registerReader = mysql.RegisterReaderHandler
		deregisterReader = mysql.DeregisterReaderHandler
	})

	store := &scriptedStore{}
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	session, err := openSession(ctx, store.open(t))
	require.NoError(t, err)
	defer session.Close()

	spec := core.LoadSpec{Table: "t", Columns: []string{"a"}, FileName: "5f0c.lz4"}
	rows, err := session.LoadFrom(ctx, spec, strings.NewReader("1\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	execs, _, _ := store.snapshot()
	require.Len(t, execs, 1)
	assert.Equal(t, loadStatement(spec), execs[0])
	assert.Contains(t, execs[0], "'"+readerPrefix+registered+"'")
	assert.Equal(t, spec.FileName, registered, "handler name carries no prefix")
	assert.Equal(t, registered, deregistered)

	r := handler()
	_, isWriterTo := r.(io.WriterTo)
	assert.False(t, isWriterTo, "driver sees a plain reader")
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))
}

func TestSQLSessionCloseRollsBackUnfinished(t *testing.T) {
	store := &scriptedStore{}
	db := store.open(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	session, err := openSession(ctx, db)
	require.NoError(t, err)
	_, err = session.Exec(ctx, markerInsert("meta"), "t-0-0", 1)
	require.NoError(t, err)
	require.NoError(t, session.Close())

	_, commits, rollbacks := store.snapshot()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)

	session, err = openSession(ctx, db)
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))
	require.NoError(t, session.Close())
	require.NoError(t, session.Rollback(ctx), "rollback after commit is a no-op")

	_, commits, rollbacks = store.snapshot()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestTableManagerIsReferenceTable(t *testing.T) {
	store := &scriptedStore{answer: func(query string, _ []driver.NamedValue) ([]string, [][]driver.Value, error) {
		cols := []string{"Table", "Create Table"}
		switch query {
		case showCreateTable("countries"):
			return cols, [][]driver.Value{{"countries", "CREATE REFERENCE TABLE `countries` (`code` CHAR(2))"}}, nil
		case showCreateTable("orders"):
			return cols, [][]driver.Value{{"orders", "CREATE TABLE `orders` (`id` BIGINT)"}}, nil
		case showCreateTable("missing"):
			return nil, nil, &mysql.MySQLError{Number: 1146, Message: "Table 'db.missing' doesn't exist"}
		default:
			return nil, nil, &mysql.MySQLError{Number: 1142, Message: "SELECT command denied"}
		}
	}}
	tables := NewTableManager(store.open(t), "meta", testutil.TestLogger(t))
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	ref, err := tables.IsReferenceTable(ctx, "countries")
	require.NoError(t, err)
	assert.True(t, ref)

	ref, err = tables.IsReferenceTable(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ref)

	ref, err = tables.IsReferenceTable(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ref)

	_, err = tables.IsReferenceTable(ctx, "secret")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	var typed *errors.Error
	require.True(t, errors.As(err, &typed))
	table, _ := typed.Detail(errors.DetailTable)
	assert.Equal(t, "secret", table)

	store.mu.Lock()
	before := store.queries
	store.mu.Unlock()
	_, err = tables.IsReferenceTable(ctx, "countries")
	require.NoError(t, err)
	store.mu.Lock()
	assert.Equal(t, before, store.queries, "answer is cached")
	store.mu.Unlock()
}

func TestTableManagerMarkerCount(t *testing.T) {
	store := &scriptedStore{answer: func(query string, args []driver.NamedValue) ([]string, [][]driver.Value, error) {
		if query != markerSelect("meta") {
			return nil, nil, stderrors.New("unexpected query " + query)
		}
		if args[0].Value == "t-0-0" {
			return []string{"count"}, [][]driver.Value{{int64(5)}}, nil
		}
		return []string{"count"}, nil, nil
	}}
	tables := NewTableManager(store.open(t), "meta", testutil.TestLogger(t))
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	n, ok, err := tables.MarkerCount(ctx, "t-0-0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, ok, err = tables.MarkerCount(ctx, "t-0-5")
	require.NoError(t, err)
	assert.False(t, ok)
}
