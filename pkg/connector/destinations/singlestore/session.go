package singlestore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"io"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/memsink/pkg/connector/core"
)

// Reader handlers are registered under the bare file name; the driver strips
// readerPrefix from the statement before the lookup.
var (
	registerReader   = mysql.RegisterReaderHandler
	deregisterReader = mysql.DeregisterReaderHandler
)

// sqlSession is a dedicated connection holding one open transaction.
type sqlSession struct {
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

func openSession(ctx context.Context, db *sql.DB) (*sqlSession, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, storeError(err, "failed to acquire connection")
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, storeError(err, "failed to begin transaction")
	}
	return &sqlSession{conn: conn, tx: tx}, nil
}

func (s *sqlSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadFrom registers r under the load file name for the duration of the
// statement. The driver reads r until io.EOF or an error.
func (s *sqlSession) LoadFrom(ctx context.Context, spec core.LoadSpec, r io.Reader) (int64, error) {
	// Hide any WriterTo/Close methods so the driver only reads.
	registerReader(spec.FileName, func() io.Reader {
		return struct{ io.Reader }{r}
	})
	defer deregisterReader(spec.FileName)

	return s.Exec(ctx, loadStatement(spec))
}

func (s *sqlSession) Commit(_ context.Context) error {
	s.done = true
	return s.tx.Commit()
}

func (s *sqlSession) Rollback(_ context.Context) error {
	s.done = true
	if err := s.tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Close rolls back an unfinished transaction and returns the connection to
// the pool.
func (s *sqlSession) Close() error {
	if !s.done {
		_ = s.Rollback(context.Background())
	}
	return s.conn.Close()
}
