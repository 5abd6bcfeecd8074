package singlestore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"sync"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// TableManager creates target tables on the DDL endpoint and remembers
// which tables are reference tables. Both answers are cached per table.
type TableManager struct {
	db            *sql.DB
	metadataTable string
	logger        *zap.Logger

	mu        sync.Mutex
	ensured   map[string]bool
	reference map[string]bool
}

var (
	_ core.TableManager = (*TableManager)(nil)
	_ core.MarkerReader = (*TableManager)(nil)
)

// NewTableManager creates a table manager issuing DDL through db.
func NewTableManager(db *sql.DB, metadataTable string, logger *zap.Logger) *TableManager {
	return &TableManager{
		db:            db,
		metadataTable: metadataTable,
		logger:        logger.With(zap.String("component", "table_manager")),
		ensured:       make(map[string]bool),
		reference:     make(map[string]bool),
	}
}

// EnsureMetadataTable creates the marker table if it does not exist.
func (m *TableManager) EnsureMetadataTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMetadataTable(m.metadataTable)); err != nil {
		return annotate(storeError(err, "failed to create metadata table"), m.metadataTable, "")
	}
	m.logger.Info("metadata table ready", zap.String("table", m.metadataTable))
	return nil
}

// EnsureTable creates table from schema unless it was ensured before.
func (m *TableManager) EnsureTable(ctx context.Context, table string, schema *models.Schema) error {
	m.mu.Lock()
	done := m.ensured[table]
	m.mu.Unlock()
	if done {
		return nil
	}

	if schema == nil || len(schema.Fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot create table without columns").
			WithDetail(errors.DetailTable, table)
	}

	if _, err := m.db.ExecContext(ctx, createTable(table, schema)); err != nil {
		return annotate(storeError(err, "failed to create table"), table, "")
	}

	m.mu.Lock()
	m.ensured[table] = true
	m.mu.Unlock()

	m.logger.Debug("table ready", zap.String("table", table), zap.Int("columns", len(schema.Fields)))
	return nil
}

// IsReferenceTable reports whether table is replicated to every node. Writes
// to reference tables must go through the DDL endpoint. A missing table is
// not a reference table.
func (m *TableManager) IsReferenceTable(ctx context.Context, table string) (bool, error) {
	m.mu.Lock()
	ref, ok := m.reference[table]
	m.mu.Unlock()
	if ok {
		return ref, nil
	}

	var name, ddl string
	err := m.db.QueryRowContext(ctx, showCreateTable(table)).Scan(&name, &ddl)
	if err != nil {
		if n, ok := errors.StoreErrorNumber(err); ok && n == gomysql.ER_NO_SUCH_TABLE {
			return false, nil
		}
		return false, annotate(storeError(err, "failed to inspect table"), table, "")
	}

	ref = strings.Contains(strings.ToUpper(ddl), "REFERENCE TABLE")

	m.mu.Lock()
	m.reference[table] = ref
	m.mu.Unlock()

	return ref, nil
}

// MarkerCount reads the committed marker for identity.
func (m *TableManager) MarkerCount(ctx context.Context, identity string) (int, bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, markerSelect(m.metadataTable), identity).Scan(&count)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, annotate(storeError(err, "failed to read batch marker"), m.metadataTable, identity)
	}
	return count, true, nil
}
