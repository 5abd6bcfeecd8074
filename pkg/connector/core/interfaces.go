// Package core defines the contracts between the batch writer and its
// collaborators: store sessions, table management and record encoding.
package core

import (
	"context"
	"io"

	"github.com/ajitpratap0/memsink/pkg/models"
)

// EndpointClass selects which group of store endpoints a session targets.
type EndpointClass string

const (
	// EndpointDDL is the master aggregator. Reference tables and schema
	// changes go here.
	EndpointDDL EndpointClass = "ddl"
	// EndpointDML is the pool of child aggregators used for sharded tables.
	EndpointDML EndpointClass = "dml"
)

// Outcome is the terminal state of a successful batch write.
type Outcome string

const (
	// OutcomeCommitted means the marker and the rows were committed together.
	OutcomeCommitted Outcome = "committed"
	// OutcomeSkipped means the batch had already been applied.
	OutcomeSkipped Outcome = "skipped"
)

// LoadSpec names the target of a streamed bulk load.
type LoadSpec struct {
	// Table receiving the rows.
	Table string
	// Columns in row order.
	Columns []string
	// FileName is the virtual file name. Its extension selects the
	// decompressor the store applies.
	FileName string
}

// Transaction represents a database transaction
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Session is one transactional connection owned by a single write call.
type Session interface {
	Transaction

	// Exec runs a statement inside the transaction and returns rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// LoadFrom issues the bulk-load statement for spec, reading the file
	// contents from r until EOF. It returns rows affected.
	LoadFrom(ctx context.Context, spec LoadSpec, r io.Reader) (int64, error)
	// Close releases the connection. An uncommitted transaction is rolled back.
	Close() error
}

// SessionFactory opens sessions against an endpoint class.
type SessionFactory interface {
	Open(ctx context.Context, class EndpointClass) (Session, error)
}

// TableManager prepares target tables and answers routing questions.
type TableManager interface {
	// EnsureTable creates table from schema if it does not exist. Idempotent.
	EnsureTable(ctx context.Context, table string, schema *models.Schema) error
	// IsReferenceTable reports whether table is replicated to every node,
	// which requires the DDL endpoint.
	IsReferenceTable(ctx context.Context, table string) (bool, error)
}

// MarkerReader looks up committed batch markers.
type MarkerReader interface {
	// MarkerCount returns the record count stored for identity, and false
	// when no marker was committed.
	MarkerCount(ctx context.Context, identity string) (int, bool, error)
}

// RecordEncoder turns records into load-file rows.
type RecordEncoder interface {
	// Name identifies the encoder in configuration.
	Name() string
	// Schema derives the column layout from a record.
	Schema(record *models.Record) (*models.Schema, error)
	// Encode appends the row for record, without a trailing delimiter, to dst.
	Encode(dst []byte, record *models.Record, schema *models.Schema) ([]byte, error)
}

// BatchWriter writes one batch exactly once.
type BatchWriter interface {
	Write(ctx context.Context, batch *models.Batch) (Outcome, error)
}
