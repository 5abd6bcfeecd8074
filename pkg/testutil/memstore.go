package testutil

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/memsink/pkg/compression"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// loadChunk is how much a MemStore load statement reads per call.
const loadChunk = 32 * 1024

// MemStore is an in-memory stand-in for the store. It implements the session
// factory and table manager used by the batch writer with the transactional
// behavior that exactly-once delivery depends on: staged rows and markers
// become visible only on commit, and a second marker with the same id fails
// with a duplicate key error.
type MemStore struct {
	mu sync.Mutex

	rows      map[string][]string
	markers   map[string]int
	reference map[string]bool
	schemas   map[string]*models.Schema
	opened    []core.EndpointClass
	loads     []core.LoadSpec
	commits   int
	rollbacks int

	loadErr     error
	commitErr   error
	returnEarly bool
	readDelay   time.Duration
}

var (
	_ core.SessionFactory = (*MemStore)(nil)
	_ core.TableManager   = (*MemStore)(nil)
	_ core.MarkerReader   = (*MemStore)(nil)
)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		rows:      make(map[string][]string),
		markers:   make(map[string]int),
		reference: make(map[string]bool),
		schemas:   make(map[string]*models.Schema),
	}
}

// FailLoad makes every load statement fail with err after reading one chunk.
func (m *MemStore) FailLoad(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// FailCommit makes every commit fail with err.
func (m *MemStore) FailCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// ReturnEarly makes load statements report success after reading one chunk.
func (m *MemStore) ReturnEarly(early bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnEarly = early
}

// SetReadDelay slows every read of a load statement by d.
func (m *MemStore) SetReadDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDelay = d
}

// SetReference marks table as a reference table.
func (m *MemStore) SetReference(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reference[table] = true
}

// Rows returns the committed rows of table in load order.
func (m *MemStore) Rows(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rows[table]...)
}

// Marker returns the committed count for a batch identity.
func (m *MemStore) Marker(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.markers[id]
	return n, ok
}

// MarkerCount implements core.MarkerReader.
func (m *MemStore) MarkerCount(_ context.Context, identity string) (int, bool, error) {
	n, ok := m.Marker(identity)
	return n, ok, nil
}

// Markers returns the committed batch identities, sorted.
func (m *MemStore) Markers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.markers))
	for id := range m.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Opened returns the endpoint class of every session opened so far.
func (m *MemStore) Opened() []core.EndpointClass {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.EndpointClass(nil), m.opened...)
}

// Loads returns every load statement issued, committed or not.
func (m *MemStore) Loads() []core.LoadSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.LoadSpec(nil), m.loads...)
}

// Schema returns the schema a table was created with.
func (m *MemStore) Schema(table string) *models.Schema {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemas[table]
}

// Commits returns the number of committed transactions.
func (m *MemStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns the number of rolled back transactions.
func (m *MemStore) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// Open starts a transaction.
func (m *MemStore) Open(ctx context.Context, class core.EndpointClass) (core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, class)
	return &memSession{
		store:   m,
		rows:    make(map[string][]string),
		markers: make(map[string]int),
	}, nil
}

// EnsureTable records the schema of table.
func (m *MemStore) EnsureTable(_ context.Context, table string, schema *models.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[table]; !ok {
		m.schemas[table] = schema
	}
	return nil
}

// IsReferenceTable reports tables marked with SetReference.
func (m *MemStore) IsReferenceTable(_ context.Context, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reference[table], nil
}

type memSession struct {
	store   *MemStore
	rows    map[string][]string
	markers map[string]int
	done    bool
}

// Exec accepts marker inserts; other statements are no-ops.
func (s *memSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !strings.HasPrefix(query, "INSERT INTO") {
		return 0, nil
	}
	if len(args) != 2 {
		return 0, fmt.Errorf("marker insert expects 2 arguments, got %d", len(args))
	}
	id := fmt.Sprint(args[0])
	count, ok := args[1].(int)
	if !ok {
		return 0, fmt.Errorf("marker count must be int, got %T", args[1])
	}

	s.store.mu.Lock()
	_, committed := s.store.markers[id]
	s.store.mu.Unlock()

	if _, staged := s.markers[id]; committed || staged {
		return 0, &mysql.MySQLError{
			Number:  1062,
			Message: fmt.Sprintf("Duplicate entry '%s' for key 'PRIMARY'", id),
		}
	}
	s.markers[id] = count
	return 1, nil
}

// LoadFrom decompresses r according to the file extension and stages one
// row per line.
func (s *memSession) LoadFrom(ctx context.Context, spec core.LoadSpec, r io.Reader) (int64, error) {
	s.store.mu.Lock()
	s.store.loads = append(s.store.loads, spec)
	loadErr, early, delay := s.store.loadErr, s.store.returnEarly, s.store.readDelay
	s.store.mu.Unlock()

	if loadErr != nil || early {
		if _, err := r.Read(make([]byte, loadChunk)); err != nil && err != io.EOF {
			return 0, err
		}
		return 0, loadErr
	}

	algorithm, err := compression.FromExtension(path.Ext(spec.FileName))
	if err != nil {
		return 0, err
	}
	zr, err := compression.NewReader(algorithm, &slowReader{ctx: ctx, r: r, delay: delay})
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return 0, err
	}
	// the decompressor may stop at its trailer; the driver reads to EOF
	if _, err := io.Copy(io.Discard, r); err != nil {
		return 0, err
	}

	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return 0, nil
	}
	lines := strings.Split(text, "\n")
	s.rows[spec.Table] = append(s.rows[spec.Table], lines...)
	return int64(len(lines)), nil
}

func (s *memSession) Commit(_ context.Context) error {
	if s.done {
		return fmt.Errorf("transaction already finished")
	}
	s.done = true

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.commitErr != nil {
		s.store.rollbacks++
		return s.store.commitErr
	}
	for id := range s.markers {
		if _, ok := s.store.markers[id]; ok {
			s.store.rollbacks++
			return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		}
	}
	for id, n := range s.markers {
		s.store.markers[id] = n
	}
	for table, rows := range s.rows {
		s.store.rows[table] = append(s.store.rows[table], rows...)
	}
	s.store.commits++
	return nil
}

func (s *memSession) Rollback(_ context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	s.store.mu.Lock()
	s.store.rollbacks++
	s.store.mu.Unlock()
	return nil
}

func (s *memSession) Close() error {
	return s.Rollback(context.Background())
}

type slowReader struct {
	ctx   context.Context
	r     io.Reader
	delay time.Duration
}

func (s *slowReader) Read(p []byte) (int, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}
	if len(p) > loadChunk {
		p = p[:loadChunk]
	}
	return s.r.Read(p)
}
