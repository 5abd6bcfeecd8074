package singlestore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/encoding"
	"github.com/ajitpratap0/memsink/pkg/testutil"
)

// StoreSuite runs the writer against a live cluster named by
// MEMSINK_TEST_ENDPOINT.
type StoreSuite struct {
	testutil.IntegrationTestSuite
	connector *Connector
	tables    *TableManager
	metadata  string
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.IntegrationTestSuite.SetupSuite()

	c, err := NewConnector(s.Connection(), s.Logger())
	s.Require().NoError(err)
	s.Require().NoError(c.Ping(s.Context()))
	s.connector = c

	s.metadata = s.UniqueName("markers")
	s.tables = NewTableManager(c.DDL(), s.metadata, s.Logger())
	s.Require().NoError(s.tables.EnsureMetadataTable(s.Context()))
}

func (s *StoreSuite) TearDownSuite() {
	if s.connector != nil {
		_, _ = s.connector.DDL().ExecContext(s.Context(), "DROP TABLE IF EXISTS "+quoteIdent(s.metadata))
		_ = s.connector.Close()
	}
	s.IntegrationTestSuite.TearDownSuite()
}

func (s *StoreSuite) writer(compression string) *Writer {
	cfg := config.NewSinkConfig().Load
	cfg.Compression = compression
	cfg.MetadataTable = s.metadata
	cfg.AutoCreateTables = true

	w, err := NewWriter(cfg, s.connector, s.tables, encoding.NewTextEncoder(), s.Logger())
	s.Require().NoError(err)
	return w
}

func (s *StoreSuite) count(table string) int {
	var n int
	err := s.connector.DDL().QueryRowContext(s.Context(), "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *StoreSuite) TestExactlyOnce() {
	for _, alg := range []string{"none", "gzip", "lz4"} {
		table := s.UniqueName("events_" + alg)
		w := s.writer(alg)
		batch := testutil.Batch(s.T(), table, 0, 100, testutil.Rows(5000, 64)...)

		outcome, err := w.Write(s.Context(), batch)
		s.Require().NoError(err)
		s.Equal(core.OutcomeCommitted, outcome)

		outcome, err = w.Write(s.Context(), batch)
		s.Require().NoError(err)
		s.Equal(core.OutcomeSkipped, outcome)

		s.Equal(5000, s.count(table), fmt.Sprintf("compression %s", alg))

		var count int
		err = s.connector.DDL().QueryRowContext(s.Context(),
			"SELECT `count` FROM "+quoteIdent(s.metadata)+" WHERE id = ?", batch.Identity()).Scan(&count)
		s.Require().NoError(err)
		s.Equal(5000, count)

		_, _ = s.connector.DDL().ExecContext(s.Context(), "DROP TABLE IF EXISTS "+quoteIdent(table))
	}
}

func (s *StoreSuite) TestReferenceTableDetection() {
	table := s.UniqueName("ref")
	_, err := s.connector.DDL().ExecContext(s.Context(),
		"CREATE REFERENCE TABLE "+quoteIdent(table)+" (`data` TEXT)")
	s.Require().NoError(err)
	defer s.connector.DDL().ExecContext(s.Context(), "DROP TABLE IF EXISTS "+quoteIdent(table))

	ref, err := s.tables.IsReferenceTable(s.Context(), table)
	s.Require().NoError(err)
	s.True(ref)

	ref, err = s.tables.IsReferenceTable(s.Context(), s.UniqueName("missing"))
	s.Require().NoError(err)
	s.False(ref)
}
