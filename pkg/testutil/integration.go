package testutil

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/memsink/pkg/config"
)

// Environment variables that point integration tests at a live cluster.
const (
	EnvEndpoint = "MEMSINK_TEST_ENDPOINT"
	EnvDatabase = "MEMSINK_TEST_DATABASE"
	EnvUser     = "MEMSINK_TEST_USER"
	EnvPassword = "MEMSINK_TEST_PASSWORD"
)

// IntegrationTestSuite provides base functionality for tests against a live
// store. The suite is skipped unless EnvEndpoint is set.
type IntegrationTestSuite struct {
	suite.Suite
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	connection config.ConnectionConfig
	startTime  time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	IntegrationTest(s.T())

	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		s.T().Skipf("%s not set, skipping store integration tests", EnvEndpoint)
	}

	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
	s.logger = zaptest.NewLogger(s.T())

	s.connection = config.ConnectionConfig{
		DDLEndpoint:    endpoint,
		Database:       envOr(EnvDatabase, "memsink_test"),
		User:           envOr(EnvUser, "root"),
		Password:       os.Getenv(EnvPassword),
		ConnectTimeout: 10 * time.Second,
		MaxOpenConns:   4,
	}

	s.T().Logf("Integration test suite started against %s/%s", endpoint, s.connection.Database)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	if s.cancel != nil {
		s.cancel()
	}
	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Logger returns the suite logger
func (s *IntegrationTestSuite) Logger() *zap.Logger {
	return s.logger
}

// Connection returns the connection settings read from the environment
func (s *IntegrationTestSuite) Connection() config.ConnectionConfig {
	return s.connection
}

// UniqueName returns a table name that does not collide between runs.
func (s *IntegrationTestSuite) UniqueName(prefix string) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(s.T().Name())
	return fmt.Sprintf("%s_%s_%d", prefix, strings.ToLower(name), time.Now().UnixNano()%1e9)
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PerformanceTest provides utilities for performance testing
type PerformanceTest struct {
	t         testing.TB
	name      string
	threshold struct {
		minThroughput float64 // records/sec
		maxMemory     int64   // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t testing.TB, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(recordsPerSec float64) *PerformanceTest {
	p.threshold.minThroughput = recordsPerSec
	return p
}

// WithMemoryTarget sets the maximum heap growth allowed during the run
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn and checks the configured thresholds.
func (p *PerformanceTest) Run(fn func() (recordsProcessed int64, duration time.Duration)) {
	p.t.Helper()

	before := heapAlloc()
	records, duration := fn()
	after := heapAlloc()

	if duration <= 0 {
		duration = time.Nanosecond
	}
	throughput := float64(records) / duration.Seconds()
	memoryUsed := int64(after) - int64(before)

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Records: %d", records)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f records/sec", throughput)
	p.t.Logf("  Heap Growth: %s", formatBytes(memoryUsed))

	if p.threshold.minThroughput > 0 && throughput < p.threshold.minThroughput {
		p.t.Errorf("Throughput %.0f records/sec below target %.0f records/sec",
			throughput, p.threshold.minThroughput)
	}

	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Heap growth %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

func heapAlloc() uint64 {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
