// Package testutil provides testing utilities for memsink
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/memsink/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Records builds consecutive records of one topic-partition starting at
// offset, one per value.
func Records(topic string, partition int32, offset int64, values ...string) []*models.Record {
	records := make([]*models.Record, len(values))
	for i, v := range values {
		records[i] = &models.Record{
			Topic:     topic,
			Partition: partition,
			Offset:    offset + int64(i),
			Value:     []byte(v),
			Timestamp: time.Unix(1700000000, 0).UTC(),
		}
	}
	return records
}

// Batch builds a batch from values, failing the test on error.
func Batch(t testing.TB, topic string, partition int32, offset int64, values ...string) *models.Batch {
	t.Helper()
	batch, err := models.NewBatch(Records(topic, partition, offset, values...))
	require.NoError(t, err)
	return batch
}

// Rows returns n distinct values of exactly width bytes each. Values contain
// no characters that need escaping.
func Rows(n, width int) []string {
	rows := make([]string, n)
	for i := range rows {
		prefix := fmt.Sprintf("row-%08d-", i)
		if len(prefix) >= width {
			rows[i] = prefix[:width]
			continue
		}
		rows[i] = prefix + strings.Repeat("x", width-len(prefix))
	}
	return rows
}
