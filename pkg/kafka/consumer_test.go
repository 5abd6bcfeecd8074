package kafka

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/models"
	"github.com/ajitpratap0/memsink/pkg/testutil"
)

type fakeSession struct {
	ctx context.Context

	mu     sync.Mutex
	marked map[string]int64
}

func newFakeSession(ctx context.Context) *fakeSession {
	return &fakeSession{ctx: ctx, marked: make(map[string]int64)}
}

func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{"t": {0}} }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[fmt.Sprintf("%s/%d", topic, partition)] = offset
}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, md string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, md)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) offset(topic string, partition int32) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marked[fmt.Sprintf("%s/%d", topic, partition)]
}

type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func newFakeClaim(topic string, partition int32) *fakeClaim {
	return &fakeClaim{topic: topic, partition: partition, messages: make(chan *sarama.ConsumerMessage, 1024)}
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func (c *fakeClaim) send(start int64, values ...string) {
	for i, v := range values {
		c.messages <- &sarama.ConsumerMessage{
			Topic:     c.topic,
			Partition: c.partition,
			Offset:    start + int64(i),
			Value:     []byte(v),
			Headers:   []*sarama.RecordHeader{{Key: []byte("source"), Value: []byte("test")}},
		}
	}
}

// recordingWriter commits batches into a MemStore-like log and can fail the
// first n attempts.
type recordingWriter struct {
	mu       sync.Mutex
	failures []error
	applied  map[string]int
	rows     []string
	attempts int
}

func newRecordingWriter(failures ...error) *recordingWriter {
	return &recordingWriter{failures: failures, applied: make(map[string]int)}
}

func (w *recordingWriter) Write(_ context.Context, batch *models.Batch) (core.Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if len(w.failures) > 0 {
		err := w.failures[0]
		w.failures = w.failures[1:]
		return "", err
	}
	if _, ok := w.applied[batch.Identity()]; ok {
		return core.OutcomeSkipped, nil
	}
	w.applied[batch.Identity()] = batch.Count()
	for _, r := range batch.Records() {
		w.rows = append(w.rows, string(r.Value))
	}
	return core.OutcomeCommitted, nil
}

func (w *recordingWriter) MarkerCount(_ context.Context, id string) (int, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.applied[id]
	return n, ok, nil
}

func (w *recordingWriter) snapshot() ([]string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.rows...), w.attempts
}

func testConfig(batchSize int) (config.KafkaConfig, config.ReliabilityConfig) {
	cfg := config.NewSinkConfig()
	cfg.Kafka.BatchSize = batchSize
	cfg.Kafka.FlushInterval = time.Hour
	cfg.Reliability.MaxRetries = 3
	cfg.Reliability.RetryBackoff = time.Millisecond
	return cfg.Kafka, cfg.Reliability
}

func newTestConsumer(t *testing.T, w *recordingWriter, batchSize int) *Consumer {
	kcfg, rcfg := testConfig(batchSize)
	c := NewConsumer(kcfg, rcfg, w, w, testutil.TestLogger(t))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func runClaim(t *testing.T, c *Consumer, session *fakeSession, claim *fakeClaim) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(session, claim) }()
	return done
}

func TestConsumeClaimBatchesBySize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	c := newTestConsumer(t, w, 3)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(100, "a", "b", "c", "d", "e", "f", "g")
	close(claim.messages)

	require.NoError(t, <-runClaim(t, c, session, claim))

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, rows, "partial batch is not written when the claim ends")
	assert.Equal(t, map[string]int{"t-0-100": 3, "t-0-103": 3}, w.applied)
	assert.Equal(t, int64(106), session.offset("t", 0))
}

func TestConsumeClaimFlushesOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	c := newTestConsumer(t, w, 1000)
	c.cfg.FlushInterval = 10 * time.Millisecond
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 2)

	done := runClaim(t, c, session, claim)
	claim.send(0, "a", "b")

	testutil.AssertEventually(t, func() bool { return session.offset("t", 2) == 2 }, 2*time.Second, "offsets marked after flush")
	cancel()
	require.NoError(t, <-done)

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b"}, rows)
}

func TestConsumeClaimRetriesTransientFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter(
		errors.New(errors.ErrorTypeConnection, "connection refused"),
		errors.New(errors.ErrorTypeTransport, "row stream interrupted"),
	)
	c := newTestConsumer(t, w, 2)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a", "b")
	close(claim.messages)
	require.NoError(t, <-runClaim(t, c, session, claim))

	rows, attempts := w.snapshot()
	assert.Equal(t, []string{"a", "b"}, rows)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(2), session.offset("t", 0))
}

func TestConsumeClaimStopsOnPermanentFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cause := errors.New(errors.ErrorTypeData, "record 1 is not valid JSON")
	w := newRecordingWriter(cause)
	c := newTestConsumer(t, w, 2)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a", "b")
	close(claim.messages)

	err := <-runClaim(t, c, session, claim)
	require.Error(t, err)
	assert.Same(t, cause, err)
	assert.Same(t, cause, c.Err())

	_, attempts := w.snapshot()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int64(0), session.offset("t", 0), "nothing marked")
}

func TestConsumeClaimGivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := make([]error, 10)
	for i := range failures {
		failures[i] = errors.New(errors.ErrorTypeConnection, "connection refused")
	}
	w := newRecordingWriter(failures...)
	c := newTestConsumer(t, w, 1)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a")
	close(claim.messages)

	require.Error(t, <-runClaim(t, c, session, claim))
	_, attempts := w.snapshot()
	assert.Equal(t, 4, attempts, "first attempt plus three retries")
}

// After a restart the rebuilt batch may start at an already committed
// offset but cover more records than the committed one.
func TestConsumeClaimWritesRemainderOfShorterSkippedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	w.applied["t-0-0"] = 2
	w.rows = []string{"a", "b"}

	c := newTestConsumer(t, w, 4)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a", "b", "c", "d")
	close(claim.messages)
	require.NoError(t, <-runClaim(t, c, session, claim))

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b", "c", "d"}, rows)
	assert.Equal(t, 2, w.applied["t-0-2"])
	assert.Equal(t, int64(4), session.offset("t", 0))
}

func TestConsumeClaimSkipsRecordsCoveredByLongerBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	w.applied["t-0-0"] = 5
	w.rows = []string{"a", "b", "c", "d", "e"}

	c := newTestConsumer(t, w, 2)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a", "b", "c", "d", "e", "f", "g")
	close(claim.messages)
	require.NoError(t, <-runClaim(t, c, session, claim))

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, rows)
	assert.Equal(t, 2, w.applied["t-0-5"])
	assert.Equal(t, int64(7), session.offset("t", 0))
}

// A claim that ends inside a committed batch must not mark offsets past the
// batch start, or the next claim would reload the rest under a new identity.
func TestConsumeClaimEndsWhileSkippingCommittedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	w.applied["t-0-0"] = 5
	w.rows = []string{"a", "b", "c", "d", "e"}

	c := newTestConsumer(t, w, 2)
	session := newFakeSession(ctx)

	first := newFakeClaim("t", 0)
	first.send(0, "a", "b")
	close(first.messages)
	require.NoError(t, <-runClaim(t, c, session, first))
	assert.Equal(t, int64(0), session.offset("t", 0), "nothing marked inside the committed batch")

	second := newFakeClaim("t", 0)
	second.send(session.offset("t", 0), "a", "b", "c", "d", "e", "f", "g")
	close(second.messages)
	require.NoError(t, <-runClaim(t, c, session, second))

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, rows)
	assert.Equal(t, 2, w.applied["t-0-5"])
	assert.NotContains(t, w.applied, "t-0-2")
	assert.Equal(t, int64(7), session.offset("t", 0))
}

func TestConsumeClaimMarksEndOfSkippedRange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newRecordingWriter()
	w.applied["t-0-0"] = 3
	w.rows = []string{"a", "b", "c"}

	c := newTestConsumer(t, w, 2)
	session := newFakeSession(ctx)
	claim := newFakeClaim("t", 0)

	claim.send(0, "a", "b", "c", "d")
	close(claim.messages)
	require.NoError(t, <-runClaim(t, c, session, claim))

	rows, _ := w.snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, rows, "d stays pending when the claim ends")
	assert.Equal(t, int64(3), session.offset("t", 0))
}

func TestToRecord(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	rec := toRecord(&sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 4,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Timestamp: ts,
		Headers:   []*sarama.RecordHeader{{Key: []byte("h"), Value: []byte("1")}, nil},
	})

	assert.Equal(t, "orders", rec.Topic)
	assert.Equal(t, int32(4), rec.Partition)
	assert.Equal(t, int64(42), rec.Offset)
	assert.Equal(t, []byte("k"), rec.Key)
	assert.Equal(t, ts, rec.Timestamp)
	assert.Equal(t, map[string][]byte{"h": []byte("1")}, rec.Headers)
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := config.NewSinkConfig().Kafka
	cfg.Brokers = []string{"localhost:9092"}
	cfg.GroupID = "memsink"
	cfg.Topics = []string{"orders"}
	cfg.Version = "3.6.0"

	sc, err := BuildSaramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetOldest, sc.Consumer.Offsets.Initial)
	assert.True(t, sc.Version.IsAtLeast(sarama.V3_6_0_0))
	assert.False(t, sc.Net.SASL.Enable)

	cfg.InitialOffset = "newest"
	cfg.SASL = config.SASLConfig{Enabled: true, Mechanism: "scram-sha-512", Username: "u", Password: "p"}
	cfg.TLS = config.TLSConfig{Enabled: true}
	sc, err = BuildSaramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetNewest, sc.Consumer.Offsets.Initial)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), sc.Net.SASL.Mechanism)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)
	assert.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc())
	assert.True(t, sc.Net.TLS.Enable)

	cfg.SASL.Mechanism = "GSSAPI-ish"
	_, err = BuildSaramaConfig(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg.SASL.Mechanism = "PLAIN"
	cfg.Version = "not-a-version"
	_, err = BuildSaramaConfig(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestScramClientConversation(t *testing.T) {
	client := &scramClient{HashGeneratorFcn: sha256Generator}
	require.NoError(t, client.Begin("user", "pencil", ""))

	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, client.Done())
}
