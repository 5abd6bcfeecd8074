// Package kafka feeds the batch writer from a Kafka consumer group. Each
// claimed partition is cut into batches by size and age; a batch's offsets
// are marked only after the writer reports it committed or skipped, so
// everything not yet in the store is redelivered after a restart or
// rebalance.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/logger"
	"github.com/ajitpratap0/memsink/pkg/metrics"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// Consumer implements sarama.ConsumerGroupHandler on top of a BatchWriter.
type Consumer struct {
	cfg     config.KafkaConfig
	retry   config.ReliabilityConfig
	writer  core.BatchWriter
	markers core.MarkerReader
	logger  *zap.Logger

	// sleep waits between retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	fatal  error
	cancel context.CancelFunc
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)

// NewConsumer creates a consumer writing through writer. markers may be nil;
// without it a skipped batch is assumed to cover exactly the records it was
// built from.
func NewConsumer(cfg config.KafkaConfig, retry config.ReliabilityConfig, writer core.BatchWriter, markers core.MarkerReader, log *zap.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		retry:   retry,
		writer:  writer,
		markers: markers,
		logger:  log.With(zap.String("component", "kafka_consumer")),
		sleep:   sleepContext,
	}
}

// BuildSaramaConfig maps the kafka section to a sarama configuration.
func BuildSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "memsink"

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka.version")
		}
		sc.Version = version
	}

	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	sc.Consumer.Return.Errors = true

	switch strings.ToLower(cfg.InitialOffset) {
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	if cfg.TLS.Enabled {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
		}
	}

	if cfg.SASL.Enabled {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASL.Username
		sc.Net.SASL.Password = cfg.SASL.Password

		switch strings.ToUpper(cfg.SASL.Mechanism) {
		case "", "PLAIN":
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256Generator}
			}
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512Generator}
			}
		default:
			return nil, errors.New(errors.ErrorTypeConfig,
				fmt.Sprintf("unsupported kafka.sasl.mechanism %q", cfg.SASL.Mechanism))
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration")
	}
	return sc, nil
}

// Run joins the consumer group and consumes until ctx is cancelled or a
// batch fails permanently.
func (c *Consumer) Run(ctx context.Context) error {
	sc, err := BuildSaramaConfig(c.cfg)
	if err != nil {
		return err
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, sc)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create consumer group")
	}

	c.logger.Info("joined consumer group",
		zap.Strings("brokers", c.cfg.Brokers),
		zap.String("group_id", c.cfg.GroupID),
		zap.Strings("topics", c.cfg.Topics))

	return c.consume(ctx, group)
}

// consume runs the group session loop. Consume returns at every rebalance,
// so it is called again until the context ends.
func (c *Consumer) consume(ctx context.Context, group sarama.ConsumerGroup) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	for ctx.Err() == nil {
		if err := group.Consume(ctx, c.cfg.Topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			c.logger.Error("consume failed", zap.Error(err))
			if err := c.sleep(ctx, time.Second); err != nil {
				break
			}
		}
	}

	if err := group.Close(); err != nil {
		c.logger.Error("failed to close consumer group", zap.Error(err))
	}
	wg.Wait()

	c.logger.Info("consumer stopped")
	return c.Err()
}

// Err returns the error that stopped the consumer, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *Consumer) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("partitions assigned",
		zap.Any("claims", session.Claims()),
		zap.Int32("generation", session.GenerationID()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. Records still
// pending when the claim ends are dropped; their offsets were never marked.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	taskID := fmt.Sprintf("%s/%d", claim.Topic(), claim.Partition())
	ctx := logger.ContextWith(session.Context(), logger.TaskIDKey, taskID)
	ctx = logger.ContextWith(ctx, logger.TopicKey, claim.Topic())

	b := &claimBatcher{
		consumer:   c,
		session:    session,
		topic:      claim.Topic(),
		partition:  claim.Partition(),
		pending:    make([]*models.Record, 0, c.cfg.BatchSize),
		throughput: metrics.NewThroughputTracker(claim.Topic()),
		logger:     logger.FromContext(ctx, c.logger),
	}

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			b.add(msg)
			if len(b.pending) >= c.cfg.BatchSize {
				if err := b.flush(ctx); err != nil {
					return c.abort(ctx, err)
				}
			}
		case <-ticker.C:
			if err := b.flush(ctx); err != nil {
				return c.abort(ctx, err)
			}
			b.throughput.GetAndReset()
		case <-ctx.Done():
			return nil
		}
	}
}

// abort stops the whole consumer unless the claim merely ended.
func (c *Consumer) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	c.fail(err)
	return err
}

// writeWithRetry retries failed writes up to MaxRetries times. Errors that
// cannot succeed on replay are returned at once.
func (c *Consumer) writeWithRetry(ctx context.Context, log *zap.Logger, batch *models.Batch) (core.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.Retries.WithLabelValues(batch.Table()).Inc()
			log.Warn("retrying batch write",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.retry.MaxRetries),
				zap.Duration("backoff", c.retry.RetryBackoff),
				zap.Error(lastErr))
			if err := c.sleep(ctx, c.retry.RetryBackoff); err != nil {
				return "", err
			}
		}

		outcome, err := c.writer.Write(ctx, batch)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if permanent(err) || ctx.Err() != nil {
			return "", err
		}
	}

	log.Error("batch write retries exhausted", zap.Int("max_retries", c.retry.MaxRetries), zap.Error(lastErr))
	return "", lastErr
}

func permanent(err error) bool {
	return errors.IsType(err, errors.ErrorTypeConfig) ||
		errors.IsType(err, errors.ErrorTypeData) ||
		errors.IsType(err, errors.ErrorTypeValidation)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claimBatcher accumulates the records of one claimed partition.
type claimBatcher struct {
	consumer   *Consumer
	session    sarama.ConsumerGroupSession
	topic      string
	partition  int32
	pending    []*models.Record
	skip       int
	throughput *metrics.ThroughputTracker
	logger     *zap.Logger
}

func (b *claimBatcher) add(msg *sarama.ConsumerMessage) {
	if b.skip > 0 {
		// already loaded by a larger batch before a restart. The offset is
		// marked only once the whole committed batch has been passed, so a
		// claim that ends here resumes at the batch start and skips it again.
		b.skip--
		if b.skip == 0 {
			b.session.MarkOffset(b.topic, b.partition, msg.Offset+1, "")
		}
		return
	}
	b.pending = append(b.pending, toRecord(msg))
}

// flush writes the pending records. A skipped batch may have been committed
// with different boundaries than the one rebuilt after redelivery; the
// stored marker count decides how many pending records it covered.
func (b *claimBatcher) flush(ctx context.Context) error {
	for len(b.pending) > 0 {
		batch, err := models.NewBatch(b.pending)
		if err != nil {
			return err
		}

		log := b.logger.With(zap.String("batch_id", batch.Identity()))
		outcome, err := b.consumer.writeWithRetry(ctx, log, batch)
		if err != nil {
			return err
		}

		applied := batch.Count()
		if outcome == core.OutcomeSkipped {
			applied, err = b.appliedCount(ctx, batch)
			if err != nil {
				return err
			}
		} else {
			b.throughput.Increment(int64(applied))
		}

		if applied >= len(b.pending) {
			b.skip = applied - len(b.pending)
			if b.skip == 0 {
				last := b.pending[len(b.pending)-1]
				b.session.MarkOffset(b.topic, b.partition, last.Offset+1, "")
			}
			b.pending = b.pending[:0]
			continue
		}

		log.Info("skipped batch was shorter than redelivered records, writing the rest",
			zap.Int("applied", applied),
			zap.Int("pending", len(b.pending)))
		b.session.MarkOffset(b.topic, b.partition, b.pending[applied-1].Offset+1, "")
		b.pending = append(b.pending[:0], b.pending[applied:]...)
	}
	return nil
}

func (b *claimBatcher) appliedCount(ctx context.Context, batch *models.Batch) (int, error) {
	if b.consumer.markers == nil {
		return batch.Count(), nil
	}
	n, ok, err := b.consumer.markers.MarkerCount(ctx, batch.Identity())
	if err != nil {
		return 0, err
	}
	if !ok || n <= 0 {
		return batch.Count(), nil
	}
	return n, nil
}

func toRecord(msg *sarama.ConsumerMessage) *models.Record {
	rec := &models.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
	if len(msg.Headers) > 0 {
		rec.Headers = make(map[string][]byte, len(msg.Headers))
		for _, h := range msg.Headers {
			if h != nil {
				rec.Headers[string(h.Key)] = h.Value
			}
		}
	}
	return rec
}
