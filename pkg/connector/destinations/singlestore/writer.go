// Package singlestore writes Kafka record batches to a SingleStore (MemSQL)
// cluster exactly once.
//
// Each batch is written in one transaction that first inserts a marker row
// keyed by the batch identity (topic-partition-startOffset) and then streams
// the encoded rows through LOAD DATA LOCAL INFILE. A redelivered batch finds
// its marker already committed and is skipped without touching the target
// table.
package singlestore

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/memsink/pkg/compression"
	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/logger"
	"github.com/ajitpratap0/memsink/pkg/metrics"
	"github.com/ajitpratap0/memsink/pkg/models"
	"github.com/ajitpratap0/memsink/pkg/observability"
	"github.com/ajitpratap0/memsink/pkg/pool"
)

// Writer is the exactly-once batch writer. It is safe for concurrent use;
// each Write runs on its own session.
type Writer struct {
	cfg      config.LoadConfig
	sessions core.SessionFactory
	tables   core.TableManager
	encoder  core.RecordEncoder
	loader   *StreamingBulkLoader
	codec    *compression.Codec
	logger   *zap.Logger
}

var _ core.BatchWriter = (*Writer)(nil)

// NewWriter validates the load settings and builds the compression codec,
// so an unknown compression type fails here rather than on the first batch.
func NewWriter(cfg config.LoadConfig, sessions core.SessionFactory, tables core.TableManager, encoder core.RecordEncoder, log *zap.Logger) (*Writer, error) {
	level, err := compression.ParseLevel(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	codec, err := compression.NewCodec(cfg.Compression, level)
	if err != nil {
		return nil, err
	}
	if cfg.MetadataTable == "" {
		cfg.MetadataTable = config.DefaultMetadataTable
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Writer{
		cfg:      cfg,
		sessions: sessions,
		tables:   tables,
		encoder:  encoder,
		codec:    codec,
		logger:   log.With(zap.String("component", "batch_writer")),
	}
	w.loader = NewStreamingBulkLoader(codec, cfg.BufferSize, w.logger)
	return w, nil
}

// Codec returns the compression codec used for every load.
func (w *Writer) Codec() *compression.Codec {
	return w.codec
}

// Write commits batch exactly once. It returns OutcomeSkipped when a marker
// for the batch identity already exists; in that case nothing is written.
// On any error the transaction is rolled back, leaving neither the marker
// nor any rows behind.
func (w *Writer) Write(ctx context.Context, batch *models.Batch) (outcome core.Outcome, err error) {
	table := batch.Table()
	id := batch.Identity()

	ctx = logger.ContextWith(ctx, logger.BatchIDKey, id)
	ctx = logger.ContextWith(ctx, logger.TopicKey, table)
	log := logger.FromContext(ctx, w.logger)

	ctx, span := observability.StartSpan(ctx, "singlestore.write_batch",
		attribute.String("table", table),
		attribute.String("batch_id", id),
		attribute.Int("records", batch.Count()),
		attribute.String("compression", string(w.codec.Algorithm())))

	timer := metrics.NewTimer("write_batch")
	metrics.ActiveWrites.Inc()
	defer func() {
		metrics.ActiveWrites.Dec()
		label := metrics.OutcomeFailed
		if err == nil {
			label = string(outcome)
		}
		elapsed := timer.Stop()
		metrics.BatchesWritten.WithLabelValues(table, label).Inc()
		metrics.WriteLatency.WithLabelValues(table, label).Observe(elapsed.Seconds())
		span.SetAttributes(attribute.String("outcome", label))
		observability.EndSpan(span, err)
	}()

	outcome, err = w.write(ctx, log, batch)
	if err != nil {
		err = annotate(err, table, id)
		log.Error("batch write failed", zap.Error(err))
		return "", err
	}
	return outcome, nil
}

func (w *Writer) write(ctx context.Context, log *zap.Logger, batch *models.Batch) (core.Outcome, error) {
	table := batch.Table()

	schema, err := w.encoder.Schema(batch.First())
	if err != nil {
		return "", err
	}

	if w.cfg.AutoCreateTables {
		if err := w.tables.EnsureTable(ctx, table, schema); err != nil {
			return "", err
		}
	}

	class := core.EndpointDML
	ref, err := w.tables.IsReferenceTable(ctx, table)
	if err != nil {
		return "", err
	}
	if ref {
		class = core.EndpointDDL
	}

	session, err := w.sessions.Open(ctx, class)
	if err != nil {
		return "", err
	}
	defer session.Close()

	claim, err := TryClaim(ctx, session, w.cfg.MetadataTable, batch.Identity(), batch.Count())
	if err != nil {
		return "", w.rollback(ctx, log, session, err)
	}
	if claim == AlreadyApplied {
		if err := session.Rollback(ctx); err != nil {
			log.Warn("rollback after marker conflict failed", zap.Error(err))
		}
		metrics.MarkerConflicts.WithLabelValues(table).Inc()
		log.Info("batch already applied, skipping", zap.Int("records", batch.Count()))
		return core.OutcomeSkipped, nil
	}

	start := time.Now()
	result, err := w.loader.Load(ctx, session, table, schema.Columns(), w.rows(batch, schema))
	if err != nil {
		return "", w.rollback(ctx, log, session, err)
	}

	if err := session.Commit(ctx); err != nil {
		return "", w.rollback(ctx, log, session, storeError(err, "commit failed"))
	}

	metrics.RecordsLoaded.WithLabelValues(table).Add(float64(batch.Count()))
	metrics.BytesStreamed.WithLabelValues(table, string(w.codec.Algorithm())).Add(float64(result.BytesStreamed))
	metrics.BufferHighWater.WithLabelValues(table).Set(float64(result.Buffer.HighWater))
	metrics.WriterBlocks.WithLabelValues(table).Add(float64(result.Buffer.WriterBlocks))

	log.Info("batch committed",
		zap.Int("records", batch.Count()),
		zap.Int64("rows_affected", result.RowsAffected),
		zap.Int64("bytes", result.BytesStreamed),
		zap.String("encoder", w.encoder.Name()),
		zap.Duration("load_duration", time.Since(start)))

	return core.OutcomeCommitted, nil
}

// rows encodes the batch in order, one newline-terminated row per record.
func (w *Writer) rows(batch *models.Batch, schema *models.Schema) RowProducer {
	return func(out io.Writer) error {
		buf := pool.GetBuffer()
		defer pool.PutBuffer(buf)

		scratch := buf.AvailableBuffer()
		for _, rec := range batch.Records() {
			row, err := w.encoder.Encode(scratch[:0], rec, schema)
			if err != nil {
				return err
			}
			row = append(row, '\n')
			if _, err := out.Write(row); err != nil {
				return err
			}
			scratch = row
		}
		return nil
	}
}

func (w *Writer) rollback(ctx context.Context, log *zap.Logger, session core.Session, cause error) error {
	if err := session.Rollback(ctx); err != nil {
		log.Warn("rollback failed", zap.Error(err), zap.NamedError("cause", cause))
	}
	return cause
}
