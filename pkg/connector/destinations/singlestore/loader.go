package singlestore

import (
	"context"
	stderrors "errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/memsink/internal/pipeline"
	"github.com/ajitpratap0/memsink/pkg/compression"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
)

// ErrLoadAborted closes the pipe once the load statement has returned, so a
// producer still writing is released instead of blocking forever.
var ErrLoadAborted = stderrors.New("load statement returned")

// RowProducer writes newline-terminated rows to w in batch order.
type RowProducer func(w io.Writer) error

// LoadResult describes a completed bulk load.
type LoadResult struct {
	// RowsAffected as reported by the store
	RowsAffected int64
	// BytesStreamed after compression
	BytesStreamed int64
	// FileName of the virtual load file
	FileName string
	// Buffer traffic of the pipe
	Buffer pipeline.BufferMetrics
}

// StreamingBulkLoader streams rows into a load statement through a bounded
// pipe. Rows are produced on one goroutine while the statement drains the
// pipe on another, so batches larger than the pipe never deadlock.
type StreamingBulkLoader struct {
	codec      *compression.Codec
	bufferSize int
	logger     *zap.Logger
}

// NewStreamingBulkLoader creates a loader compressing with codec through a
// pipe of bufferSize bytes.
func NewStreamingBulkLoader(codec *compression.Codec, bufferSize int, logger *zap.Logger) *StreamingBulkLoader {
	return &StreamingBulkLoader{
		codec:      codec,
		bufferSize: bufferSize,
		logger:     logger.With(zap.String("component", "bulk_loader")),
	}
}

// Load runs produce and the load statement for table concurrently and
// returns when both have finished. A failure on either side closes the pipe
// with that error, which unblocks the other side; the error that caused the
// abort is the one returned. A statement that returns without reading the
// stream to its end is a transport error even if it reported success.
func (l *StreamingBulkLoader) Load(ctx context.Context, session core.Session, table string, columns []string, produce RowProducer) (LoadResult, error) {
	buf := pipeline.NewBoundedBuffer(l.bufferSize)
	sink := &countingSink{buf: buf}
	spec := core.LoadSpec{
		Table:    table,
		Columns:  columns,
		FileName: uuid.NewString() + "." + l.codec.Extension(),
	}

	stop := context.AfterFunc(ctx, func() { buf.CloseWithError(ctx.Err()) })
	defer stop()

	var (
		g                errgroup.Group
		prodErr, consErr error
		rows             int64
	)

	g.Go(func() error {
		prodErr = l.produce(buf, sink, produce)
		return prodErr
	})

	src := &drainReader{r: buf}
	g.Go(func() error {
		rows, consErr = session.LoadFrom(ctx, spec, src)
		buf.CloseWithError(ErrLoadAborted)
		return consErr
	})

	_ = g.Wait()

	result := LoadResult{
		RowsAffected:  rows,
		BytesStreamed: sink.written.Load(),
		FileName:      spec.FileName,
		Buffer:        buf.Metrics(),
	}

	switch {
	case prodErr != nil && !stderrors.Is(prodErr, ErrLoadAborted):
		return result, producerError(prodErr)
	case consErr != nil:
		return result, storeError(consErr, "load statement failed")
	case prodErr != nil, !src.drained:
		return result, errors.New(errors.ErrorTypeTransport, "load returned before stream drained").
			WithDetail(errors.DetailTable, table)
	}

	l.logger.Debug("bulk load finished",
		zap.String("table", table),
		zap.String("file", spec.FileName),
		zap.Int64("rows", rows),
		zap.Int64("bytes", result.BytesStreamed),
		zap.Int("high_water", result.Buffer.HighWater),
		zap.Int64("writer_blocks", result.Buffer.WriterBlocks))

	return result, nil
}

// produce writes the compressed rows. On failure the pipe is failed before
// the envelope closes, so the statement never sees a clean end of stream.
func (l *StreamingBulkLoader) produce(buf *pipeline.BoundedBuffer, sink io.WriteCloser, produce RowProducer) error {
	env := l.codec.Wrap(sink)

	if err := produce(env); err != nil {
		buf.CloseWithError(err)
		_ = env.Close()
		return err
	}

	if err := env.Close(); err != nil {
		buf.CloseWithError(err)
		return err
	}
	return nil
}

func producerError(err error) error {
	var typed *errors.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrorTypeTimeout, "row stream cancelled")
	default:
		return errors.Wrap(err, errors.ErrorTypeTransport, "row stream interrupted")
	}
}

// drainReader remembers whether the statement read the stream to its end.
type drainReader struct {
	r       io.Reader
	drained bool
}

func (d *drainReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.drained = true
	}
	return n, err
}

// countingSink counts the bytes handed to the pipe.
type countingSink struct {
	buf     *pipeline.BoundedBuffer
	written atomic.Int64
}

func (c *countingSink) Write(p []byte) (int, error) {
	n, err := c.buf.Write(p)
	c.written.Add(int64(n))
	return n, err
}

func (c *countingSink) Close() error {
	return c.buf.Close()
}
