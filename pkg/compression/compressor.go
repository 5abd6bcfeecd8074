// Package compression wraps the row stream of a bulk load in the encoding
// named by configuration. It supports three algorithms, each paired with the
// file-extension tag the store uses to select its decompressor:
//
//	none (alias skip) -> tsv   passthrough
//	gzip              -> gz    deflate framing with gzip header and trailer
//	lz4               -> lz4   LZ4 frame format
//
// # Basic Usage
//
//	codec, err := compression.NewCodec("gzip", compression.Default)
//	if err != nil {
//	    return err // unknown names fail here, before any I/O
//	}
//
//	env := codec.Wrap(sink)
//	env.Write(row)
//	env.Close() // writes the gzip trailer, then closes sink
//
// A Codec is immutable and safe for concurrent use. An Envelope belongs to a
// single write call.
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/pool"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Best maximizes compression ratio.
	Best Level = 9
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Best:
		return "best"
	default:
		return "default"
	}
}

// ParseLevel maps a configuration string to a Level. The empty string is Default.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Default, nil
	case "fastest", "fast":
		return Fastest, nil
	case "best":
		return Best, nil
	default:
		return Default, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid compression level %q", name))
	}
}

// ParseAlgorithm maps a configuration string to an Algorithm. Matching is
// case-insensitive; "skip" is accepted as a synonym for none.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "skip":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("invalid data compression type. Type %s doesn't exist", name)).
			WithDetail("compression", name)
	}
}

// Extension returns the file-extension tag the bulk-load statement uses for a.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return "gz"
	case LZ4:
		return "lz4"
	default:
		return "tsv"
	}
}

// FromExtension is the inverse of Extension.
func FromExtension(ext string) (Algorithm, error) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "tsv":
		return None, nil
	case "gz":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown file extension %q", ext))
	}
}

// Codec builds envelopes for one configured algorithm and level. Compressor
// state is pooled across envelopes.
type Codec struct {
	algorithm   Algorithm
	level       Level
	gzipWriters *pool.Pool[*gzip.Writer]
	lz4Writers  *pool.Pool[*lz4.Writer]
}

// NewCodec validates the algorithm name and level eagerly.
func NewCodec(name string, level Level) (*Codec, error) {
	algorithm, err := ParseAlgorithm(name)
	if err != nil {
		return nil, err
	}

	c := &Codec{algorithm: algorithm, level: level}

	switch algorithm {
	case Gzip:
		gzipLevel := mapGzipLevel(level)
		if _, err := gzip.NewWriterLevel(io.Discard, gzipLevel); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid gzip level")
		}
		c.gzipWriters = pool.New(
			func() *gzip.Writer {
				w, _ := gzip.NewWriterLevel(nil, gzipLevel)
				return w
			},
			func(w *gzip.Writer) { w.Reset(nil) },
		)
	case LZ4:
		lz4Level := mapLZ4Level(level)
		c.lz4Writers = pool.New(
			func() *lz4.Writer {
				w := lz4.NewWriter(nil)
				_ = w.Apply(lz4.CompressionLevelOption(lz4Level))
				return w
			},
			nil,
		)
	}

	return c, nil
}

// Algorithm returns the compression algorithm
func (c *Codec) Algorithm() Algorithm {
	return c.algorithm
}

// Extension returns the file-extension tag for the configured algorithm.
func (c *Codec) Extension() string {
	return c.algorithm.Extension()
}

// Level returns the compression level configured.
func (c *Codec) Level() Level {
	return c.level
}

// Wrap returns an envelope that compresses into sink. Closing the envelope
// finalizes the compressed stream and then closes sink.
func (c *Codec) Wrap(sink io.WriteCloser) *Envelope {
	env := &Envelope{codec: c, sink: sink, w: sink}

	switch c.algorithm {
	case Gzip:
		w := c.gzipWriters.Get()
		w.Reset(sink)
		env.gz = w
		env.w = w
	case LZ4:
		w := c.lz4Writers.Get()
		w.Reset(sink)
		env.lz = w
		env.w = w
	}

	return env
}

// Envelope is the compressed view of a raw sink for one write call.
type Envelope struct {
	codec  *Codec
	sink   io.WriteCloser
	w      io.Writer
	gz     *gzip.Writer
	lz     *lz4.Writer
	closed bool
}

// Write compresses p into the sink.
func (e *Envelope) Write(p []byte) (int, error) {
	if e.closed {
		return 0, io.ErrClosedPipe
	}
	return e.w.Write(p)
}

// Extension returns the file-extension tag of the wrapped stream.
func (e *Envelope) Extension() string {
	return e.codec.Extension()
}

// Algorithm returns the compression algorithm of the wrapped stream.
func (e *Envelope) Algorithm() Algorithm {
	return e.codec.algorithm
}

// Close flushes buffered data and the compression trailer, then closes the
// sink. The sink is closed even when the trailer cannot be written.
func (e *Envelope) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var finishErr error
	switch {
	case e.gz != nil:
		finishErr = e.gz.Close()
		e.codec.gzipWriters.Put(e.gz)
		e.gz = nil
	case e.lz != nil:
		finishErr = e.lz.Close()
		e.codec.lz4Writers.Put(e.lz)
		e.lz = nil
	}

	sinkErr := e.sink.Close()
	if finishErr != nil {
		return finishErr
	}
	return sinkErr
}

// NewReader returns a decompressing reader for streams written by an
// envelope of the same algorithm.
func NewReader(algorithm Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported compression algorithm: %s", algorithm))
	}
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}
