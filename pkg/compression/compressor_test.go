package compression

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/ajitpratap0/memsink/pkg/errors"
)

// closeRecorder is a raw sink that records writes and whether it was closed.
type closeRecorder struct {
	bytes.Buffer
	closed      bool
	writesAfter int
	closeErr    error
}

func (c *closeRecorder) Write(p []byte) (int, error) {
	if c.closed {
		c.writesAfter++
	}
	return c.Buffer.Write(p)
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.closeErr
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		want    Algorithm
		ext     string
		wantErr bool
	}{
		{name: "none", want: None, ext: "tsv"},
		{name: "skip", want: None, ext: "tsv"},
		{name: "GZIP", want: Gzip, ext: "gz"},
		{name: " lz4 ", want: LZ4, ext: "lz4"},
		{name: "zstd", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, nerrors.IsType(err, nerrors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ext, got.Extension())

			back, err := FromExtension(got.Extension())
			require.NoError(t, err)
			assert.Equal(t, got, back)
		})
	}
}

func TestNewCodecRejectsUnknownAlgorithm(t *testing.T) {
	codec, err := NewCodec("brotli", Default)
	require.Error(t, err)
	assert.Nil(t, codec)
	assert.True(t, nerrors.IsType(err, nerrors.ErrorTypeConfig))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	rows := []string{"1\tx", "2\ty", "3\t" + strings.Repeat("z", 4096)}
	var plain bytes.Buffer
	for _, r := range rows {
		plain.WriteString(r)
		plain.WriteByte('\n')
	}

	for _, name := range []string{"none", "gzip", "lz4"} {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(name+"/"+level.String(), func(t *testing.T) {
				codec, err := NewCodec(name, level)
				require.NoError(t, err)

				sink := &closeRecorder{}
				env := codec.Wrap(sink)
				for _, r := range rows {
					_, err := env.Write([]byte(r))
					require.NoError(t, err)
					_, err = env.Write([]byte{'\n'})
					require.NoError(t, err)
				}
				require.NoError(t, env.Close())
				assert.True(t, sink.closed, "sink must be closed by the envelope")
				assert.Zero(t, sink.writesAfter, "trailer must be written before the sink closes")

				reader, err := NewReader(codec.Algorithm(), bytes.NewReader(sink.Bytes()))
				require.NoError(t, err)
				got, err := io.ReadAll(reader)
				require.NoError(t, err)
				require.NoError(t, reader.Close())

				assert.Equal(t, plain.Bytes(), got)
			})
		}
	}
}

func TestEnvelopeReuseAcrossWrites(t *testing.T) {
	codec, err := NewCodec("gzip", Default)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sink := &closeRecorder{}
		env := codec.Wrap(sink)
		_, err := env.Write([]byte("row\n"))
		require.NoError(t, err)
		require.NoError(t, env.Close())

		reader, err := NewReader(Gzip, bytes.NewReader(sink.Bytes()))
		require.NoError(t, err)
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "row\n", string(got))
	}
}

func TestEnvelopeCloseIsIdempotent(t *testing.T) {
	codec, err := NewCodec("lz4", Default)
	require.NoError(t, err)

	env := codec.Wrap(&closeRecorder{})
	require.NoError(t, env.Close())
	require.NoError(t, env.Close())

	_, err = env.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestEnvelopeReportsSinkCloseError(t *testing.T) {
	codec, err := NewCodec("none", Default)
	require.NoError(t, err)

	boom := errors.New("boom")
	env := codec.Wrap(&closeRecorder{closeErr: boom})
	assert.ErrorIs(t, env.Close(), boom)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, Default, level)

	level, err = ParseLevel("best")
	require.NoError(t, err)
	assert.Equal(t, Best, level)

	_, err = ParseLevel("ultra")
	assert.Error(t, err)
}
