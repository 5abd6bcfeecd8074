// Package compression provides envelope benchmarks
package compression

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"testing"
)

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// generateRows builds tab-separated rows shaped like typical sink traffic.
func generateRows(size int) []byte {
	var writer bytes.Buffer
	for i := 0; writer.Len() < size; i++ {
		fmt.Fprintf(&writer, "%d\tUser %d\tuser%d@example.com\t%d\t%.2f\n",
			i, i, i, rand.Intn(80)+20, rand.Float64()*100)
	}
	return writer.Bytes()[:size]
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// Benchmark envelope throughput per algorithm
func BenchmarkEnvelope(b *testing.B) {
	algorithms := []string{"none", "gzip", "lz4"}
	dataSizes := []int{
		10240,   // 10KB
		1048576, // 1MB
	}

	for _, name := range algorithms {
		codec, err := NewCodec(name, Default)
		if err != nil {
			b.Fatal(err)
		}

		for _, size := range dataSizes {
			testData := generateRows(size)

			b.Run(fmt.Sprintf("%s/%s", name, formatBytes(size)), func(b *testing.B) {
				b.ResetTimer()
				b.SetBytes(int64(len(testData)))

				for i := 0; i < b.N; i++ {
					env := codec.Wrap(discardCloser{io.Discard})
					if _, err := env.Write(testData); err != nil {
						b.Fatal(err)
					}
					if err := env.Close(); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
