// Package pool provides example usage of the typed pool.
package pool_test

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/memsink/pkg/pool"
)

// Example demonstrates a custom pool with a reset hook.
func Example() {
	builders := pool.New(
		func() *strings.Builder { return &strings.Builder{} },
		func(b *strings.Builder) { b.Reset() },
	)

	b := builders.Get()
	b.WriteString("orders-0-100")
	fmt.Println(b.String())
	builders.Put(b)

	// Output:
	// orders-0-100
}

// ExampleGetBuffer shows the shared scratch buffer used for row encoding.
func ExampleGetBuffer() {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	buf.WriteString("1\tx\n")
	fmt.Printf("%q\n", buf.String())

	// Output:
	// "1\tx\n"
}
