package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	// Register the record encoders
	_ "github.com/ajitpratap0/memsink/pkg/encoding"
)

var version = "0.1.0"

func main() {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the memsink command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "memsink",
		Short: "memsink - exactly-once Kafka sink for SingleStore",
		Long: `memsink consumes Kafka topics and loads each partition's records into
the SingleStore table of the same name. Every batch is streamed through
LOAD DATA LOCAL INFILE in one transaction together with a marker row,
so redelivered batches are detected and skipped.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringP("config", "c", "", "Configuration file to read from (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memsink v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newInitMetadataCommand())
	root.AddCommand(newInitConfigCommand())
	root.AddCommand(newListEncodersCommand())

	return root
}
