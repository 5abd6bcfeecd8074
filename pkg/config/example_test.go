package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/memsink/pkg/config"
)

// ExampleNewSinkConfig demonstrates the defaults of a new configuration.
func ExampleNewSinkConfig() {
	cfg := config.NewSinkConfig()

	fmt.Printf("Compression: %s\n", cfg.Load.Compression)
	fmt.Printf("Buffer Size: %d\n", cfg.Load.BufferSize)
	fmt.Printf("Metadata Table: %s\n", cfg.Load.MetadataTable)
	fmt.Printf("Max Retries: %d\n", cfg.Reliability.MaxRetries)
	fmt.Printf("Retry Backoff: %s\n", cfg.Reliability.RetryBackoff)

	// Output:
	// Compression: gzip
	// Buffer Size: 524288
	// Metadata Table: kafka_connect_transaction_metadata
	// Max Retries: 10
	// Retry Backoff: 3s
}

// ExampleSinkConfig_Validate shows how to validate a configuration
// before using it.
func ExampleSinkConfig_Validate() {
	cfg := config.NewSinkConfig()
	cfg.Connection.DDLEndpoint = "memsql-master:3306"
	cfg.Connection.Database = "analytics"
	cfg.Load.Compression = "lz4"

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fmt.Println("Configuration is valid!")

	cfg.Load.Compression = "zip"
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid!
	// config: invalid data compression type. Type zip doesn't exist
}
