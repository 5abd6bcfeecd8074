// Package config provides the configuration of a memsink deployment.
// A single SinkConfig is built once at startup, validated, and passed by
// value into every component; nothing reads configuration from globals.
//
// The configuration is organized into logical sections:
//   - Connection: store endpoints, credentials and session parameters
//   - Load: compression, buffer sizing and record encoding
//   - Kafka: brokers, consumer group and batching
//   - Reliability: retry limits for the task layer
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewSinkConfig()
//	cfg.Connection.DDLEndpoint = "memsql-master:3306"
//	cfg.Load.Compression = "lz4"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/memsink/pkg/compression"
	"github.com/ajitpratap0/memsink/pkg/errors"
)

// DefaultMetadataTable holds one marker row per committed batch.
const DefaultMetadataTable = "kafka_connect_transaction_metadata"

// DefaultBufferSize is the capacity of the in-memory pipe between row
// production and the load statement.
const DefaultBufferSize = 524288

// SinkConfig is the complete configuration of the sink.
type SinkConfig struct {
	// Name identifies this sink instance in logs and metrics
	Name string `yaml:"name" mapstructure:"name"`

	// Connection settings for the store
	Connection ConnectionConfig `yaml:"connection" mapstructure:"connection"`

	// Load settings for the bulk-load path
	Load LoadConfig `yaml:"load" mapstructure:"load"`

	// Kafka consumer settings
	Kafka KafkaConfig `yaml:"kafka" mapstructure:"kafka"`

	// Reliability settings for the task retry layer
	Reliability ReliabilityConfig `yaml:"reliability" mapstructure:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ConnectionConfig describes how to reach the store.
type ConnectionConfig struct {
	// DDLEndpoint is the master aggregator, host[:port]
	DDLEndpoint string `yaml:"ddl_endpoint" mapstructure:"ddl_endpoint"`
	// DMLEndpoints are child aggregators; empty means use DDLEndpoint
	DMLEndpoints []string `yaml:"dml_endpoints" mapstructure:"dml_endpoints"`
	// Database to connect to
	Database string `yaml:"database" mapstructure:"database"`
	// User for authentication
	User string `yaml:"user" mapstructure:"user"`
	// Password for authentication
	Password string `yaml:"password" mapstructure:"password"`
	// Params are session variables applied to every connection
	Params map[string]string `yaml:"params" mapstructure:"params"`
	// ConnectTimeout bounds dialing a store endpoint
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// MaxOpenConns caps connections per endpoint
	MaxOpenConns int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
}

// LoadConfig controls how batches are encoded and streamed.
type LoadConfig struct {
	// Compression is one of none, skip, gzip, lz4
	Compression string `yaml:"compression" mapstructure:"compression"`
	// CompressionLevel is one of fastest, default, best
	CompressionLevel string `yaml:"compression_level" mapstructure:"compression_level"`
	// BufferSize is the pipe capacity in bytes
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// MetadataTable stores batch markers
	MetadataTable string `yaml:"metadata_table" mapstructure:"metadata_table"`
	// Encoding names the record encoder: json, avro or text
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
	// AvroSchemaFile holds the writer schema when Encoding is avro
	AvroSchemaFile string `yaml:"avro_schema_file" mapstructure:"avro_schema_file"`
	// AutoCreateTables creates missing target tables from the record schema
	AutoCreateTables bool `yaml:"auto_create_tables" mapstructure:"auto_create_tables"`
}

// KafkaConfig describes the upstream consumer group.
type KafkaConfig struct {
	// Brokers to bootstrap from
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	// GroupID of the consumer group
	GroupID string `yaml:"group_id" mapstructure:"group_id"`
	// Topics to consume; each topic loads into the table of the same name
	Topics []string `yaml:"topics" mapstructure:"topics"`
	// InitialOffset is oldest or newest
	InitialOffset string `yaml:"initial_offset" mapstructure:"initial_offset"`
	// Version of the Kafka protocol, empty for the client default
	Version string `yaml:"version" mapstructure:"version"`
	// BatchSize is the maximum number of records per batch
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// FlushInterval writes a partial batch after this long
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	// SASL authentication
	SASL SASLConfig `yaml:"sasl" mapstructure:"sasl"`
	// TLS transport
	TLS TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Mechanism string `yaml:"mechanism" mapstructure:"mechanism"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool `yaml:"enabled" mapstructure:"enabled"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// ReliabilityConfig contains retry settings. Retries happen around whole
// batch writes, never inside one.
type ReliabilityConfig struct {
	// MaxRetries is the number of retries after the first failed attempt
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	// RetryBackoff is the delay between attempts
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel is debug, info, warn or error
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" mapstructure:"log_encoding"`
	// MetricsAddr serves /metrics when non-empty
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing exports spans to stdout
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate is the fraction of traces sampled
	TracingSampleRate float64 `yaml:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// NewSinkConfig creates a configuration with default values.
func NewSinkConfig() *SinkConfig {
	return &SinkConfig{
		Name: "memsink",
		Connection: ConnectionConfig{
			Params:         make(map[string]string),
			ConnectTimeout: 10 * time.Second,
			MaxOpenConns:   8,
		},
		Load: LoadConfig{
			Compression:      "gzip",
			CompressionLevel: "default",
			BufferSize:       DefaultBufferSize,
			MetadataTable:    DefaultMetadataTable,
			Encoding:         "json",
			AutoCreateTables: true,
		},
		Kafka: KafkaConfig{
			InitialOffset: "oldest",
			BatchSize:     10000,
			FlushInterval: 5 * time.Second,
			SASL: SASLConfig{
				Mechanism: "PLAIN",
			},
		},
		Reliability: ReliabilityConfig{
			MaxRetries:   10,
			RetryBackoff: 3 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			MetricsAddr:       ":9090",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate checks the configuration eagerly. Every error it returns is of
// type config, so a bad deployment fails before any I/O.
func (c *SinkConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if err := c.Load.Validate(); err != nil {
		return err
	}
	if c.Reliability.MaxRetries < 0 {
		return invalid("max_retries cannot be negative")
	}
	if c.Reliability.RetryBackoff < 0 {
		return invalid("retry_backoff cannot be negative")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return invalid("tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// ValidateKafka checks the settings needed only by the consumer.
func (c *SinkConfig) ValidateKafka() error {
	k := c.Kafka
	if len(k.Brokers) == 0 {
		return invalid("kafka.brokers is required")
	}
	if k.GroupID == "" {
		return invalid("kafka.group_id is required")
	}
	if len(k.Topics) == 0 {
		return invalid("kafka.topics is required")
	}
	if k.BatchSize <= 0 {
		return invalid("kafka.batch_size must be positive")
	}
	if k.FlushInterval <= 0 {
		return invalid("kafka.flush_interval must be positive")
	}
	switch strings.ToLower(k.InitialOffset) {
	case "oldest", "newest":
	default:
		return invalid(fmt.Sprintf("kafka.initial_offset must be oldest or newest, got %q", k.InitialOffset))
	}
	return nil
}

// Validate checks the connection section.
func (c *ConnectionConfig) Validate() error {
	if c.DDLEndpoint == "" {
		return invalid("connection.ddl_endpoint is required")
	}
	if c.Database == "" {
		return invalid("connection.database is required")
	}
	for _, ep := range c.DMLEndpoints {
		if strings.TrimSpace(ep) == "" {
			return invalid("connection.dml_endpoints contains an empty endpoint")
		}
	}
	if c.MaxOpenConns < 0 {
		return invalid("connection.max_open_conns cannot be negative")
	}
	return nil
}

// Validate checks the load section, including the compression name.
func (l *LoadConfig) Validate() error {
	if _, err := compression.ParseAlgorithm(l.Compression); err != nil {
		return err
	}
	if _, err := compression.ParseLevel(l.CompressionLevel); err != nil {
		return err
	}
	if l.BufferSize <= 0 {
		return invalid("load.buffer_size must be positive")
	}
	if l.MetadataTable == "" {
		return invalid("load.metadata_table is required")
	}
	if l.Encoding == "" {
		return invalid("load.encoding is required")
	}
	if strings.EqualFold(l.Encoding, "avro") && l.AvroSchemaFile == "" {
		return invalid("load.avro_schema_file is required for avro encoding")
	}
	return nil
}

// DMLTargets returns the DML endpoints, falling back to the DDL endpoint.
func (c *ConnectionConfig) DMLTargets() []string {
	if len(c.DMLEndpoints) == 0 {
		return []string{c.DDLEndpoint}
	}
	return c.DMLEndpoints
}

func invalid(msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg)
}
