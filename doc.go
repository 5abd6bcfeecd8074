// Package memsink loads Kafka topics into SingleStore (MemSQL) exactly once.
//
// Records are consumed per partition, cut into batches and written with a
// streamed bulk load. Delivery from Kafka is at-least-once; exactly-once
// comes from the store: every batch is written in one transaction that
// inserts a marker row keyed by the batch identity before loading the rows.
// A redelivered batch finds its marker and is skipped.
//
// # Write Path
//
// One write call per batch:
//
//  1. Pick the endpoint. Reference tables are written through the DDL
//     endpoint (master aggregator), everything else through a DML endpoint.
//  2. Open a session and begin a transaction.
//  3. Insert the marker {topic-partition-startOffset, count}. A duplicate
//     key means the batch was already committed: roll back, report skipped.
//  4. Stream the rows through a bounded pipe into
//     LOAD DATA LOCAL INFILE 'Reader::<uuid>.<ext>'. Rows are encoded and
//     compressed on one goroutine while the statement drains the pipe on
//     another, so batches larger than the pipe never deadlock.
//  5. Commit. Any failure before this point rolls back marker and rows
//     together.
//
// # Compression
//
// The load stream is passed through unchanged (none, alias skip), gzip, or
// LZ4 frames. The file extension of the virtual load file (tsv, gz, lz4)
// tells the store which decompressor to use.
//
// # Key Packages
//
//	pkg/connector/destinations/singlestore - batch writer, bulk loader, sessions
//	pkg/kafka                              - consumer group feeding the writer
//	pkg/encoding                           - json, avro and text record encoders
//	pkg/compression                        - compression envelopes
//	internal/pipeline                      - bounded byte pipe
//	pkg/config                             - YAML and environment configuration
//	pkg/errors                             - typed errors and store error codes
//	pkg/logger, pkg/metrics, pkg/observability
//
// # Configuration
//
//	connection:
//	  ddl_endpoint: master:3306
//	  dml_endpoints: [child-1:3306, child-2:3306]
//	  database: events
//	load:
//	  compression: lz4
//	  encoding: json
//	kafka:
//	  brokers: [localhost:9092]
//	  group_id: memsink
//	  topics: [orders]
//
// Any key can be overridden from the environment, e.g.
// MEMSINK_LOAD_COMPRESSION=gzip, and ${VAR_NAME} references in the file
// are substituted on load.
package memsink
