// Package models provides the data models shared by the memsink pipeline:
// the upstream Record, the per-partition Batch handed to the writer, and the
// Schema describing a record's columns.
package models

import (
	"time"
)

// Record is one upstream message. The pipeline only reads it.
type Record struct {
	// Topic is the logical stream name; it doubles as the target table.
	Topic string `json:"topic"`
	// Partition the record was read from.
	Partition int32 `json:"partition"`
	// Offset of the record within its partition.
	Offset int64 `json:"offset"`
	// Key is the raw message key, possibly nil.
	Key []byte `json:"key,omitempty"`
	// Value is the raw serialized payload.
	Value []byte `json:"value"`
	// Timestamp assigned by the broker or producer.
	Timestamp time.Time `json:"timestamp"`
	// Headers carried with the message.
	Headers map[string][]byte `json:"headers,omitempty"`
}

// FieldType is the logical type of a schema field.
type FieldType string

const (
	FieldTypeInt8    FieldType = "int8"
	FieldTypeInt16   FieldType = "int16"
	FieldTypeInt32   FieldType = "int32"
	FieldTypeInt64   FieldType = "int64"
	FieldTypeFloat32 FieldType = "float32"
	FieldTypeFloat64 FieldType = "float64"
	FieldTypeBool    FieldType = "boolean"
	FieldTypeString  FieldType = "string"
	FieldTypeBytes   FieldType = "bytes"

	// Temporal types carry microsecond precision. Decimal uses
	// Field.Precision and Field.Scale.
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
	FieldTypeTime      FieldType = "time"
	FieldTypeDecimal   FieldType = "decimal"

	// FieldTypeJSON covers nested structs, arrays and maps, stored as JSON text.
	FieldTypeJSON FieldType = "json"
)

// Schema defines the structure of record data.
type Schema struct {
	// Name identifies the schema (e.g., Avro record name)
	Name string `json:"name"`

	// Fields in column order
	Fields []Field `json:"fields"`

	// Schemaless is set when records carry no schema of their own and load
	// into a single JSON column.
	Schemaless bool `json:"schemaless,omitempty"`
}

// Field represents a single column in the schema.
type Field struct {
	// Name is the column identifier
	Name string `json:"name"`

	// Type specifies the logical data type
	Type FieldType `json:"type"`

	// Optional fields accept NULL
	Optional bool `json:"optional"`

	// Precision and Scale apply to decimal fields only
	Precision int `json:"precision,omitempty"`
	Scale     int `json:"scale,omitempty"`
}

// Columns returns the field names in order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}
