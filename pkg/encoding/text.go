package encoding

import (
	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/connector/registry"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// TextEncoder loads the raw message value into the data column.
type TextEncoder struct{}

// NewTextEncoder returns a text encoder.
func NewTextEncoder() *TextEncoder {
	return &TextEncoder{}
}

// Name implements core.RecordEncoder.
func (e *TextEncoder) Name() string { return "text" }

// Schema implements core.RecordEncoder.
func (e *TextEncoder) Schema(record *models.Record) (*models.Schema, error) {
	return &models.Schema{
		Name:   record.Topic,
		Fields: []models.Field{{Name: DataColumn, Type: models.FieldTypeString, Optional: true}},
	}, nil
}

// Encode implements core.RecordEncoder. A nil value is NULL.
func (e *TextEncoder) Encode(dst []byte, record *models.Record, _ *models.Schema) ([]byte, error) {
	if record.Value == nil {
		return append(dst, nullToken...), nil
	}
	return AppendEscapedBytes(dst, record.Value), nil
}

func init() {
	_ = registry.RegisterEncoder("text", func(config.LoadConfig) (core.RecordEncoder, error) {
		return NewTextEncoder(), nil
	})
}
