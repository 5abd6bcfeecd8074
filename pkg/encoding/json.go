package encoding

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/connector/registry"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// connectSchema is the schema half of a Kafka Connect JSON envelope.
type connectSchema struct {
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Optional bool            `json:"optional"`
	Field    string          `json:"field"`
	Fields   []connectSchema `json:"fields"`
}

type connectEnvelope struct {
	Schema  *connectSchema    `json:"schema"`
	Payload gojson.RawMessage `json:"payload"`
}

// JSONEncoder encodes JSON values. Values wrapped in a {"schema","payload"}
// envelope load into one column per schema field; any other JSON value
// loads into the data column as JSON text. A batch takes its schema from its
// first record, so mixing the two forms in one batch is a data error.
type JSONEncoder struct{}

// NewJSONEncoder returns a JSON encoder.
func NewJSONEncoder() *JSONEncoder {
	return &JSONEncoder{}
}

// Name implements core.RecordEncoder.
func (e *JSONEncoder) Name() string { return "json" }

// Schema implements core.RecordEncoder.
func (e *JSONEncoder) Schema(record *models.Record) (*models.Schema, error) {
	env, err := parseEnvelope(record)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return schemalessSchema(record.Topic), nil
	}

	if env.Schema.Type != "struct" {
		return &models.Schema{
			Name: env.Schema.Name,
			Fields: []models.Field{{
				Name:     DataColumn,
				Type:     connectFieldType(env.Schema.Type),
				Optional: env.Schema.Optional,
			}},
		}, nil
	}

	schema := &models.Schema{Name: env.Schema.Name, Fields: make([]models.Field, 0, len(env.Schema.Fields))}
	for _, f := range env.Schema.Fields {
		if f.Field == "" {
			return nil, dataError(record, "schema field has no name")
		}
		schema.Fields = append(schema.Fields, models.Field{
			Name:     f.Field,
			Type:     connectFieldType(f.Type),
			Optional: f.Optional,
		})
	}
	if len(schema.Fields) == 0 {
		return nil, dataError(record, "struct schema has no fields")
	}
	return schema, nil
}

// Encode implements core.RecordEncoder.
func (e *JSONEncoder) Encode(dst []byte, record *models.Record, schema *models.Schema) ([]byte, error) {
	env, err := parseEnvelope(record)
	if err != nil {
		return dst, err
	}

	if env == nil {
		if !schema.Schemaless {
			return dst, dataError(record, fmt.Sprintf("record has no schema envelope but batch schema %q has one", schema.Name))
		}
		if len(record.Value) == 0 {
			return append(dst, nullToken...), nil
		}
		return AppendEscapedBytes(dst, bytes.TrimSpace(record.Value)), nil
	}

	if schema.Schemaless {
		return dst, dataError(record, "record has a schema envelope but the batch is schemaless")
	}

	payload, err := decodePayload(env.Payload)
	if err != nil {
		return dst, errors.Wrap(err, errors.ErrorTypeData, "invalid JSON payload").
			WithDetail("offset", record.Offset)
	}

	fields, ok := payload.(map[string]interface{})
	if !ok {
		if len(schema.Fields) != 1 {
			return dst, dataError(record, "payload is not an object")
		}
		return appendField(dst, record, schema.Fields[0], payload)
	}

	for i, f := range schema.Fields {
		if i > 0 {
			dst = append(dst, fieldDelimiter)
		}
		v, present := fields[f.Name]
		if (!present || v == nil) && !f.Optional {
			return dst, dataError(record, fmt.Sprintf("required field %q is missing", f.Name))
		}
		if dst, err = appendField(dst, record, f, v); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendField(dst []byte, record *models.Record, f models.Field, v interface{}) ([]byte, error) {
	if s, ok := v.(string); ok && f.Type == models.FieldTypeBytes {
		raw, err := decodeBase64(s)
		if err != nil {
			return dst, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("field %q is not base64", f.Name)).
				WithDetail("offset", record.Offset)
		}
		v = raw
	}

	switch val := v.(type) {
	case time.Time:
		if f.Type == models.FieldTypeDate {
			return val.UTC().AppendFormat(dst, dateLayout), nil
		}
	case *big.Rat:
		if f.Type == models.FieldTypeDecimal && val != nil && f.Scale > 0 {
			return append(dst, val.FloatString(f.Scale)...), nil
		}
	}

	out, err := AppendValue(dst, v)
	if err != nil {
		return dst, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("cannot encode field %q", f.Name)).
			WithDetail("offset", record.Offset)
	}
	return out, nil
}

// parseEnvelope returns nil, nil for values without a schema envelope.
func parseEnvelope(record *models.Record) (*connectEnvelope, error) {
	if len(record.Value) == 0 {
		return nil, nil
	}
	if !gojson.Valid(record.Value) {
		return nil, dataError(record, "value is not valid JSON")
	}

	trimmed := bytes.TrimSpace(record.Value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}

	var env connectEnvelope
	if err := gojson.Unmarshal(trimmed, &env); err != nil {
		// a valid object that does not fit the envelope shape
		return nil, nil
	}
	if env.Schema == nil || env.Payload == nil {
		return nil, nil
	}
	return &env, nil
}

func decodePayload(raw []byte) (interface{}, error) {
	dec := gojson.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func connectFieldType(t string) models.FieldType {
	switch t {
	case "int8":
		return models.FieldTypeInt8
	case "int16":
		return models.FieldTypeInt16
	case "int32":
		return models.FieldTypeInt32
	case "int64":
		return models.FieldTypeInt64
	case "float", "float32":
		return models.FieldTypeFloat32
	case "double", "float64":
		return models.FieldTypeFloat64
	case "boolean":
		return models.FieldTypeBool
	case "bytes":
		return models.FieldTypeBytes
	case "string":
		return models.FieldTypeString
	default:
		return models.FieldTypeJSON
	}
}

func schemalessSchema(name string) *models.Schema {
	return &models.Schema{
		Name:       name,
		Fields:     []models.Field{{Name: DataColumn, Type: models.FieldTypeJSON, Optional: true}},
		Schemaless: true,
	}
}

func dataError(record *models.Record, msg string) error {
	return errors.New(errors.ErrorTypeData, msg).
		WithDetail("topic", record.Topic).
		WithDetail("offset", record.Offset)
}

func init() {
	_ = registry.RegisterEncoder("json", func(config.LoadConfig) (core.RecordEncoder, error) {
		return NewJSONEncoder(), nil
	})
}
