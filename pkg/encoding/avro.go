package encoding

import (
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/connector/registry"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// AvroEncoder decodes Avro binary values written with a fixed record schema
// and loads one column per schema field.
type AvroEncoder struct {
	codec  *goavro.Codec
	schema *models.Schema
}

// NewAvroEncoder compiles the writer schema, which must be a record.
func NewAvroEncoder(schemaJSON string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create Avro codec")
	}

	schema, err := avroToSchema(codec.Schema())
	if err != nil {
		return nil, err
	}

	return &AvroEncoder{codec: codec, schema: schema}, nil
}

// Name implements core.RecordEncoder.
func (e *AvroEncoder) Name() string { return "avro" }

// Schema implements core.RecordEncoder. Every record shares the writer schema.
func (e *AvroEncoder) Schema(*models.Record) (*models.Schema, error) {
	return e.schema, nil
}

// Encode implements core.RecordEncoder.
func (e *AvroEncoder) Encode(dst []byte, record *models.Record, schema *models.Schema) ([]byte, error) {
	native, _, err := e.codec.NativeFromBinary(record.Value)
	if err != nil {
		return dst, errors.Wrap(err, errors.ErrorTypeData, "invalid Avro value").
			WithDetail("topic", record.Topic).
			WithDetail("offset", record.Offset)
	}

	fields, ok := native.(map[string]interface{})
	if !ok {
		return dst, dataError(record, "Avro value is not a record")
	}

	for i, f := range schema.Fields {
		if i > 0 {
			dst = append(dst, fieldDelimiter)
		}
		v := fields[f.Name]
		if f.Optional {
			v = unwrapUnion(v)
		}
		if dst, err = appendField(dst, record, f, v); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// unwrapUnion strips goavro's {"type": value} wrapping of non-null union
// members.
func unwrapUnion(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return v
	}
	for _, inner := range m {
		return inner
	}
	return v
}

func avroToSchema(avroSchema string) (*models.Schema, error) {
	var def struct {
		Type   string                   `json:"type"`
		Name   string                   `json:"name"`
		Fields []map[string]interface{} `json:"fields"`
	}
	if err := gojson.Unmarshal([]byte(avroSchema), &def); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot parse Avro schema")
	}
	if def.Type != "record" {
		return nil, errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("Avro schema must be a record, got %q", def.Type))
	}

	schema := &models.Schema{Name: def.Name, Fields: make([]models.Field, 0, len(def.Fields))}
	for _, f := range def.Fields {
		name, _ := f["name"].(string)
		field := avroField(f["type"])
		field.Name = name
		field.Optional = isNullableAvroType(f["type"])
		schema.Fields = append(schema.Fields, field)
	}
	return schema, nil
}

// avroField maps an Avro type to a field type. Logical types follow the
// native values goavro decodes them to: time.Time for timestamps and dates,
// time.Duration for times of day and *big.Rat for decimals.
func avroField(avroType interface{}) models.Field {
	switch t := avroType.(type) {
	case string:
		return models.Field{Type: avroPrimitiveType(t)}
	case []interface{}:
		// Union type - find non-null type
		for _, member := range t {
			if member != "null" {
				return avroField(member)
			}
		}
	case map[string]interface{}:
		logical, _ := t["logicalType"].(string)
		switch logical {
		case "timestamp-millis", "timestamp-micros":
			return models.Field{Type: models.FieldTypeTimestamp}
		case "date":
			return models.Field{Type: models.FieldTypeDate}
		case "time-millis", "time-micros":
			return models.Field{Type: models.FieldTypeTime}
		case "decimal":
			return models.Field{
				Type:      models.FieldTypeDecimal,
				Precision: schemaInt(t["precision"]),
				Scale:     schemaInt(t["scale"]),
			}
		}
		if inner, ok := t["type"].(string); ok {
			return models.Field{Type: avroPrimitiveType(inner)}
		}
	}
	return models.Field{Type: models.FieldTypeJSON}
}

// schemaInt reads a numeric schema attribute decoded as float64.
func schemaInt(v interface{}) int {
	if n, ok := v.(float64); ok {
		return int(n)
	}
	return 0
}

func avroPrimitiveType(t string) models.FieldType {
	switch t {
	case "int":
		return models.FieldTypeInt32
	case "long":
		return models.FieldTypeInt64
	case "float":
		return models.FieldTypeFloat32
	case "double":
		return models.FieldTypeFloat64
	case "boolean":
		return models.FieldTypeBool
	case "string", "enum":
		return models.FieldTypeString
	case "bytes", "fixed":
		return models.FieldTypeBytes
	default:
		return models.FieldTypeJSON
	}
}

func isNullableAvroType(avroType interface{}) bool {
	members, ok := avroType.([]interface{})
	if !ok {
		return false
	}
	for _, m := range members {
		if m == "null" {
			return true
		}
	}
	return false
}

func init() {
	_ = registry.RegisterEncoder("avro", func(cfg config.LoadConfig) (core.RecordEncoder, error) {
		raw, err := os.ReadFile(cfg.AvroSchemaFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read Avro schema file")
		}
		return NewAvroEncoder(string(raw))
	})
}
