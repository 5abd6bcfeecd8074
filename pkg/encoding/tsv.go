// Package encoding turns upstream records into rows of the load file.
//
// Rows use the store's default LOAD DATA text format: fields separated by a
// tab, rows by a newline, backslash as the escape character and \N for NULL.
// The row delimiter itself is written by the loader, never by an encoder.
//
// Encoders register themselves with the encoder registry under their name:
//
//	json  Kafka Connect JSON, with or without a schema envelope
//	avro  Avro binary against a fixed writer schema
//	text  the raw message value as a single column
package encoding

import (
	"encoding/base64"
	"math"
	"math/big"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

const (
	fieldDelimiter = '\t'
	// DataColumn receives the whole value of schemaless records.
	DataColumn = "data"
	nullToken  = `\N`

	timestampLayout = "2006-01-02 15:04:05.999999"
	dateLayout      = "2006-01-02"
)

// AppendEscaped appends s with the LOAD DATA escape sequences applied.
func AppendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		dst = appendEscapedByte(dst, s[i])
	}
	return dst
}

// AppendEscapedBytes is AppendEscaped for a byte slice.
func AppendEscapedBytes(dst []byte, b []byte) []byte {
	for _, c := range b {
		dst = appendEscapedByte(dst, c)
	}
	return dst
}

func appendEscapedByte(dst []byte, c byte) []byte {
	switch c {
	case '\\':
		return append(dst, '\\', '\\')
	case '\t':
		return append(dst, '\\', 't')
	case '\n':
		return append(dst, '\\', 'n')
	case '\r':
		return append(dst, '\\', 'r')
	case 0:
		return append(dst, '\\', '0')
	default:
		return append(dst, c)
	}
}

// UnescapeField reverses AppendEscaped. ok is false for the NULL token.
func UnescapeField(field string) (value string, ok bool) {
	if field == nullToken {
		return "", false
	}

	out := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c != '\\' || i == len(field)-1 {
			out = append(out, c)
			continue
		}
		i++
		switch field[i] {
		case 't':
			out = append(out, '\t')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case '0':
			out = append(out, 0)
		default:
			out = append(out, field[i])
		}
	}
	return string(out), true
}

// AppendValue appends the text form of v. Nested values become JSON text.
func AppendValue(dst []byte, v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(dst, nullToken...), nil
	case string:
		return AppendEscaped(dst, val), nil
	case []byte:
		return AppendEscapedBytes(dst, val), nil
	case bool:
		if val {
			return append(dst, '1'), nil
		}
		return append(dst, '0'), nil
	case gojson.Number:
		return append(dst, val.String()...), nil
	case int:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case int32:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(dst, val, 10), nil
	case float32:
		return appendFloat(dst, float64(val), 32), nil
	case float64:
		return appendFloat(dst, val, 64), nil
	case time.Time:
		return val.UTC().AppendFormat(dst, timestampLayout), nil
	case time.Duration:
		return appendDuration(dst, val), nil
	case *big.Rat:
		if val == nil {
			return append(dst, nullToken...), nil
		}
		digits, _ := val.FloatPrec()
		return append(dst, val.FloatString(digits)...), nil
	default:
		raw, err := gojson.Marshal(val)
		if err != nil {
			return dst, err
		}
		return AppendEscapedBytes(dst, raw), nil
	}
}

func appendFloat(dst []byte, f float64, bits int) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, nullToken...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, bits)
}

// appendDuration formats a time of day as [-]HH:MM:SS[.ffffff].
func appendDuration(dst []byte, d time.Duration) []byte {
	if d < 0 {
		dst = append(dst, '-')
		d = -d
	}
	d = d.Truncate(time.Microsecond)
	h := int64(d / time.Hour)
	m := int64(d/time.Minute) % 60
	sec := int64(d/time.Second) % 60
	micros := int64(d%time.Second) / int64(time.Microsecond)

	if h < 10 {
		dst = append(dst, '0')
	}
	dst = strconv.AppendInt(dst, h, 10)
	dst = append(dst, ':', byte('0'+m/10), byte('0'+m%10), ':', byte('0'+sec/10), byte('0'+sec%10))
	if micros == 0 {
		return dst
	}
	frac := strconv.AppendInt(nil, 1_000_000+micros, 10)[1:]
	for len(frac) > 0 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	return append(append(dst, '.'), frac...)
}

// decodeBase64 is used for bytes fields carried as JSON strings.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
