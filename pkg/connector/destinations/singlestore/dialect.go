package singlestore

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/models"
)

// readerPrefix routes a LOCAL INFILE name to a registered reader handler
// instead of the file system.
const readerPrefix = "Reader::"

// quoteIdent quotes a table or column name with backticks.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// columnList renders the column clause of the load statement.
func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// loadStatement builds the streamed bulk-load statement for spec. The file
// extension tells the store which decompressor to apply.
func loadStatement(spec core.LoadSpec) string {
	return fmt.Sprintf("LOAD DATA LOCAL INFILE '%s%s' INTO TABLE %s (%s)",
		readerPrefix, spec.FileName, quoteIdent(spec.Table), columnList(spec.Columns))
}

// markerInsert inserts one {identity, count} row into the metadata table.
func markerInsert(metadataTable string) string {
	return fmt.Sprintf("INSERT INTO %s VALUES (?, ?)", quoteIdent(metadataTable))
}

// markerSelect reads the count of one marker row.
func markerSelect(metadataTable string) string {
	return fmt.Sprintf("SELECT `count` FROM %s WHERE `id` = ?", quoteIdent(metadataTable))
}

// createMetadataTable creates the marker table. The primary key on id is
// what makes a second claim of the same batch fail.
func createMetadataTable(metadataTable string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (`id` VARCHAR(255) NOT NULL, `count` INT NOT NULL, PRIMARY KEY (`id`))",
		quoteIdent(metadataTable))
}

// createTable builds CREATE TABLE IF NOT EXISTS from a record schema.
func createTable(table string, schema *models.Schema) string {
	columns := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		null := " NOT NULL"
		if f.Optional {
			null = " NULL"
		}
		columns = append(columns, quoteIdent(f.Name)+" "+columnType(f)+null)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(columns, ", "))
}

// showCreateTable returns the statement used to detect reference tables.
func showCreateTable(table string) string {
	return "SHOW CREATE TABLE " + quoteIdent(table)
}

// Decimal bounds of the store.
const (
	maxDecimalPrecision = 65
	maxDecimalScale     = 30
)

// columnType maps schema field types to store column types.
func columnType(f models.Field) string {
	switch f.Type {
	case models.FieldTypeInt8:
		return "TINYINT"
	case models.FieldTypeInt16:
		return "SMALLINT"
	case models.FieldTypeInt32:
		return "INT"
	case models.FieldTypeInt64:
		return "BIGINT"
	case models.FieldTypeFloat32:
		return "FLOAT"
	case models.FieldTypeFloat64:
		return "DOUBLE"
	case models.FieldTypeBool:
		return "TINYINT(1)"
	case models.FieldTypeBytes:
		return "LONGBLOB"
	case models.FieldTypeTimestamp:
		return "DATETIME(6)"
	case models.FieldTypeDate:
		return "DATE"
	case models.FieldTypeTime:
		return "TIME(6)"
	case models.FieldTypeDecimal:
		return decimalType(f.Precision, f.Scale)
	case models.FieldTypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

// decimalType clamps Avro decimal bounds to what the store accepts. A
// missing precision takes the maximum.
func decimalType(precision, scale int) string {
	if precision <= 0 || precision > maxDecimalPrecision {
		precision = maxDecimalPrecision
	}
	scale = max(0, min(scale, maxDecimalScale, precision))
	return fmt.Sprintf("DECIMAL(%d,%d)", precision, scale)
}
