package models

import "strings"

// FieldType is the domain type of a field as seen by the binning layer.
type FieldType string

const (
	FieldTypeInteger FieldType = "integer"
	FieldTypeReal    FieldType = "real"
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeTime    FieldType = "time"
)

// IsNumeric returns true for integer and real fields.
func (t FieldType) IsNumeric() bool {
	return t == FieldTypeInteger || t == FieldTypeReal
}

// IsTemporal returns true for date and time fields.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeTime
}

// IsTextual returns true when literals of this type must be quoted.
func (t FieldType) IsTextual() bool {
	return t == FieldTypeString || t.IsTemporal()
}

// FieldTypeFromDatabase maps a database type name (information_schema data_type
// for PostgreSQL, sys.types name for SQL Server) onto a FieldType.
// Unknown types are treated as strings.
func FieldTypeFromDatabase(dbType string) FieldType {
	t := strings.ToLower(strings.TrimSpace(dbType))

	switch t {
	case "integer", "int", "smallint", "bigint", "tinyint", "int2", "int4", "int8", "serial", "bigserial":
		return FieldTypeInteger
	case "real", "float", "float4", "float8", "double precision", "numeric", "decimal", "money", "smallmoney":
		return FieldTypeReal
	case "boolean", "bool", "bit":
		return FieldTypeBoolean
	case "time", "time without time zone", "time with time zone":
		return FieldTypeTime
	}

	if strings.Contains(t, "time") || strings.Contains(t, "date") {
		return FieldTypeDate
	}
	return FieldTypeString
}

// FieldDescriptor describes a column of the analysed table.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Type     FieldType `json:"type"`
	DataType string    `json:"data_type"` // Database type name as reported by the catalog
}
