package mssql

import (
	"strconv"
	"strings"

	mssqldriver "github.com/microsoft/go-mssqldb" // also registers the "sqlserver" driver

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
)

// parseSchemaTable parses a table name that may include schema.
// SQL Server format: [schema].[table] or schema.table
// Returns (schema, table). Defaults to "dbo" schema if not specified.
func parseSchemaTable(tableName string) (string, string) {
	cleaned := strings.ReplaceAll(tableName, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")

	if i := strings.LastIndex(cleaned, "."); i >= 0 {
		return cleaned[:i], cleaned[i+1:]
	}
	return "dbo", cleaned
}

// mapSQLServerType maps SQL Server type names to the names PostgreSQL reports,
// so result column types read the same across adapters.
func mapSQLServerType(sqlServerType string) string {
	sqlServerType = strings.ToUpper(sqlServerType)

	switch sqlServerType {
	case "INT":
		return "INT4"
	case "BIGINT":
		return "INT8"
	case "SMALLINT", "TINYINT":
		return "INT2"
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return "NUMERIC"
	case "FLOAT":
		return "FLOAT8"
	case "REAL":
		return "FLOAT4"
	case "CHAR", "NCHAR":
		return "BPCHAR"
	case "VARCHAR", "NVARCHAR":
		return "VARCHAR"
	case "TEXT", "NTEXT":
		return "TEXT"
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMPTZ"
	case "BIT":
		return "BOOL"
	case "UNIQUEIDENTIFIER":
		return "UUID"
	default:
		return sqlServerType
	}
}

// normalizeCell converts a scanned go-mssqldb value. The driver returns
// decimals and GUIDs as raw bytes.
func normalizeCell(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return datasource.NormalizeValue(v)
	}

	switch strings.ToUpper(dbType) {
	case "UNIQUEIDENTIFIER":
		var id mssqldriver.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}
