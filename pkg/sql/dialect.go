package sql

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

// Dialect renders the vendor specific fragments of generated entropy queries.
// Implementations are stateless and safe for concurrent use.
type Dialect interface {
	Name() string

	QuoteIdentifier(name string) string
	// QuoteTable quotes a possibly schema-qualified table name ("schema.table").
	QuoteTable(name string) string
	QuoteLiteral(value string) string
	BooleanLiteral(value bool) string
	TruePredicate() string

	// Digest returns a collision resistant text digest over a tuple of expressions.
	Digest(exprs []string) string
	EpochSeconds(expr string) string
	FromEpochSeconds(expr string) string
	TimestampLiteral(value string) string

	CastInteger(expr string) string
	CastReal(expr string) string
	CastText(expr string) string
	Floor(expr string) string
	TextLength(expr string) string
	StdDev(expr string) string

	// LimitRows caps a complete SELECT statement to n rows.
	LimitRows(query string, n int) string
	// OrderedLimit returns the first n rows of query ordered by orderBy,
	// which must name an output column of query.
	OrderedLimit(query, orderBy string, n int) string
	// LimitedTable returns a derived table reading at most n rows of table.
	LimitedTable(table string, n int) string
}

// DialectFor returns the dialect registered for a datasource type.
func DialectFor(dsType string) (Dialect, error) {
	switch strings.ToLower(dsType) {
	case "postgres", "postgresql":
		return PostgresDialect{}, nil
	case "mssql", "sqlserver":
		return SQLServerDialect{}, nil
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDialect, dsType)
}

func escapeQuotes(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// PostgresDialect renders PostgreSQL.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (PostgresDialect) QuoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (PostgresDialect) QuoteLiteral(value string) string {
	return "'" + escapeQuotes(value) + "'"
}

func (PostgresDialect) BooleanLiteral(value bool) string {
	if value {
		return "TRUE"
	}
	return "FALSE"
}

func (PostgresDialect) TruePredicate() string { return "TRUE" }

func (PostgresDialect) Digest(exprs []string) string {
	return fmt.Sprintf("md5(CAST((%s) AS text))", strings.Join(exprs, ","))
}

func (PostgresDialect) EpochSeconds(expr string) string {
	return fmt.Sprintf("extract(epoch from %s)", expr)
}

func (PostgresDialect) FromEpochSeconds(expr string) string {
	return fmt.Sprintf("to_timestamp(%s)", expr)
}

func (d PostgresDialect) TimestampLiteral(value string) string {
	return fmt.Sprintf("CAST(%s AS timestamp)", d.QuoteLiteral(value))
}

func (PostgresDialect) CastInteger(expr string) string {
	return fmt.Sprintf("CAST(%s AS bigint)", expr)
}

func (PostgresDialect) CastReal(expr string) string {
	return fmt.Sprintf("CAST(%s AS double precision)", expr)
}

func (PostgresDialect) CastText(expr string) string {
	return fmt.Sprintf("CAST(%s AS text)", expr)
}

func (PostgresDialect) Floor(expr string) string { return fmt.Sprintf("FLOOR(%s)", expr) }

func (PostgresDialect) TextLength(expr string) string { return fmt.Sprintf("LENGTH(%s)", expr) }

func (PostgresDialect) StdDev(expr string) string { return fmt.Sprintf("STDDEV(%s)", expr) }

func (PostgresDialect) LimitRows(query string, n int) string {
	return fmt.Sprintf("%s LIMIT %d", query, n)
}

func (PostgresDialect) OrderedLimit(query, orderBy string, n int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _ordered ORDER BY %s LIMIT %d", query, orderBy, n)
}

func (PostgresDialect) LimitedTable(table string, n int) string {
	return fmt.Sprintf("(SELECT * FROM %s LIMIT %d) _sstn", table, n)
}

// SQLServerDialect renders Microsoft SQL Server (2016+).
type SQLServerDialect struct{}

func (SQLServerDialect) Name() string { return "mssql" }

// QuoteIdentifier mirrors QUOTENAME: square brackets with ] escaped as ]].
func (SQLServerDialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d SQLServerDialect) QuoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (SQLServerDialect) QuoteLiteral(value string) string {
	return "N'" + escapeQuotes(value) + "'"
}

func (SQLServerDialect) BooleanLiteral(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

func (SQLServerDialect) TruePredicate() string { return "1=1" }

func (d SQLServerDialect) Digest(exprs []string) string {
	parts := make([]string, 0, 2*len(exprs))
	for i, e := range exprs {
		if i > 0 {
			parts = append(parts, "N'|'")
		}
		parts = append(parts, d.CastText(e))
	}
	joined := parts[0]
	if len(parts) > 1 {
		joined = "CONCAT(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("CONVERT(varchar(32), HASHBYTES('MD5', %s), 2)", joined)
}

func (SQLServerDialect) EpochSeconds(expr string) string {
	return fmt.Sprintf("CAST(DATEDIFF_BIG(second, '1970-01-01', %s) AS float)", expr)
}

func (SQLServerDialect) FromEpochSeconds(expr string) string {
	return fmt.Sprintf("DATEADD(second, CAST(%s AS int), CAST('1970-01-01' AS datetime2))", expr)
}

func (d SQLServerDialect) TimestampLiteral(value string) string {
	return fmt.Sprintf("CAST(%s AS datetime2)", d.QuoteLiteral(value))
}

func (SQLServerDialect) CastInteger(expr string) string {
	return fmt.Sprintf("CAST(%s AS bigint)", expr)
}

func (SQLServerDialect) CastReal(expr string) string {
	return fmt.Sprintf("CAST(%s AS float)", expr)
}

func (SQLServerDialect) CastText(expr string) string {
	return fmt.Sprintf("CAST(%s AS nvarchar(max))", expr)
}

func (SQLServerDialect) Floor(expr string) string { return fmt.Sprintf("FLOOR(%s)", expr) }

func (SQLServerDialect) TextLength(expr string) string { return fmt.Sprintf("LEN(%s)", expr) }

func (SQLServerDialect) StdDev(expr string) string { return fmt.Sprintf("STDEV(%s)", expr) }

func (SQLServerDialect) LimitRows(query string, n int) string {
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", n, query)
}

func (SQLServerDialect) OrderedLimit(query, orderBy string, n int) string {
	return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _ordered ORDER BY %s", n, query, orderBy)
}

func (SQLServerDialect) LimitedTable(table string, n int) string {
	return fmt.Sprintf("(SELECT TOP (%d) * FROM %s) AS _sstn", n, table)
}

var (
	_ Dialect = PostgresDialect{}
	_ Dialect = SQLServerDialect{}
)
