package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = DialectFor("sqlserver")
	require.NoError(t, err)
	assert.Equal(t, "mssql", d.Name())

	_, err = DialectFor("bigquery")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedDialect)
}

func TestPostgresDialect_Quoting(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, `"amount"`, d.QuoteIdentifier("amount"))
	assert.Equal(t, `"we""ird"`, d.QuoteIdentifier(`we"ird`))
	assert.Equal(t, `"public"."facts"`, d.QuoteTable("public.facts"))
	assert.Equal(t, `'O''Brien'`, d.QuoteLiteral("O'Brien"))
	assert.Equal(t, "TRUE", d.TruePredicate())
}

func TestPostgresDialect_Fragments(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, `md5(CAST(("a","b") AS text))`, d.Digest([]string{`"a"`, `"b"`}))
	assert.Equal(t, `extract(epoch from "ts")`, d.EpochSeconds(`"ts"`))
	assert.Equal(t, `CAST('2020-01-01 00:00:00' AS timestamp)`, d.TimestampLiteral("2020-01-01 00:00:00"))
	assert.Equal(t, `SELECT 1 LIMIT 5`, d.LimitRows("SELECT 1", 5))
	assert.Equal(t, `SELECT * FROM (SELECT DISTINCT "c" AS value FROM "t") AS _ordered ORDER BY value LIMIT 5`,
		d.OrderedLimit(`SELECT DISTINCT "c" AS value FROM "t"`, "value", 5))
	assert.Equal(t, `(SELECT * FROM "t" LIMIT 10) _sstn`, d.LimitedTable(`"t"`, 10))
}

func TestSQLServerDialect_Quoting(t *testing.T) {
	d := SQLServerDialect{}

	assert.Equal(t, "[amount]", d.QuoteIdentifier("amount"))
	assert.Equal(t, "[we]]ird]", d.QuoteIdentifier("we]ird"))
	assert.Equal(t, "[dbo].[facts]", d.QuoteTable("dbo.facts"))
	assert.Equal(t, "N'O''Brien'", d.QuoteLiteral("O'Brien"))
	assert.Equal(t, "1=1", d.TruePredicate())
	assert.Equal(t, "1", d.BooleanLiteral(true))
}

func TestSQLServerDialect_Digest(t *testing.T) {
	d := SQLServerDialect{}

	assert.Equal(t,
		"CONVERT(varchar(32), HASHBYTES('MD5', CAST([a] AS nvarchar(max))), 2)",
		d.Digest([]string{"[a]"}))
	assert.Equal(t,
		"CONVERT(varchar(32), HASHBYTES('MD5', CONCAT(CAST([a] AS nvarchar(max)), N'|', CAST([b] AS nvarchar(max)))), 2)",
		d.Digest([]string{"[a]", "[b]"}))
}

func TestSQLServerDialect_LimitRows(t *testing.T) {
	d := SQLServerDialect{}
	assert.Equal(t, "SELECT TOP (3) * FROM (SELECT 1 AS x) AS _limited", d.LimitRows("SELECT 1 AS x", 3))
	assert.Equal(t, "SELECT TOP (3) * FROM (SELECT 1 AS x) AS _ordered ORDER BY x", d.OrderedLimit("SELECT 1 AS x", "x", 3))
}
