package bins

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

var pg = sqlutil.PostgresDialect{}

func TestForFieldType(t *testing.T) {
	assert.Equal(t, KindNumeric, ForFieldType(models.FieldTypeInteger, DefaultEpochAnchor).Kind())
	assert.Equal(t, KindNumeric, ForFieldType(models.FieldTypeReal, DefaultEpochAnchor).Kind())
	assert.Equal(t, KindTimestamp, ForFieldType(models.FieldTypeDate, DefaultEpochAnchor).Kind())
	assert.Equal(t, KindTimestamp, ForFieldType(models.FieldTypeTime, DefaultEpochAnchor).Kind())
	assert.Equal(t, KindPassthrough, ForFieldType(models.FieldTypeString, DefaultEpochAnchor).Kind())
	assert.Equal(t, KindPassthrough, ForFieldType(models.FieldTypeBoolean, DefaultEpochAnchor).Kind())
}

func TestNumeric_IndexAndLowerBound(t *testing.T) {
	b := NewNumeric()
	assert.Equal(t, 1.0, b.Width())
	assert.Equal(t, int64(7), b.Index(7))
	assert.Equal(t, 7.0, b.LowerBound(b.Index(7)), "width 1 round-trips exactly")

	require.NoError(t, b.SetWidth(5))
	assert.Equal(t, int64(1), b.Index(7))
	assert.Equal(t, 5.0, b.LowerBound(b.Index(7)), "wider bins return the lower boundary")
	assert.Equal(t, int64(-1), b.Index(-0.5), "floor, not truncation")
}

func TestNumeric_SQL(t *testing.T) {
	b := NewNumeric()
	require.NoError(t, b.SetWidth(2.5))

	assert.Equal(t, `CAST(FLOOR(CAST("price" AS double precision)/2.5) AS bigint)`, b.AttrToBin(pg, `"price"`))
	assert.Equal(t, `CAST(FLOOR(CAST(10 AS double precision)/2.5) AS bigint)`, b.ValToBin(pg, "10"))
	assert.Equal(t, `CAST(FLOOR(CAST('x' AS double precision)/2.5) AS bigint)`, b.ValToBin(pg, "x"))
	assert.Equal(t, `(b * 2.5)`, b.BinToVal(pg, "b"))
	assert.Equal(t, "2.5 numbers", b.Description())
}

func TestTimestamp_SQL(t *testing.T) {
	b := NewTimestamp(DefaultEpochAnchor)
	assert.Equal(t, 15.0, b.Width())
	assert.Equal(t, "15 minutes", b.Description())

	assert.Equal(t,
		`CAST(FLOOR(((extract(epoch from "ts") - 250100000)/60.0)/15) AS bigint)`,
		b.AttrToBin(pg, `"ts"`))
	assert.Equal(t,
		`CAST(FLOOR(((extract(epoch from CAST('2024-01-01' AS timestamp)) - 250100000)/60.0)/15) AS bigint)`,
		b.ValToBin(pg, "2024-01-01"))
	assert.Equal(t, `to_timestamp((i * 15 * 60.0 + 250100000))`, b.BinToVal(pg, "i"))

	s, ok := CurrentSuggestion(b)
	require.True(t, ok)
	assert.Equal(t, "15 minutes", s.Label)
}

func TestTimestamp_CustomAnchor(t *testing.T) {
	b := NewTimestamp(0)
	assert.Equal(t, `((extract(epoch from x) - 0)/60.0)`, b.ToBasicUnit(pg, "x"))
}

func TestPassthrough(t *testing.T) {
	text := NewPassthrough(true)
	assert.False(t, text.IsQuantitative())
	assert.Equal(t, `"c"`, text.AttrToBin(pg, `"c"`))
	assert.Equal(t, `'y'`, text.ValToBin(pg, "y"))
	assert.Equal(t, `'it''s'`, text.ValToBin(pg, "it's"))
	assert.Equal(t, `'42'`, text.ValToBin(pg, "42"), "textual domains always quote")

	flag := NewPassthrough(false)
	assert.Equal(t, "TRUE", flag.ValToBin(pg, "true"))
	assert.Equal(t, "1", flag.ValToBin(sqlutil.SQLServerDialect{}, "TRUE"))
	assert.Equal(t, "42", flag.ValToBin(pg, "42"))

	assert.NoError(t, text.SetWidth(1))
	assert.ErrorIs(t, text.SetWidth(3), apperrors.ErrInvalidBinWidth)
	assert.Equal(t, []Suggestion{{Label: "<identity>", Width: 1}}, text.Suggestions())
}

func TestSetWidth_RejectsInvalid(t *testing.T) {
	b := NewNumeric()
	for _, w := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, b.SetWidth(w), apperrors.ErrInvalidBinWidth)
	}
	assert.Equal(t, 1.0, b.Width())
}

func TestUnitLabel(t *testing.T) {
	b := NewTimestamp(DefaultEpochAnchor)
	require.NoError(t, b.SetWidth(1))
	assert.Equal(t, "minute", b.UnitLabel())
	require.NoError(t, b.SetWidth(2))
	assert.Equal(t, "minutes", b.UnitLabel())
}

type fakeScalar struct {
	result  string
	err     error
	queries []string
}

func (f *fakeScalar) ExecuteScalar(_ context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func numericSubject() Subject {
	return Subject{Bin: NewNumeric(), Column: `"a"`, Table: `"t"`, Dialect: pg}
}

func TestExact(t *testing.T) {
	q := &fakeScalar{}
	s := numericSubject()
	require.NoError(t, Apply(context.Background(), Exact{Value: 3}, q, s))
	assert.Equal(t, 3.0, s.Bin.Width())
	assert.Empty(t, q.queries, "exact needs no round trip")
}

func TestDivide(t *testing.T) {
	q := &fakeScalar{result: "12.5"}
	s := numericSubject()
	require.NoError(t, Apply(context.Background(), Divide{By: 4}, q, s))
	assert.Equal(t, 12.5, s.Bin.Width())
	require.Len(t, q.queries, 1)
	assert.Equal(t,
		`SELECT (MAX(CAST("a" AS double precision)) - MIN(CAST("a" AS double precision))) / 4 FROM "t"`,
		q.queries[0])
}

func TestDivide_NonQuantitative(t *testing.T) {
	q := &fakeScalar{}
	w, err := Divide{By: 4}.Width(context.Background(), q, Subject{Bin: NewPassthrough(true), Dialect: pg})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w)
	assert.Empty(t, q.queries)

	w, err = DivideIfMore{By: 4, Threshold: 1}.Width(context.Background(), q, Subject{Bin: NewPassthrough(true), Dialect: pg})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w)
}

func TestDivideIfMore(t *testing.T) {
	s := numericSubject()
	require.NoError(t, s.Bin.SetWidth(2))

	// Below threshold the database echoes the current width back.
	q := &fakeScalar{result: "2"}
	require.NoError(t, Apply(context.Background(), DivideIfMore{By: 10, Threshold: 100}, q, s))
	assert.Equal(t, 2.0, s.Bin.Width())
	assert.Contains(t, q.queries[0], ">= 100 THEN")
	assert.Contains(t, q.queries[0], "ELSE 2 END")

	q = &fakeScalar{result: "25"}
	require.NoError(t, Apply(context.Background(), DivideIfMore{By: 10, Threshold: 100}, q, s))
	assert.Equal(t, 25.0, s.Bin.Width())
}

func TestApply_InvalidWidthLeavesBinUnchanged(t *testing.T) {
	s := numericSubject()

	err := Apply(context.Background(), Divide{By: 4}, &fakeScalar{result: "0"}, s)
	assert.ErrorIs(t, err, apperrors.ErrInvalidBinWidth)
	assert.Equal(t, 1.0, s.Bin.Width())

	err = Apply(context.Background(), Divide{By: 4}, &fakeScalar{result: ""}, s)
	assert.ErrorIs(t, err, apperrors.ErrInvalidBinWidth)
	assert.Equal(t, 1.0, s.Bin.Width())
}

func TestApply_QueryError(t *testing.T) {
	boom := errors.New("boom")
	err := Apply(context.Background(), Divide{By: 4}, &fakeScalar{err: boom}, numericSubject())
	assert.ErrorIs(t, err, boom)
}
