package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

type fieldsOnlyDataSource struct {
	fields []models.FieldDescriptor
	err    error
	calls  int
}

func (f *fieldsOnlyDataSource) ExecuteQuery(context.Context, string) (*QueryExecutionResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fieldsOnlyDataSource) ExecuteScalar(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fieldsOnlyDataSource) Fields(context.Context, string) ([]models.FieldDescriptor, error) {
	f.calls++
	return f.fields, f.err
}

func (f *fieldsOnlyDataSource) Dialect() sqlutil.Dialect { return sqlutil.PostgresDialect{} }
func (f *fieldsOnlyDataSource) Close() error             { return nil }

func TestTableCatalog_Resolve(t *testing.T) {
	ds := &fieldsOnlyDataSource{fields: []models.FieldDescriptor{
		{Name: "a", Position: 1, Type: models.FieldTypeInteger},
		{Name: "c", Position: 2, Type: models.FieldTypeString},
	}}
	cat := NewTableCatalog(ds, "facas_simple_test")

	f, err := cat.Resolve(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, models.FieldTypeString, f.Type)

	_, err = cat.Resolve(context.Background(), "zzz")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	all, err := cat.Fields(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, ds.calls, "column list is loaded once")

	cat.Invalidate()
	_, err = cat.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, ds.calls)
}

func TestTableCatalog_LoadError(t *testing.T) {
	boom := errors.New("connection refused")
	cat := NewTableCatalog(&fieldsOnlyDataSource{err: boom}, "t")

	_, err := cat.Resolve(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
}
