//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestDB_Fixtures(t *testing.T) {
	testDB := GetTestDB(t)
	ctx := context.Background()

	tests := []struct {
		query    string
		expected int
	}{
		{"SELECT COUNT(*) FROM facas_simple_test", 37},
		{"SELECT COUNT(*) FROM facas_simple_test WHERE c = 'y'", 29},
		{"SELECT COUNT(DISTINCT (a, b)) FROM facas_simple_test WHERE c = 'y'", 6},
		{"SELECT COUNT(*) FROM ngram_series_test", 8},
	}

	for _, tt := range tests {
		var count int
		require.NoError(t, testDB.Pool.QueryRow(ctx, tt.query).Scan(&count), tt.query)
		assert.Equal(t, tt.expected, count, tt.query)
	}
}

func TestTestDB_MigrationsApplied(t *testing.T) {
	testDB := GetTestDB(t)

	var exists bool
	err := testDB.Pool.QueryRow(context.Background(),
		"SELECT to_regclass('public.entropy_field_stats') IS NOT NULL").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}
