//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	"github.com/ekaya-inc/ekaya-entropy/pkg/testhelpers"
)

func sampleStats(table string) *models.FieldStats {
	return &models.FieldStats{
		Table:        table,
		Field:        "price",
		Unique:       12,
		Min:          models.ParseStat("1"),
		Max:          models.ParseStat("99.5"),
		Avg:          models.ParseStat("42.25"),
		StdDev:       models.ParseStat("3"),
		LastCompiled: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFieldStatsRepository_RoundTrip(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	repo := NewFieldStatsRepository(testDB.Pool)
	ctx := context.Background()
	table := "t_" + uuid.NewString()[:8]

	got, err := repo.Get(ctx, table, "price")
	require.NoError(t, err)
	assert.Nil(t, got, "missing record is not an error")

	require.NoError(t, repo.Upsert(ctx, sampleStats(table)))

	got, err = repo.Get(ctx, table, "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(12), got.Unique)
	assert.Equal(t, "99.5", got.Max.Text)
	assert.True(t, got.Avg.Reliable)
	assert.InDelta(t, 42.25, got.Avg.Value, 1e-9)
	assert.True(t, got.LastCompiled.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	require.NoError(t, repo.Delete(ctx, table, "price"))
	got, err = repo.Get(ctx, table, "price")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFieldStatsRepository_UpsertReplaces(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	repo := NewFieldStatsRepository(testDB.Pool)
	ctx := context.Background()
	table := "t_" + uuid.NewString()[:8]

	first := sampleStats(table)
	require.NoError(t, repo.Upsert(ctx, first))

	second := sampleStats(table)
	second.Min = models.ParseStat("apple")
	second.Special = "Average string length: 5.00; Examples: apple"
	second.LastCompiled = first.LastCompiled.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.Get(ctx, table, "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Min.Reliable, "text aggregates are unreliable")
	assert.Equal(t, "apple", got.Min.Text)
	assert.Equal(t, second.Special, got.Special)
	assert.True(t, got.LastCompiled.Equal(second.LastCompiled))

	var rows int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM entropy_field_stats WHERE table_name = $1", table).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestRedisFieldStatsRepository_RoundTrip(t *testing.T) {
	testRedis := testhelpers.GetTestRedis(t)
	repo := NewRedisFieldStatsRepository(testRedis.Client, time.Minute)
	ctx := context.Background()
	table := "t_" + uuid.NewString()[:8]

	got, err := repo.Get(ctx, table, "price")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Upsert(ctx, sampleStats(table)))

	got, err = repo.Get(ctx, table, "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "42.25", got.Avg.Text)
	assert.True(t, got.Avg.Reliable)

	ttl, err := testRedis.Client.TTL(ctx, fieldStatsKey(table, "price")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, repo.Delete(ctx, table, "price"))
	got, err = repo.Get(ctx, table, "price")
	require.NoError(t, err)
	assert.Nil(t, got)
}
