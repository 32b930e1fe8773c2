package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

const fieldStatsKeyPrefix = "entropy:field_stats:"

type redisFieldStatsRepository struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisFieldStatsRepository stores field statistics as JSON values that
// expire after ttl. A ttl of zero keeps records until deleted.
func NewRedisFieldStatsRepository(client redis.Cmdable, ttl time.Duration) FieldStatsRepository {
	return &redisFieldStatsRepository{client: client, ttl: ttl}
}

var _ FieldStatsRepository = (*redisFieldStatsRepository)(nil)

func fieldStatsKey(table, field string) string {
	return fieldStatsKeyPrefix + table + ":" + field
}

func (r *redisFieldStatsRepository) Get(ctx context.Context, table, field string) (*models.FieldStats, error) {
	data, err := r.client.Get(ctx, fieldStatsKey(table, field)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field stats for %s.%s: %w", table, field, err)
	}

	var stats models.FieldStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode field stats for %s.%s: %w", table, field, err)
	}
	return &stats, nil
}

func (r *redisFieldStatsRepository) Upsert(ctx context.Context, stats *models.FieldStats) error {
	if stats.LastCompiled.IsZero() {
		stats.LastCompiled = time.Now()
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode field stats: %w", err)
	}
	if err := r.client.Set(ctx, fieldStatsKey(stats.Table, stats.Field), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store field stats for %s.%s: %w", stats.Table, stats.Field, err)
	}
	return nil
}

func (r *redisFieldStatsRepository) Delete(ctx context.Context, table, field string) error {
	if err := r.client.Del(ctx, fieldStatsKey(table, field)).Err(); err != nil {
		return fmt.Errorf("failed to delete field stats for %s.%s: %w", table, field, err)
	}
	return nil
}
