package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// FieldStatsRepository persists the field statistics cache, one record per (table, field).
type FieldStatsRepository interface {
	// Get returns the cached statistics, or nil when the field has no record.
	Get(ctx context.Context, table, field string) (*models.FieldStats, error)

	// Upsert creates or replaces the record for stats.Table + stats.Field.
	Upsert(ctx context.Context, stats *models.FieldStats) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, table, field string) error
}

// DBTX is the subset of pgxpool.Pool / pgx.Tx the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type fieldStatsRepository struct {
	db DBTX
}

// NewFieldStatsRepository creates a FieldStatsRepository over the engine database.
func NewFieldStatsRepository(db DBTX) FieldStatsRepository {
	return &fieldStatsRepository{db: db}
}

var _ FieldStatsRepository = (*fieldStatsRepository)(nil)

func (r *fieldStatsRepository) Get(ctx context.Context, table, field string) (*models.FieldStats, error) {
	query := `
		SELECT avg, min, max, stddev, unique_count, special, last_compiled
		FROM entropy_field_stats
		WHERE table_name = $1 AND field_name = $2`

	var (
		avg, minText, maxText, stddev, special string
		unique                                 int64
		lastCompiled                           time.Time
	)
	err := r.db.QueryRow(ctx, query, table, field).Scan(
		&avg, &minText, &maxText, &stddev, &unique, &special, &lastCompiled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field stats for %s.%s: %w", table, field, err)
	}

	return &models.FieldStats{
		Table:        table,
		Field:        field,
		Unique:       unique,
		Min:          models.ParseStat(minText),
		Max:          models.ParseStat(maxText),
		Avg:          models.ParseStat(avg),
		StdDev:       models.ParseStat(stddev),
		Special:      special,
		LastCompiled: lastCompiled,
	}, nil
}

func (r *fieldStatsRepository) Upsert(ctx context.Context, stats *models.FieldStats) error {
	if stats.LastCompiled.IsZero() {
		stats.LastCompiled = time.Now()
	}

	query := `
		INSERT INTO entropy_field_stats (
			table_name, field_name, avg, min, max, stddev, unique_count, special, last_compiled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (table_name, field_name)
		DO UPDATE SET
			avg = EXCLUDED.avg,
			min = EXCLUDED.min,
			max = EXCLUDED.max,
			stddev = EXCLUDED.stddev,
			unique_count = EXCLUDED.unique_count,
			special = EXCLUDED.special,
			last_compiled = EXCLUDED.last_compiled`

	_, err := r.db.Exec(ctx, query,
		stats.Table,
		stats.Field,
		stats.Avg.Text,
		stats.Min.Text,
		stats.Max.Text,
		stats.StdDev.Text,
		stats.Unique,
		stats.Special,
		stats.LastCompiled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert field stats for %s.%s: %w", stats.Table, stats.Field, err)
	}
	return nil
}

func (r *fieldStatsRepository) Delete(ctx context.Context, table, field string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM entropy_field_stats WHERE table_name = $1 AND field_name = $2`,
		table, field)
	if err != nil {
		return fmt.Errorf("failed to delete field stats for %s.%s: %w", table, field, err)
	}
	return nil
}
