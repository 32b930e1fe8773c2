// Package fieldstats computes per-field statistics of the analysed table and
// caches them through a FieldStatsRepository with a staleness TTL.
package fieldstats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	"github.com/ekaya-inc/ekaya-entropy/pkg/repositories"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

const (
	// DefaultTTL is how long a cached record is served before recomputation.
	DefaultTTL = 30 * 24 * time.Hour

	maxExamples     = 5
	defaultParallel = 4
)

// Source is the part of a datasource the service queries.
type Source interface {
	ExecuteQuery(ctx context.Context, query string) (*datasource.QueryExecutionResult, error)
	ExecuteScalar(ctx context.Context, query string) (string, error)
	Dialect() sqlutil.Dialect
}

// Service computes and caches field statistics for one table.
type Service struct {
	src      Source
	table    string
	store    repositories.FieldStatsRepository
	ttl      time.Duration
	parallel int
	now      func() time.Time
	group    singleflight.Group
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithParallelism bounds the number of fields computed concurrently by All.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallel = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service. store may be nil, in which case nothing is cached.
func NewService(src Source, table string, store repositories.FieldStatsRepository, opts ...Option) *Service {
	s := &Service{
		src:      src,
		table:    table,
		store:    store,
		ttl:      DefaultTTL,
		parallel: defaultParallel,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("field-stats").With(zap.String("table", table))
	return s
}

func (s *Service) Table() string { return s.table }
func (s *Service) TTL() time.Duration { return s.ttl }

// Get returns the statistics of field, served from the cache when the cached
// record is younger than the TTL. Concurrent calls for the same field share
// one computation.
func (s *Service) Get(ctx context.Context, field models.FieldDescriptor) (*models.FieldStats, error) {
	v, err, _ := s.group.Do(field.Name, func() (any, error) {
		return s.load(ctx, field)
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own copy.
	stats := *v.(*models.FieldStats)
	return &stats, nil
}

func (s *Service) load(ctx context.Context, field models.FieldDescriptor) (*models.FieldStats, error) {
	now := s.now()

	if s.store != nil {
		cached, err := s.store.Get(ctx, s.table, field.Name)
		if err != nil {
			s.logger.Warn("field stats cache read failed, recomputing",
				zap.String("field", field.Name),
				zap.String("error", logging.SanitizeError(err)))
		} else if cached != nil && now.Sub(cached.LastCompiled) <= s.ttl {
			s.logger.Debug("field stats cache hit",
				zap.String("field", field.Name),
				zap.Time("last_compiled", cached.LastCompiled))
			return cached, nil
		}
	}

	stats, err := s.compute(ctx, field)
	if err != nil {
		return nil, err
	}
	stats.LastCompiled = now

	if s.store != nil {
		if err := s.store.Upsert(ctx, stats); err != nil {
			s.logger.Warn("field stats cache write failed",
				zap.String("field", field.Name),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	s.logger.Info("compiled field stats",
		zap.String("field", field.Name),
		zap.Int64("unique", stats.Unique),
		zap.Duration("elapsed", s.now().Sub(now)))
	return stats, nil
}

func (s *Service) compute(ctx context.Context, field models.FieldDescriptor) (*models.FieldStats, error) {
	d := s.src.Dialect()
	col := d.QuoteIdentifier(field.Name)
	from := d.QuoteTable(s.table)

	stats := &models.FieldStats{Table: s.table, Field: field.Name}

	unique, err := s.scalar(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", col, from))
	if err != nil {
		return nil, err
	}
	if unique != "" {
		if stats.Unique, err = strconv.ParseInt(unique, 10, 64); err != nil {
			return nil, fmt.Errorf("unique count of %s: %w", field.Name, err)
		}
	}

	// MIN/MAX have no boolean form on either dialect; AVG/STDDEV only apply to numbers.
	if field.Type != models.FieldTypeBoolean {
		if stats.Min, err = s.stat(ctx, fmt.Sprintf("SELECT MIN(%s) FROM %s", col, from)); err != nil {
			return nil, err
		}
		if stats.Max, err = s.stat(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s", col, from)); err != nil {
			return nil, err
		}
	}
	if field.Type.IsNumeric() {
		num := d.CastReal(col)
		if stats.Avg, err = s.stat(ctx, fmt.Sprintf("SELECT AVG(%s) FROM %s", num, from)); err != nil {
			return nil, err
		}
		if stats.StdDev, err = s.stat(ctx, fmt.Sprintf("SELECT %s FROM %s", d.StdDev(num), from)); err != nil {
			return nil, err
		}
	}

	switch field.Type {
	case models.FieldTypeString:
		stats.Special, err = s.stringSpecial(ctx, d, col, from)
	case models.FieldTypeBoolean:
		stats.Special, err = s.booleanSpecial(ctx, d, col, from)
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Service) stringSpecial(ctx context.Context, d sqlutil.Dialect, col, from string) (string, error) {
	avgLen, err := s.scalar(ctx, fmt.Sprintf("SELECT AVG(%s) FROM %s", d.CastReal(d.TextLength(col)), from))
	if err != nil {
		return "", err
	}
	examples, err := s.distinct(ctx, col, from, maxExamples)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Average string length: %s; Examples: %s",
		models.ParseStat(avgLen).Display(), strings.Join(examples, ", ")), nil
}

func (s *Service) booleanSpecial(ctx context.Context, d sqlutil.Dialect, col, from string) (string, error) {
	count := func(v bool) (int64, error) {
		text, err := s.scalar(ctx, fmt.Sprintf("SELECT COUNT(%s) FROM %s WHERE %s = %s", col, from, col, d.BooleanLiteral(v)))
		if err != nil || text == "" {
			return 0, err
		}
		return strconv.ParseInt(text, 10, 64)
	}
	t, err := count(true)
	if err != nil {
		return "", err
	}
	f, err := count(false)
	if err != nil {
		return "", err
	}
	if f == 0 {
		return "True/False ratio: n/a", nil
	}
	return fmt.Sprintf("True/False ratio: %.2f", float64(t)/float64(f)), nil
}

func (s *Service) scalar(ctx context.Context, query string) (string, error) {
	text, err := s.src.ExecuteScalar(ctx, query)
	if err != nil {
		return "", fmt.Errorf("field stats query: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (s *Service) stat(ctx context.Context, query string) (models.Stat, error) {
	text, err := s.scalar(ctx, query)
	if err != nil {
		return models.Stat{}, err
	}
	return models.ParseStat(text), nil
}

func (s *Service) distinct(ctx context.Context, col, from string, limit int) ([]string, error) {
	d := s.src.Dialect()
	query := fmt.Sprintf("SELECT DISTINCT %s AS value FROM %s", col, from)
	if limit > 0 {
		query = d.OrderedLimit(query, "value", limit)
	} else {
		query += " ORDER BY value"
	}

	result, err := s.src.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct values of %s: %w", col, err)
	}
	values := make([]string, 0, result.NRows())
	for i := 0; i < result.NRows(); i++ {
		values = append(values, result.Text(i, "value"))
	}
	return values, nil
}

// Uniques lists up to limit distinct values of field in ascending order.
// A limit of zero lists all of them.
func (s *Service) Uniques(ctx context.Context, field string, limit int) ([]string, error) {
	d := s.src.Dialect()
	return s.distinct(ctx, d.QuoteIdentifier(field), d.QuoteTable(s.table), limit)
}

// TotalRecords counts the rows of the table.
func (s *Service) TotalRecords(ctx context.Context) (int64, error) {
	text, err := s.scalar(ctx, "SELECT COUNT(*) FROM "+s.src.Dialect().QuoteTable(s.table))
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}
	return strconv.ParseInt(text, 10, 64)
}

// All returns statistics for every field, computing at most the configured
// number of fields at a time. Results keep the order of fields.
func (s *Service) All(ctx context.Context, fields []models.FieldDescriptor) ([]*models.FieldStats, error) {
	out := make([]*models.FieldStats, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, f := range fields {
		i, f := i, f
		g.Go(func() error {
			stats, err := s.Get(gctx, f)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops the cached record of field.
func (s *Service) Invalidate(ctx context.Context, field string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, s.table, field)
}

// BinStats returns the population of each bin of attr in bin order. For
// quantitative bins Lower/Upper are the smallest and largest raw values seen
// in the bin; for passthrough bins they are the value itself and Bin is the
// value's ordinal.
func (s *Service) BinStats(ctx context.Context, attr *attribute.Attribute) ([]models.BinStat, error) {
	if !attr.IsResolved() {
		return nil, fmt.Errorf("bin stats of unresolved attribute %s", attr.Name)
	}
	d := attr.Dialect()
	from := d.QuoteTable(s.table)
	hash := attr.HashExpression()
	quantitative := attr.Bin.IsQuantitative()

	var query string
	if quantitative {
		raw := attr.RawExpression()
		query = fmt.Sprintf("SELECT %s AS bin, COUNT(*) AS cnt, MIN(%s) AS x1, MAX(%s) AS x2 FROM %s GROUP BY %s ORDER BY bin",
			hash, raw, raw, from, hash)
	} else {
		query = fmt.Sprintf("SELECT %s AS bin, COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY bin",
			hash, from, hash)
	}

	result, err := s.src.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("bin stats of %s: %w", attr.Name, err)
	}

	out := make([]models.BinStat, 0, result.NRows())
	var total int64
	for i := 0; i < result.NRows(); i++ {
		cnt, err := result.Int(i, "cnt")
		if err != nil {
			return nil, fmt.Errorf("bin stats of %s: %w", attr.Name, err)
		}
		b := models.BinStat{Count: cnt}
		if quantitative {
			if b.Bin, err = result.Int(i, "bin"); err != nil {
				return nil, fmt.Errorf("bin stats of %s: %w", attr.Name, err)
			}
			b.Lower, b.Upper = result.Text(i, "x1"), result.Text(i, "x2")
		} else {
			b.Bin = int64(i)
			b.Lower = result.Text(i, "bin")
			b.Upper = b.Lower
		}
		total += cnt
		out = append(out, b)
	}
	for i := range out {
		out[i].Probability = float64(out[i].Count) / float64(total)
	}
	return out, nil
}
