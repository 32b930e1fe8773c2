package fieldstats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// fakeSource answers scalar queries by the first matching query prefix and
// records every statement it sees.
type fakeSource struct {
	mu      sync.Mutex
	scalars map[string]string
	results map[string]*datasource.QueryExecutionResult
	queries []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scalars: map[string]string{},
		results: map[string]*datasource.QueryExecutionResult{},
	}
}

func (f *fakeSource) record(q string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
}

func (f *fakeSource) ExecuteScalar(_ context.Context, q string) (string, error) {
	f.record(q)
	for prefix, v := range f.scalars {
		if strings.HasPrefix(q, prefix) {
			return v, nil
		}
	}
	return "", nil
}

func (f *fakeSource) ExecuteQuery(_ context.Context, q string) (*datasource.QueryExecutionResult, error) {
	f.record(q)
	for prefix, r := range f.results {
		if strings.HasPrefix(q, prefix) {
			return r, nil
		}
	}
	return &datasource.QueryExecutionResult{}, nil
}

func (f *fakeSource) Dialect() sqlutil.Dialect { return sqlutil.PostgresDialect{} }

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// storedStats is a cache row as the engine database holds it: aggregates as text.
type storedStats struct {
	avg, min, max, stddev string
	unique                int64
	special               string
	lastCompiled          time.Time
}

// memoryStore keeps only the text of each aggregate, like the postgres repository.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]storedStats
	getErr  error
	upserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]storedStats{}}
}

func (m *memoryStore) Get(_ context.Context, table, field string) (*models.FieldStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.records[table+"."+field]
	if !ok {
		return nil, nil
	}
	return &models.FieldStats{
		Table:        table,
		Field:        field,
		Unique:       r.unique,
		Min:          models.ParseStat(r.min),
		Max:          models.ParseStat(r.max),
		Avg:          models.ParseStat(r.avg),
		StdDev:       models.ParseStat(r.stddev),
		Special:      r.special,
		LastCompiled: r.lastCompiled,
	}, nil
}

func (m *memoryStore) Upsert(_ context.Context, s *models.FieldStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.records[s.Table+"."+s.Field] = storedStats{
		avg:          s.Avg.Text,
		min:          s.Min.Text,
		max:          s.Max.Text,
		stddev:       s.StdDev.Text,
		unique:       s.Unique,
		special:      s.Special,
		lastCompiled: s.LastCompiled,
	}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, table, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, table+"."+field)
	return nil
}

func priceSource() *fakeSource {
	src := newFakeSource()
	src.scalars[`SELECT COUNT(DISTINCT "price")`] = "12"
	src.scalars[`SELECT MIN("price")`] = "1"
	src.scalars[`SELECT MAX("price")`] = "99.5"
	src.scalars[`SELECT AVG(CAST("price" AS double precision))`] = "42.25"
	src.scalars[`SELECT STDDEV(CAST("price" AS double precision))`] = "3"
	return src
}

var priceField = models.FieldDescriptor{Name: "price", Position: 1, Type: models.FieldTypeReal}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestService_ComputesNumericStats(t *testing.T) {
	src := priceSource()
	svc := NewService(src, "sales", nil, WithLogger(zaptest.NewLogger(t)))

	stats, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)

	assert.Equal(t, int64(12), stats.Unique)
	assert.Equal(t, "1", stats.Min.Text)
	assert.Equal(t, "99.5", stats.Max.Text)
	assert.Equal(t, "99.50", stats.Max.Display())
	assert.True(t, stats.Avg.Reliable)
	assert.Equal(t, 42.25, stats.Avg.Value)
	assert.Equal(t, 3.0, stats.StdDev.Value)
	assert.Empty(t, stats.Special)
	assert.Contains(t, src.queries, `SELECT MIN("price") FROM "sales"`)
}

func TestService_CacheHitWithinTTL(t *testing.T) {
	src := priceSource()
	store := newMemoryStore()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := NewService(src, "sales", store, WithClock(c.now))

	first, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)
	issued := src.count()
	require.Positive(t, issued)

	c.t = c.t.Add(29 * 24 * time.Hour)
	second, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)

	assert.Equal(t, issued, src.count(), "no aggregate queries on a cache hit")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.upserts)
}

func TestService_CacheHitKeepsSubCentValues(t *testing.T) {
	src := newFakeSource()
	src.scalars[`SELECT COUNT(DISTINCT "rate")`] = "40"
	src.scalars[`SELECT MIN("rate")`] = "0.001"
	src.scalars[`SELECT MAX("rate")`] = "0.0049"
	src.scalars[`SELECT AVG(CAST("rate" AS double precision))`] = "0.00271828"
	src.scalars[`SELECT STDDEV(CAST("rate" AS double precision))`] = "0.000314"
	store := newMemoryStore()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := NewService(src, "rates", store, WithClock(c.now))
	rate := models.FieldDescriptor{Name: "rate", Type: models.FieldTypeReal}

	first, err := svc.Get(context.Background(), rate)
	require.NoError(t, err)
	assert.Equal(t, 0.001, first.Min.Value)

	c.t = c.t.Add(time.Hour)
	second, err := svc.Get(context.Background(), rate)
	require.NoError(t, err)

	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, first.Min, second.Min)
	assert.Equal(t, first.Max, second.Max)
	assert.Equal(t, first.Avg, second.Avg)
	assert.Equal(t, first.StdDev, second.StdDev)
}

func TestService_RecomputesAfterTTL(t *testing.T) {
	src := priceSource()
	store := newMemoryStore()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	svc := NewService(src, "sales", store, WithClock(c.now))

	_, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)
	issued := src.count()

	c.t = start.Add(DefaultTTL + time.Hour)
	stats, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)

	assert.Greater(t, src.count(), issued)
	assert.True(t, stats.LastCompiled.Equal(c.t))
	assert.Equal(t, 2, store.upserts)
}

func TestService_CustomTTL(t *testing.T) {
	src := priceSource()
	store := newMemoryStore()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := NewService(src, "sales", store, WithClock(c.now), WithTTL(time.Hour))
	assert.Equal(t, time.Hour, svc.TTL())

	_, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)
	c.t = c.t.Add(2 * time.Hour)
	_, err = svc.Get(context.Background(), priceField)
	require.NoError(t, err)
	assert.Equal(t, 2, store.upserts)
}

func TestService_StoreReadFailureFallsBackToCompute(t *testing.T) {
	src := priceSource()
	store := newMemoryStore()
	store.getErr = errors.New("redis: connection refused")
	svc := NewService(src, "sales", store)

	stats, err := svc.Get(context.Background(), priceField)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.Unique)
}

func TestService_TextFieldIsUnreliable(t *testing.T) {
	src := newFakeSource()
	src.scalars[`SELECT COUNT(DISTINCT "name")`] = "3"
	src.scalars[`SELECT MIN("name")`] = "apple"
	src.scalars[`SELECT MAX("name")`] = "pear"
	src.scalars[`SELECT AVG(CAST(LENGTH("name")`] = "4.666666"
	src.results[`SELECT * FROM (SELECT DISTINCT "name" AS value`] = &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "value", Type: "TEXT"}},
		Rows:    []map[string]any{{"value": "apple"}, {"value": "fig"}, {"value": "pear"}},
	}
	svc := NewService(src, "fruit", nil)

	stats, err := svc.Get(context.Background(), models.FieldDescriptor{Name: "name", Type: models.FieldTypeString})
	require.NoError(t, err)

	assert.False(t, stats.Min.Reliable)
	assert.Equal(t, "apple", stats.Min.Text)
	assert.Zero(t, stats.Min.Value)
	assert.False(t, stats.Avg.Reliable, "no average for text")
	assert.Equal(t, "Average string length: 4.67; Examples: apple, fig, pear", stats.Special)
	for _, q := range src.queries {
		assert.NotContains(t, q, "STDDEV", "no stddev for text")
	}
}

func TestService_BooleanRatio(t *testing.T) {
	src := newFakeSource()
	src.scalars[`SELECT COUNT(DISTINCT "active")`] = "2"
	src.scalars[`SELECT COUNT("active") FROM "users" WHERE "active" = TRUE`] = "6"
	src.scalars[`SELECT COUNT("active") FROM "users" WHERE "active" = FALSE`] = "4"
	svc := NewService(src, "users", nil)

	stats, err := svc.Get(context.Background(), models.FieldDescriptor{Name: "active", Type: models.FieldTypeBoolean})
	require.NoError(t, err)
	assert.Equal(t, "True/False ratio: 1.50", stats.Special)
	for _, q := range src.queries {
		assert.NotContains(t, q, "MIN(")
	}

	src.scalars[`SELECT COUNT("active") FROM "users" WHERE "active" = FALSE`] = "0"
	require.NoError(t, svc.Invalidate(context.Background(), "active"))
	stats, err = svc.Get(context.Background(), models.FieldDescriptor{Name: "active", Type: models.FieldTypeBoolean})
	require.NoError(t, err)
	assert.Equal(t, "True/False ratio: n/a", stats.Special)
}

func TestService_AllKeepsOrder(t *testing.T) {
	src := priceSource()
	src.scalars[`SELECT COUNT(DISTINCT "qty")`] = "4"
	svc := NewService(src, "sales", newMemoryStore(), WithParallelism(2))

	fields := []models.FieldDescriptor{
		priceField,
		{Name: "qty", Position: 2, Type: models.FieldTypeInteger},
	}
	all, err := svc.All(context.Background(), fields)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "price", all[0].Field)
	assert.Equal(t, "qty", all[1].Field)
	assert.Equal(t, int64(4), all[1].Unique)
}

func TestService_TotalRecordsAndUniques(t *testing.T) {
	src := newFakeSource()
	src.scalars[`SELECT COUNT(*) FROM "sales"`] = "37"
	src.results[`SELECT DISTINCT "c" AS value FROM "sales" ORDER BY value`] = &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "value"}},
		Rows:    []map[string]any{{"value": "n"}, {"value": "y"}},
	}
	svc := NewService(src, "sales", nil)

	n, err := svc.TotalRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(37), n)

	u, err := svc.Uniques(context.Background(), "c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "y"}, u)
}

func TestService_BinStats(t *testing.T) {
	src := newFakeSource()
	src.results[`SELECT CAST(FLOOR(CAST("a" AS double precision)/2) AS bigint) AS bin`] = &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "bin"}, {Name: "cnt"}, {Name: "x1"}, {Name: "x2"}},
		Rows: []map[string]any{
			{"bin": int64(0), "cnt": int64(25), "x1": int64(1), "x2": int64(1)},
			{"bin": int64(1), "cnt": int64(15), "x1": int64(2), "x2": int64(3)},
		},
	}
	svc := NewService(src, "facas_simple_test", nil)

	attr := attribute.New(models.FieldDescriptor{Name: "a", Type: models.FieldTypeInteger}, sqlutil.PostgresDialect{}, 0)
	require.NoError(t, attr.Bin.SetWidth(2))

	bins, err := svc.BinStats(context.Background(), attr)
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, models.BinStat{Bin: 1, Count: 15, Probability: 15.0 / 40.0, Lower: "2", Upper: "3"}, bins[1])

	var sum float64
	for _, b := range bins {
		sum += b.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestService_BinStatsPassthrough(t *testing.T) {
	src := newFakeSource()
	src.results[`SELECT "c" AS bin, COUNT(*) AS cnt`] = &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "bin"}, {Name: "cnt"}},
		Rows:    []map[string]any{{"bin": "n", "cnt": int64(8)}, {"bin": "y", "cnt": int64(29)}},
	}
	svc := NewService(src, "facas_simple_test", nil)

	attr := attribute.New(models.FieldDescriptor{Name: "c", Type: models.FieldTypeString}, sqlutil.PostgresDialect{}, 0)
	bins, err := svc.BinStats(context.Background(), attr)
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, int64(1), bins[1].Bin)
	assert.Equal(t, "y", bins[1].Lower)
	assert.InDelta(t, 29.0/37.0, bins[1].Probability, 1e-12)
}
