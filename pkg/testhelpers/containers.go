package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/database"
)

// PostgresImage is the image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// SanityTable is the regression fixture: with c = 'y' and VONs a, b the
// mean surprise is SanitySurpriseMean.
const (
	SanityTable        = "facas_simple_test"
	SanitySurpriseMean = 3.66299367
	NGramTable         = "ngram_series_test"
)

// fixtureSQL loads the fixture tables. Within c = 'y' the (a, b) pairs occur
// 16, 9, 1, 1, 1 and 1 times out of 29 rows.
const fixtureSQL = `
CREATE TABLE IF NOT EXISTS facas_simple_test (
    id SERIAL PRIMARY KEY,
    a  INTEGER NOT NULL,
    b  INTEGER NOT NULL,
    c  TEXT    NOT NULL
);
TRUNCATE facas_simple_test RESTART IDENTITY;
INSERT INTO facas_simple_test (a, b, c)
SELECT 1, 1, 'y' FROM generate_series(1, 16)
UNION ALL SELECT 1, 2, 'y' FROM generate_series(1, 9)
UNION ALL SELECT 2, 1, 'y'
UNION ALL SELECT 2, 2, 'y'
UNION ALL SELECT 3, 1, 'y'
UNION ALL SELECT 3, 3, 'y'
UNION ALL SELECT 4, 4, 'n' FROM generate_series(1, 5)
UNION ALL SELECT 5, 1, 'n' FROM generate_series(1, 3);

CREATE TABLE IF NOT EXISTS ngram_series_test (
    id      SERIAL PRIMARY KEY,
    ts      TIMESTAMP        NOT NULL,
    reading DOUBLE PRECISION NOT NULL
);
TRUNCATE ngram_series_test RESTART IDENTITY;
INSERT INTO ngram_series_test (ts, reading) VALUES
    ('2024-01-01 00:00:00', 1), ('2024-01-01 00:05:00', 5),
    ('2024-01-01 00:15:00', 1), ('2024-01-01 00:20:00', 5),
    ('2024-01-01 00:30:00', 5), ('2024-01-01 00:35:00', 1),
    ('2024-01-01 00:45:00', 1), ('2024-01-01 00:50:00', 5);
`

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

// Config returns the adapter config map for this container.
func (db *TestDB) Config() map[string]any {
	return map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     "ekaya",
		"password": "test_password",
		"database": "test_data",
		"ssl_mode": "disable",
	}
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run,
// with the fixture tables loaded and the stats cache migrations applied.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_data",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/test_data?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, fixtureSQL); err != nil {
		return nil, fmt.Errorf("failed to load fixtures: %w", err)
	}

	sqlDB := db.SQLDB()
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      db.Pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}
