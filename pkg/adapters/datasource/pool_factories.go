package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreatePostgresPool creates a PostgreSQL connection pool sized by the manager config.
func CreatePostgresPool(ctx context.Context, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	if config.PoolMaxConns > 0 {
		poolConfig.MaxConns = config.PoolMaxConns
	}
	if config.PoolMinConns > 0 {
		poolConfig.MinConns = config.PoolMinConns
	}
	if config.TTLMinutes > 0 {
		poolConfig.MaxConnIdleTime = time.Duration(config.TTLMinutes) * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return NewPostgresPoolWrapper(pool), nil
}

// GetPostgresPool extracts the underlying *pgxpool.Pool from a PoolConnector.
func GetPostgresPool(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PostgresPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a PostgreSQL pool wrapper")
	}
	return wrapper.GetPool(), nil
}

// CreateSQLDBPool opens a database/sql pool with the given driver and sizes it
// by the manager config. The driver must be registered by the caller's package.
func CreateSQLDBPool(ctx context.Context, driver, dbType, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	if config.PoolMaxConns > 0 {
		db.SetMaxOpenConns(int(config.PoolMaxConns))
	}
	if config.PoolMinConns > 0 {
		db.SetMaxIdleConns(int(config.PoolMinConns))
	}
	if config.TTLMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.TTLMinutes) * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLDBPoolWrapper(db, dbType), nil
}

// GetSQLDB extracts the underlying *sql.DB from a PoolConnector.
func GetSQLDB(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*SQLDBPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a database/sql pool wrapper")
	}
	return wrapper.GetDB(), nil
}
