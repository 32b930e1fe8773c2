package datasource

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolWrapper wraps *pgxpool.Pool to implement PoolConnector
type PostgresPoolWrapper struct {
	pool *pgxpool.Pool
}

func NewPostgresPoolWrapper(pool *pgxpool.Pool) *PostgresPoolWrapper {
	return &PostgresPoolWrapper{pool: pool}
}

func (w *PostgresPoolWrapper) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

func (w *PostgresPoolWrapper) Close() error {
	w.pool.Close()
	return nil
}

func (w *PostgresPoolWrapper) GetType() string { return "postgres" }

// GetPool returns the underlying *pgxpool.Pool
func (w *PostgresPoolWrapper) GetPool() *pgxpool.Pool {
	return w.pool
}

// SQLDBPoolWrapper wraps a database/sql pool (SQL Server) to implement PoolConnector
type SQLDBPoolWrapper struct {
	db     *sql.DB
	dbType string
}

func NewSQLDBPoolWrapper(db *sql.DB, dbType string) *SQLDBPoolWrapper {
	return &SQLDBPoolWrapper{db: db, dbType: dbType}
}

func (w *SQLDBPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *SQLDBPoolWrapper) Close() error {
	return w.db.Close()
}

func (w *SQLDBPoolWrapper) GetType() string { return w.dbType }

// GetDB returns the underlying *sql.DB
func (w *SQLDBPoolWrapper) GetDB() *sql.DB {
	return w.db
}
