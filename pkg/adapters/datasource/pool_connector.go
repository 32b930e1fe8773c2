package datasource

import "context"

// PoolConnector is the driver pool behind a ManagedConnection: a pgxpool for
// PostgreSQL sources or a database/sql pool for SQL Server sources.
type PoolConnector interface {
	// Ping is the health check run before a pool is handed out.
	Ping(ctx context.Context) error
	Close() error
	// GetType names the driver ("postgres", "mssql") in stats and logs.
	GetType() string
}
