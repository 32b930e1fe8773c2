package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/config"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	"github.com/ekaya-inc/ekaya-entropy/pkg/retry"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// Adapter provides PostgreSQL connectivity for entropy queries.
type Adapter struct {
	config    *Config
	conn      *datasource.ManagedConnection
	pool      *pgxpool.Pool
	types     *pgtype.Map
	ownedPool bool // true if we created the pool (no connection manager)
	retry     *retry.Config
	logger    *zap.Logger
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so passwords containing @, /, # or ?
// survive URL parsing. In Docker, localhost resolves to host.docker.internal.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// NewAdapter creates a PostgreSQL adapter using the connection manager.
// If connMgr is nil, creates an unmanaged pool owned by the adapter.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, key string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("postgres")
	connStr := buildConnectionString(cfg)

	a := &Adapter{
		config: cfg,
		types:  pgtype.NewMap(),
		retry:  retry.DefaultConfig(),
		logger: logger,
	}

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			logger.Error("failed to connect",
				zap.String("conn", logging.SanitizeConnectionString(connStr)),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.conn = datasource.NewUnmanagedConnection(datasource.NewPostgresPoolWrapper(pool))
		a.ownedPool = true
		return a, nil
	}

	conn, err := connMgr.GetOrCreateConnection(ctx, key, func(ctx context.Context) (datasource.PoolConnector, error) {
		return datasource.CreatePostgresPool(ctx, connStr, connMgr.Config())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}

	pool, err := datasource.GetPostgresPool(conn.Connector())
	if err != nil {
		return nil, fmt.Errorf("failed to extract postgres pool: %w", err)
	}
	a.pool = pool
	a.conn = conn
	return a, nil
}

func (a *Adapter) Dialect() sqlutil.Dialect { return sqlutil.PostgresDialect{} }

// ExecuteQuery runs a statement on the shared handle, retrying transient failures.
func (a *Adapter) ExecuteQuery(ctx context.Context, query string) (*datasource.QueryExecutionResult, error) {
	var result *datasource.QueryExecutionResult
	err := a.conn.Exclusive(ctx, func(datasource.PoolConnector) error {
		return retry.DoIfRetryable(ctx, a.retry, func() error {
			var err error
			result, err = a.query(ctx, query)
			return err
		})
	})
	if err != nil {
		a.logger.Error("query failed",
			zap.String("query", logging.SanitizeQuery(query)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryExecution, err)
	}
	return result, nil
}

func (a *Adapter) query(ctx context.Context, query string, args ...any) (*datasource.QueryExecutionResult, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: a.typeName(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = datasource.NormalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func (a *Adapter) typeName(oid uint32) string {
	if t, ok := a.types.TypeForOID(oid); ok {
		return strings.ToUpper(t.Name)
	}
	return fmt.Sprintf("OID%d", oid)
}

// ExecuteScalar returns the first column of the first row as text.
func (a *Adapter) ExecuteScalar(ctx context.Context, query string) (string, error) {
	result, err := a.ExecuteQuery(ctx, query)
	if err != nil {
		return "", err
	}
	if result.NRows() == 0 || result.NCols() == 0 {
		return "", nil
	}
	return result.Text(0, result.Columns[0].Name), nil
}

const fieldsQuery = `
	SELECT column_name::text, data_type::text, ordinal_position::int
	FROM information_schema.columns
	WHERE table_schema = COALESCE(NULLIF($1::text, ''), current_schema()::text)
	  AND table_name = $2::text
	ORDER BY ordinal_position`

// Fields lists the columns of table ("table" or "schema.table").
func (a *Adapter) Fields(ctx context.Context, table string) ([]models.FieldDescriptor, error) {
	schema, name := splitTableName(table)

	var fields []models.FieldDescriptor
	err := a.conn.Exclusive(ctx, func(datasource.PoolConnector) error {
		rows, err := a.pool.Query(ctx, fieldsQuery, schema, name)
		if err != nil {
			return fmt.Errorf("query columns: %w", err)
		}
		defer rows.Close()

		fields = fields[:0]
		for rows.Next() {
			var f models.FieldDescriptor
			if err := rows.Scan(&f.Name, &f.DataType, &f.Position); err != nil {
				return fmt.Errorf("scan column: %w", err)
			}
			f.Type = models.FieldTypeFromDatabase(f.DataType)
			fields = append(fields, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, apperrors.ErrNotFound)
	}
	return fields, nil
}

// splitTableName splits "schema.table"; schema is empty when not given.
func splitTableName(table string) (string, string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	return nil
}

var _ datasource.DataSource = (*Adapter)(nil)
