package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/config"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	"github.com/ekaya-inc/ekaya-entropy/pkg/retry"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// Adapter provides SQL Server connectivity for entropy queries.
type Adapter struct {
	config  *Config
	conn    *datasource.ManagedConnection
	db      *sql.DB
	ownedDB bool // true if we created the DB (no connection manager)
	retry   *retry.Config
	logger  *zap.Logger
}

// buildConnectionString builds a sqlserver:// URL for SQL authentication.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		query.Encode(),
	)
}

// NewAdapter creates a SQL Server adapter. Uses the connection manager for
// pooling when provided, otherwise owns its *sql.DB.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, key string, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mssql")
	connStr := buildConnectionString(cfg)

	a := &Adapter{config: cfg, retry: retry.DefaultConfig(), logger: logger}

	if connMgr == nil {
		connector, err := datasource.CreateSQLDBPool(ctx, "sqlserver", "mssql", connStr, datasource.ConnectionManagerConfig{})
		if err != nil {
			logger.Error("failed to connect",
				zap.String("conn", logging.SanitizeConnectionString(connStr)),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("connection test failed: %w", err)
		}
		a.conn = datasource.NewUnmanagedConnection(connector)
		a.ownedDB = true
	} else {
		conn, err := connMgr.GetOrCreateConnection(ctx, key, func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreateSQLDBPool(ctx, "sqlserver", "mssql", connStr, connMgr.Config())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get pooled connection: %w", err)
		}
		a.conn = conn
	}

	db, err := datasource.GetSQLDB(a.conn.Connector())
	if err != nil {
		return nil, fmt.Errorf("failed to extract mssql db: %w", err)
	}
	a.db = db
	return a, nil
}

func (a *Adapter) Dialect() sqlutil.Dialect { return sqlutil.SQLServerDialect{} }

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
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = datasource.ColumnInfo{
			Name: ct.Name(),
			Type: mapSQLServerType(ct.DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = normalizeCell(columnTypes[i].DatabaseTypeName(), values[i])
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
	SELECT c.name, tp.name, c.column_id
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id`

// Fields lists the columns of table ("table" or "schema.table", default schema dbo).
func (a *Adapter) Fields(ctx context.Context, table string) ([]models.FieldDescriptor, error) {
	schema, name := parseSchemaTable(table)

	var fields []models.FieldDescriptor
	err := a.conn.Exclusive(ctx, func(datasource.PoolConnector) error {
		rows, err := a.db.QueryContext(ctx, fieldsQuery,
			sql.Named("schema", schema),
			sql.Named("table", name),
		)
		if err != nil {
			return fmt.Errorf("query columns: %w", err)
		}
		defer rows.Close()

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

// Close releases the adapter (but NOT the DB if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

var _ datasource.DataSource = (*Adapter)(nil)
