package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// DataSource is the external relational source the entropy engine reads from.
// Implementations serialize queries per underlying handle; see ManagedConnection.Exclusive.
// Each implementation owns its connection and must be closed when done.
type DataSource interface {
	// ExecuteQuery runs a statement and returns every row.
	ExecuteQuery(ctx context.Context, query string) (*QueryExecutionResult, error)

	// ExecuteScalar returns the first column of the first row as text.
	// An empty result or NULL yields "".
	ExecuteScalar(ctx context.Context, query string) (string, error)

	// Fields lists the columns of a table in ordinal order.
	Fields(ctx context.Context, table string) ([]models.FieldDescriptor, error)

	// Dialect renders SQL for this source.
	Dialect() sqlutil.Dialect

	// Close releases the datasource (but not a pool owned by the ConnectionManager).
	Close() error
}

// FieldCatalog resolves declared field names to descriptors.
type FieldCatalog interface {
	// Resolve returns apperrors.ErrNotFound when the field does not exist.
	Resolve(ctx context.Context, name string) (models.FieldDescriptor, error)
	Fields(ctx context.Context) ([]models.FieldDescriptor, error)
}
