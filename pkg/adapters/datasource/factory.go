package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DatasourceAdapterFactory creates adapters from the registry.
type DatasourceAdapterFactory interface {
	// NewDataSource creates a datasource of the given type.
	NewDataSource(ctx context.Context, dsType string, config map[string]any, key string) (DataSource, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
	logger  *zap.Logger
}

// NewDatasourceAdapterFactory returns a factory that uses the global registry.
// connMgr may be nil, in which case every datasource owns its connection.
func NewDatasourceAdapterFactory(connMgr *ConnectionManager, logger *zap.Logger) DatasourceAdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{
		connMgr: connMgr,
		logger:  logger,
	}
}

func (f *registryFactory) NewDataSource(ctx context.Context, dsType string, config map[string]any, key string) (DataSource, error) {
	factory := GetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return factory(ctx, config, f.connMgr, key, f.logger)
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements DatasourceAdapterFactory at compile time.
var _ DatasourceAdapterFactory = (*registryFactory)(nil)
