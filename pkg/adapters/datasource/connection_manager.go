package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxConnections       = 16
	DefaultPoolMaxConns         = 4
	DefaultPoolMinConns         = 1
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes     int
	MaxConnections int
	PoolMaxConns   int32
	PoolMinConns   int32
}

// ConnectionManager shares datasource handles between adapters, keyed by
// datasource identity, with TTL-based expiry and automatic cleanup.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[string]*ManagedConnection
	ttl            time.Duration
	maxConnections int
	config         ConnectionManagerConfig
	stopped        bool
	stopChan       chan struct{}
	logger         *zap.Logger
}

// ManagedConnection is a pooled handle. Queries on it are serialized
// through Exclusive so at most one is in flight at a time.
type ManagedConnection struct {
	conn     PoolConnector
	key      string
	lastUsed time.Time
	mu       sync.Mutex // guards lastUsed
	queryMu  sync.Mutex // held for the duration of a query
}

// NewUnmanagedConnection wraps a connector that is not owned by a ConnectionManager.
func NewUnmanagedConnection(conn PoolConnector) *ManagedConnection {
	return &ManagedConnection{conn: conn, lastUsed: time.Now()}
}

// Connector returns the underlying pool connector.
func (c *ManagedConnection) Connector() PoolConnector { return c.conn }

func (c *ManagedConnection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *ManagedConnection) idle(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastUsed)
}

// Exclusive runs fn while holding the connection's query lock.
func (c *ManagedConnection) Exclusive(ctx context.Context, fn func(PoolConnector) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	c.touch()
	defer c.touch()
	return fn(c.conn)
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections:    make(map[string]*ManagedConnection),
		ttl:            time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnections: cfg.MaxConnections,
		config:         cfg,
		stopChan:       make(chan struct{}),
		logger:         logger.Named("connection-manager"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// Config returns the effective configuration, used by pool factories.
func (m *ConnectionManager) Config() ConnectionManagerConfig { return m.config }

// GetOrCreateConnection returns the live connection for key, creating it with
// create when absent or unhealthy.
func (m *ConnectionManager) GetOrCreateConnection(
	ctx context.Context,
	key string,
	create func(ctx context.Context) (PoolConnector, error),
) (*ManagedConnection, error) {
	// Try existing connection with read lock (fast path)
	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.conn.Ping(healthCtx)
		})
		if err == nil {
			managed.touch()
			return managed, nil
		}

		m.logger.Warn("connection unhealthy, recreating",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		m.removeConnection(key)
	}

	return m.createConnection(ctx, key, create)
}

// createConnection creates and registers a connection with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createConnection(
	ctx context.Context,
	key string,
	create func(ctx context.Context) (PoolConnector, error),
) (*ManagedConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.touch()
		return managed, nil
	}

	if len(m.connections) >= m.maxConnections {
		m.logger.Warn("reached max connections limit",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxConnections),
		)
		return nil, fmt.Errorf("maximum connections limit reached (%d)", m.maxConnections)
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return create(ctx)
	})
	if err != nil {
		m.logger.Error("failed to create connection after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create connection for %s after retries: %w", key, err)
	}

	managed := &ManagedConnection{conn: conn, key: key, lastUsed: time.Now()}
	m.connections[key] = managed

	m.logger.Info("created new connection",
		zap.String("key", key),
		zap.String("type", conn.GetType()),
		zap.Int("totalConnections", len(m.connections)),
	)
	return managed, nil
}

// removeConnection removes a connection from the pool and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		m.closeManaged(managed)
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

func (m *ConnectionManager) closeManaged(managed *ManagedConnection) {
	if managed.conn == nil {
		return
	}
	if err := managed.conn.Close(); err != nil {
		m.logger.Warn("failed to close connection",
			zap.String("key", managed.key),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// cleanupExpiredConnections runs periodically to remove expired connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within TTL.
// Uses lock ordering: manager lock → connection lock to prevent deadlocks.
func (m *ConnectionManager) performCleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	expired := 0
	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		idle := managed.idle(now)
		if idle <= m.ttl {
			continue
		}
		// A query in flight keeps the connection alive.
		if !managed.queryMu.TryLock() {
			continue
		}
		m.logger.Debug("closing idle connection",
			zap.String("key", key),
			zap.Duration("idleTime", idle),
			zap.Duration("ttl", m.ttl),
		)
		m.closeManaged(managed)
		managed.queryMu.Unlock()
		delete(m.connections, key)
		expired++
	}

	if expired > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", expired),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all connections in the manager and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil {
			m.closeManaged(managed)
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		MaxConnections:    m.maxConnections,
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		stats.ConnectionsByType[managed.conn.GetType()]++
		if idle := int(managed.idle(now).Seconds()); idle > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idle
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	MaxConnections    int            `json:"max_connections"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}
