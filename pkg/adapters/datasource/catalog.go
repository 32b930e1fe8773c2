package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// TableCatalog resolves fields of one table, loading the column list once.
type TableCatalog struct {
	ds    DataSource
	table string

	mu     sync.Mutex
	fields []models.FieldDescriptor
	byName map[string]models.FieldDescriptor
}

func NewTableCatalog(ds DataSource, table string) *TableCatalog {
	return &TableCatalog{ds: ds, table: table}
}

func (c *TableCatalog) Table() string { return c.table }

func (c *TableCatalog) load(ctx context.Context) error {
	if c.byName != nil {
		return nil
	}
	fields, err := c.ds.Fields(ctx, c.table)
	if err != nil {
		return fmt.Errorf("load fields of %s: %w", c.table, err)
	}
	c.fields = fields
	c.byName = make(map[string]models.FieldDescriptor, len(fields))
	for _, f := range fields {
		c.byName[f.Name] = f
	}
	return nil
}

func (c *TableCatalog) Resolve(ctx context.Context, name string) (models.FieldDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		return models.FieldDescriptor{}, err
	}
	f, ok := c.byName[name]
	if !ok {
		return models.FieldDescriptor{}, fmt.Errorf("field %q in %s: %w", name, c.table, apperrors.ErrNotFound)
	}
	return f, nil
}

func (c *TableCatalog) Fields(ctx context.Context) ([]models.FieldDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return append([]models.FieldDescriptor(nil), c.fields...), nil
}

// Invalidate forgets the cached column list.
func (c *TableCatalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields, c.byName = nil, nil
}

var _ FieldCatalog = (*TableCatalog)(nil)
