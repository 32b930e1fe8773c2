// Package attribute binds catalog fields to bins and compiles the query
// fragments and predicates the engine assembles into entropy queries.
package attribute

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-entropy/pkg/bins"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// Attribute is a field bound to a bin and, optionally, a strategy that sizes the bin.
type Attribute struct {
	Name     string
	Field    *models.FieldDescriptor // nil when the name did not resolve
	Bin      bins.Bin
	Strategy bins.Strategy

	dialect sqlutil.Dialect
}

// New builds an attribute for a resolved field with the default bin for its type.
func New(field models.FieldDescriptor, d sqlutil.Dialect, epochAnchor float64) *Attribute {
	return &Attribute{
		Name:    field.Name,
		Field:   &field,
		Bin:     bins.ForFieldType(field.Type, epochAnchor),
		dialect: d,
	}
}

// Unresolved records a declared name the catalog does not know.
func Unresolved(name string, d sqlutil.Dialect) *Attribute {
	return &Attribute{Name: name, dialect: d}
}

func (a *Attribute) IsResolved() bool {
	return a.Field != nil && a.Bin != nil
}

func (a *Attribute) Dialect() sqlutil.Dialect { return a.dialect }

// RawExpression is the unbinned, quoted column.
func (a *Attribute) RawExpression() string {
	return a.dialect.QuoteIdentifier(a.Name)
}

// HashExpression is the binned value as used inside the composite symbol.
func (a *Attribute) HashExpression() string {
	return a.Bin.AttrToBin(a.dialect, a.RawExpression())
}

// WhereExpression is the binned column used on the left of a predicate.
func (a *Attribute) WhereExpression() string {
	return a.HashExpression()
}

// SelectExpression is the binned value aliased to the field name.
func (a *Attribute) SelectExpression() string {
	return fmt.Sprintf("%s AS %s", a.HashExpression(), a.RawExpression())
}

// BinExpressionForLiteral maps a literal into the attribute's bin space.
// The literal is screened for injection first.
func (a *Attribute) BinExpressionForLiteral(value string) (string, error) {
	if err := sqlutil.CheckLiteral(value); err != nil {
		return "", fmt.Errorf("literal for %s: %w", a.Name, err)
	}
	return a.Bin.ValToBin(a.dialect, value), nil
}

// ApplyStrategy sizes the bin with the given strategy, falling back to the
// attribute's own. It is a no-op when neither is set.
func (a *Attribute) ApplyStrategy(ctx context.Context, q bins.ScalarQuerier, table string, st bins.Strategy) error {
	if st == nil {
		st = a.Strategy
	}
	if st == nil || !a.IsResolved() {
		return nil
	}
	return bins.Apply(ctx, st, q, bins.Subject{
		Bin:     a.Bin,
		Column:  a.RawExpression(),
		Table:   a.dialect.QuoteTable(table),
		Dialect: a.dialect,
	})
}
