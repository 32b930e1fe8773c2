package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

// CompileSymbol renders the composite symbol over all VONs in name order.
func (e *Engine) CompileSymbol() (string, error) {
	names := sortedKeys(e.vons)
	if len(names) == 0 {
		return "", fmt.Errorf("no VONs: %w", apperrors.ErrConfigurationIncomplete)
	}

	exprs := make([]string, len(names))
	for i, name := range names {
		a := e.vons[name]
		if !a.IsResolved() {
			return "", fmt.Errorf("VON %s: %w", name, apperrors.ErrNotFound)
		}
		exprs[i] = a.HashExpression()
	}

	base, maxVONs := e.hash.radix()
	if base == 0 {
		return e.dialect.Digest(exprs), nil
	}
	if len(exprs) > maxVONs {
		return "", fmt.Errorf("%s supports at most %d VONs: %w", e.hash, maxVONs, apperrors.ErrConfigurationIncomplete)
	}

	terms := make([]string, len(exprs))
	place := int64(1)
	for i, expr := range exprs {
		if !e.vons[names[i]].Bin.IsQuantitative() {
			return "", fmt.Errorf("%s needs a numeric VON, %s is not: %w", e.hash, names[i], apperrors.ErrConfigurationIncomplete)
		}
		terms[i] = expr + " * " + strconv.FormatInt(place, 10)
		place *= base
	}
	return "(" + strings.Join(terms, " + ") + ")", nil
}

// CompileConditionals renders the AND of every condition in name order, or
// the dialect's true predicate when there are none.
func (e *Engine) CompileConditionals() (string, error) {
	names := sortedKeys(e.conditions)
	if len(names) == 0 {
		return e.dialect.TruePredicate(), nil
	}

	preds := make([]string, len(names))
	for i, name := range names {
		p, err := e.conditions[name].Compile()
		if err != nil {
			return "", err
		}
		preds[i] = p
	}
	return strings.Join(preds, " AND "), nil
}

// CompileRowQuery renders the row scan: row id, each VON's binned value,
// the composite symbol and any extra select expressions, filtered by the
// conditions and capped by the row limit.
func (e *Engine) CompileRowQuery(extra ...string) (string, error) {
	symbol, err := e.CompileSymbol()
	if err != nil {
		return "", err
	}
	where, err := e.CompileConditionals()
	if err != nil {
		return "", err
	}

	selects := make([]string, 0, len(e.vons)+len(extra)+2)
	if e.rowID != "" {
		selects = append(selects, e.dialect.QuoteIdentifier(e.rowID)+" AS "+rowIDAlias)
	}
	for _, name := range sortedKeys(e.vons) {
		selects = append(selects, e.vons[name].SelectExpression())
	}
	selects = append(selects, symbol+" AS "+symbolAlias)
	selects = append(selects, extra...)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(selects, ", "), e.dialect.QuoteTable(e.table), where)
	if e.limit > 0 {
		query = e.dialect.LimitRows(query, e.limit)
	}
	return query, nil
}

// CompileServerCall renders the call of the server routine. The routine
// receives the (possibly row-capped) table, the predicate and the symbol as
// quoted text.
func (e *Engine) CompileServerCall() (string, error) {
	symbol, err := e.CompileSymbol()
	if err != nil {
		return "", err
	}
	where, err := e.CompileConditionals()
	if err != nil {
		return "", err
	}

	table := e.dialect.QuoteTable(e.table)
	if e.limit > 0 {
		table = e.dialect.LimitedTable(table, e.limit)
	}

	return fmt.Sprintf("SELECT * FROM %s(%s, %s, %s) AS f(%s)",
		e.dialect.QuoteTable(e.routine),
		e.dialect.QuoteLiteral(table),
		e.dialect.QuoteLiteral(where),
		e.dialect.QuoteLiteral(symbol),
		e.signature), nil
}
