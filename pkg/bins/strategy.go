package bins

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ScalarQuerier runs a query returning the first column of the first row as text.
type ScalarQuerier interface {
	ExecuteScalar(ctx context.Context, query string) (string, error)
}

// Subject is the column a strategy measures.
type Subject struct {
	Bin     Bin
	Column  string // quoted column expression
	Table   string // quoted table expression
	Dialect Dialect
}

// Strategy computes a bin width from observed data.
type Strategy interface {
	Name() string
	Width(ctx context.Context, q ScalarQuerier, s Subject) (float64, error)
}

// Apply computes the strategy's width and stores it on the subject's bin.
// The bin keeps its current width when the computed width is invalid.
func Apply(ctx context.Context, st Strategy, q ScalarQuerier, s Subject) error {
	w, err := st.Width(ctx, q, s)
	if err != nil {
		return err
	}
	if err := s.Bin.SetWidth(w); err != nil {
		return fmt.Errorf("strategy %s on %s: %w", st.Name(), s.Column, err)
	}
	return nil
}

// Exact always returns the configured width.
type Exact struct {
	Value float64
}

func (e Exact) Name() string { return "exact(" + formatNumber(e.Value) + ")" }

func (e Exact) Width(context.Context, ScalarQuerier, Subject) (float64, error) {
	return e.Value, nil
}

// Divide splits the observed range into By bins.
type Divide struct {
	By float64
}

func (s Divide) Name() string { return "divide(" + formatNumber(s.By) + ")" }

func (s Divide) Width(ctx context.Context, q ScalarQuerier, sub Subject) (float64, error) {
	if !sub.Bin.IsQuantitative() {
		return 1.0, nil
	}
	basic := sub.Bin.ToBasicUnit(sub.Dialect, sub.Column)
	query := fmt.Sprintf("SELECT (MAX(%s) - MIN(%s)) / %s FROM %s",
		basic, basic, formatNumber(s.By), sub.Table)
	return scalarFloat(ctx, q, query)
}

// DivideIfMore behaves like Divide when the observed range is at least
// Threshold and otherwise keeps the bin's current width.
type DivideIfMore struct {
	By        float64
	Threshold float64
}

func (s DivideIfMore) Name() string {
	return "divide_if_more(" + formatNumber(s.By) + ", " + formatNumber(s.Threshold) + ")"
}

func (s DivideIfMore) Width(ctx context.Context, q ScalarQuerier, sub Subject) (float64, error) {
	if !sub.Bin.IsQuantitative() {
		return 1.0, nil
	}
	basic := sub.Bin.ToBasicUnit(sub.Dialect, sub.Column)
	rng := fmt.Sprintf("(MAX(%s) - MIN(%s))", basic, basic)
	query := fmt.Sprintf("SELECT CASE WHEN %s >= %s THEN %s / %s ELSE %s END FROM %s",
		rng, formatNumber(s.Threshold), rng, formatNumber(s.By), formatNumber(sub.Bin.Width()), sub.Table)
	return scalarFloat(ctx, q, query)
}

func scalarFloat(ctx context.Context, q ScalarQuerier, query string) (float64, error) {
	text, err := q.ExecuteScalar(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("bin width query: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// No rows: the range is undefined.
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("bin width query returned %q: %w", text, err)
	}
	return v, nil
}
