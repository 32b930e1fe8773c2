// Package ngram builds alphabets over ordered sequences: rows are grouped by
// an independent axis (usually a time bucket) and each axis point's list of
// dependent bin values is encoded as one letter.
package ngram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/bins"
	"github.com/ekaya-inc/ekaya-entropy/pkg/engine"
	"github.com/ekaya-inc/ekaya-entropy/pkg/entropy"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// DefaultN is the number of bins the dependent range is split into.
const DefaultN = 4

const axisAlias = "axis"

// Conditionals renders the predicate restricting the rows of a run.
// *engine.Engine satisfies it.
type Conditionals interface {
	CompileConditionals() (string, error)
}

// Runner computes n-gram entropy over one table.
type Runner struct {
	ds      datasource.DataSource
	catalog datasource.FieldCatalog
	table   string
	id      string

	independent string
	dependents  []string
	encoding    Encoding
	n           int
	epochAnchor float64
	conditions  Conditionals

	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithN sets the dependent bin count. Values below 1 are ignored.
func WithN(n int) Option {
	return func(r *Runner) {
		if n >= 1 {
			r.n = n
		}
	}
}

func WithEncoding(e Encoding) Option {
	return func(r *Runner) { r.encoding = e }
}

// WithConditionals restricts runs with the predicate c compiles, typically an engine's conditions.
func WithConditionals(c Conditionals) Option {
	return func(r *Runner) { r.conditions = c }
}

func WithCatalog(c datasource.FieldCatalog) Option {
	return func(r *Runner) {
		if c != nil {
			r.catalog = c
		}
	}
}

func WithEpochAnchor(anchor float64) Option {
	return func(r *Runner) { r.epochAnchor = anchor }
}

// WithID tags results with id instead of a generated one.
func WithID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.id = id
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a runner grouping table rows by independent and encoding the dependents.
func New(ds datasource.DataSource, table, independent string, dependents []string, opts ...Option) *Runner {
	r := &Runner{
		ds:          ds,
		table:       table,
		id:          uuid.NewString(),
		independent: independent,
		dependents:  append([]string(nil), dependents...),
		encoding:    AbsoluteValue,
		n:           DefaultN,
		epochAnchor: bins.DefaultEpochAnchor,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = datasource.NewTableCatalog(ds, table)
	}
	r.logger = r.logger.Named("ngram").With(zap.String("table", table))
	return r
}

func (r *Runner) Encoding() Encoding { return r.encoding }
func (r *Runner) N() int             { return r.n }

func (r *Runner) failed(msg string) models.NGramResult {
	return models.NGramResult{Summary: models.FailedSummary(r.id, msg)}
}

func (r *Runner) queryFailure(query string, err error) models.NGramResult {
	r.logger.Error("n-gram query failed",
		zap.String("sql", logging.SanitizeQuery(query)),
		zap.String("error", logging.SanitizeError(err)))
	res := r.failed(engine.MsgQueryFailed)
	res.Summary.SQLUsed = query
	return res
}

func (r *Runner) resolve(ctx context.Context, name string) (*attribute.Attribute, error) {
	field, err := r.catalog.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return attribute.New(field, r.ds.Dialect(), r.epochAnchor), nil
}

// Run discovers the dependent bin widths, scans the rows in axis order and
// computes entropy over the resulting letters. The probability denominator
// is the number of axis points.
func (r *Runner) Run(ctx context.Context) models.NGramResult {
	if r.independent == "" || len(r.dependents) == 0 {
		return r.failed("N-gram needs an independent and at least one dependent field.")
	}

	indep, err := r.resolve(ctx, r.independent)
	if err != nil {
		return r.failed(r.resolveMessage("Independent", r.independent, err))
	}
	deps := make([]*attribute.Attribute, len(r.dependents))
	for i, name := range r.dependents {
		if deps[i], err = r.resolve(ctx, name); err != nil {
			return r.failed(r.resolveMessage("Dependent", name, err))
		}
	}

	where := r.ds.Dialect().TruePredicate()
	if r.conditions != nil {
		if where, err = r.conditions.CompileConditionals(); err != nil {
			r.logger.Warn("compile failed", zap.Error(err))
			return r.failed("The conditions could not be compiled: " + err.Error())
		}
	}

	var width float64
	for i, dep := range deps {
		w, err := r.discoverBinWidth(ctx, dep, where)
		if err != nil {
			return r.queryFailure(r.rangeQuery(dep, where), err)
		}
		if i == 0 {
			width = w
		}
	}

	query := r.compileQuery(indep, deps, where)
	start := time.Now()
	result, err := r.ds.ExecuteQuery(ctx, query)
	if err != nil {
		return r.queryFailure(query, err)
	}
	points := groupByAxis(result, deps)
	elapsed := time.Since(start)

	letters := r.encoding.letters()(points)
	alphabet := entropy.NewAlphabet()
	axes := make(map[string][]string)
	for i, l := range letters {
		alphabet.Add(l)
		axes[l] = append(axes[l], points[i].axis)
	}
	alphabet.Finalize(int64(len(points)))

	res := models.NGramResult{
		Summary:  models.Summary{ID: r.id, SQLUsed: query, WallTime: elapsed.Seconds()},
		BinWidth: width,
		RowCount: int64(result.NRows()),
		Letters:  ngramLetters(alphabet, axes),
	}
	if err := alphabet.Summarize(&res.Summary); err != nil {
		if errors.Is(err, apperrors.ErrDegenerateAlphabet) {
			res.Summary.Message = engine.MsgDegenerate
		} else {
			res.Summary.Message = err.Error()
		}
		return res
	}
	res.Summary.Success = true
	res.Summary.Message = engine.MsgSuccess

	r.logger.Debug("n-gram run",
		zap.String("encoding", string(r.encoding)),
		zap.Int("alphabet_size", res.Summary.AlphabetSize),
		zap.Int64("axis_points", res.Summary.RecordLength),
		zap.Int64("rows", res.RowCount),
		zap.Duration("elapsed", elapsed))
	return res
}

func (r *Runner) resolveMessage(role, name string, err error) string {
	if !errors.Is(err, apperrors.ErrNotFound) {
		r.logger.Warn("field resolution failed",
			zap.String("field", name),
			zap.String("error", logging.SanitizeError(err)))
	}
	return fmt.Sprintf("%s field %q doesn't exist.", role, name)
}

func (r *Runner) rangeQuery(dep *attribute.Attribute, where string) string {
	d := r.ds.Dialect()
	basic := dep.Bin.ToBasicUnit(d, dep.RawExpression())
	return fmt.Sprintf("SELECT MIN(%s) AS _min, MAX(%s) AS _max FROM %s WHERE %s",
		basic, basic, d.QuoteTable(r.table), where)
}

// discoverBinWidth sets the dependent's width to (max - min) / N. Passthrough
// bins keep their identity width; an empty or constant range falls back to 1.
func (r *Runner) discoverBinWidth(ctx context.Context, dep *attribute.Attribute, where string) (float64, error) {
	if !dep.Bin.IsQuantitative() {
		return dep.Bin.Width(), nil
	}

	result, err := r.ds.ExecuteQuery(ctx, r.rangeQuery(dep, where))
	if err != nil {
		return 0, err
	}

	width := math.NaN()
	if result.NRows() > 0 {
		lo, errLo := result.Float(0, "_min")
		hi, errHi := result.Float(0, "_max")
		if errLo == nil && errHi == nil {
			width = (hi - lo) / float64(r.n)
		}
	}
	if err := dep.Bin.SetWidth(width); err != nil {
		r.logger.Warn("dependent range is empty; using bin width 1",
			zap.String("field", dep.Name),
			zap.Float64("width", width))
		_ = dep.Bin.SetWidth(1)
	}

	r.logger.Info("discovered dependent bin width",
		zap.String("field", dep.Name),
		zap.Float64("width", dep.Bin.Width()))
	return dep.Bin.Width(), nil
}

// compileQuery selects the binned axis and dependents, ordered by the raw
// independent value so each axis point's list follows the sequence order.
func (r *Runner) compileQuery(indep *attribute.Attribute, deps []*attribute.Attribute, where string) string {
	selects := make([]string, 0, len(deps)+1)
	selects = append(selects, indep.HashExpression()+" AS "+axisAlias)
	order := []string{indep.RawExpression()}
	for _, dep := range deps {
		selects = append(selects, dep.SelectExpression())
		order = append(order, dep.RawExpression())
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(selects, ", "), r.ds.Dialect().QuoteTable(r.table), where, strings.Join(order, ", "))
}

// groupByAxis collects each axis point's dependent values in first-seen order.
func groupByAxis(result *datasource.QueryExecutionResult, deps []*attribute.Attribute) []series {
	index := make(map[string]int)
	var points []series
	for i := 0; i < result.NRows(); i++ {
		axis := result.Text(i, axisAlias)
		k, ok := index[axis]
		if !ok {
			k = len(points)
			index[axis] = k
			points = append(points, series{axis: axis})
		}
		for _, dep := range deps {
			points[k].cells = append(points[k].cells, newCell(result.Text(i, dep.Name)))
		}
	}
	return points
}

// ngramLetters lists the letters most surprising first.
func ngramLetters(a *entropy.Alphabet, axes map[string][]string) []models.NGramLetter {
	out := make([]models.NGramLetter, 0, a.Size())
	for _, sym := range a.Symbols() {
		l, _ := a.Letter(sym)
		out = append(out, models.NGramLetter{
			Letter:      sym,
			Count:       l.Count,
			Probability: l.Probability,
			Surprise:    l.Surprise,
			AxisPoints:  axes[sym],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Surprise != out[j].Surprise {
			return out[i].Surprise > out[j].Surprise
		}
		return out[i].Letter < out[j].Letter
	})
	return out
}
