package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/entropy"
	"github.com/ekaya-inc/ekaya-entropy/pkg/logging"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

const (
	MsgSuccess        = "Successfully computed entropy."
	MsgQueryFailed    = "There was a problem executing the query. Check datatypes?"
	MsgDegenerate     = "The alphabet has fewer than two symbols; uncertainty is undefined."
	MsgServerDialect  = "Server-delegated runs need a postgres datasource."
	msgCompileFailure = "The spec could not be compiled: "
)

// Run computes the summary in the engine's execution mode. Every expected
// failure is reported through Summary.Success and Summary.Message.
func (e *Engine) Run(ctx context.Context) models.Summary {
	if ok, why := e.IsComplete(); !ok {
		return e.failed(why)
	}
	if e.mode == ModeServer {
		return e.serverRun(ctx)
	}
	return e.clientRun(ctx)
}

func (e *Engine) failed(msg string) models.Summary {
	return models.FailedSummary(e.spec.ID, msg)
}

func (e *Engine) compileFailure(err error) models.Summary {
	e.logger.Warn("compile failed", zap.Error(err))
	return e.failed(msgCompileFailure + err.Error())
}

func (e *Engine) logQueryError(query string, err error) {
	e.logger.Error("entropy query failed",
		zap.String("sql", logging.SanitizeQuery(query)),
		zap.String("error", logging.SanitizeError(err)))
}

func (e *Engine) queryFailure(query string, err error) models.Summary {
	e.logQueryError(query, err)
	s := e.failed(MsgQueryFailed)
	s.SQLUsed = query
	return s
}

// scan is one executed row query folded into an alphabet.
type scan struct {
	query    string
	result   *datasource.QueryExecutionResult
	alphabet *entropy.Alphabet
	symbols  []string // per row, in result order
	elapsed  time.Duration
}

func (e *Engine) scanRows(ctx context.Context, query string) (*scan, error) {
	start := time.Now()
	result, err := e.ds.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if result.NRows() > 0 && !result.HasColumn(symbolAlias) {
		return nil, fmt.Errorf("%w: result has no %s column", apperrors.ErrQueryExecution, symbolAlias)
	}

	s := &scan{
		query:    query,
		result:   result,
		alphabet: entropy.NewAlphabet(),
		symbols:  make([]string, result.NRows()),
	}
	for i := 0; i < result.NRows(); i++ {
		sym := result.Text(i, symbolAlias)
		s.symbols[i] = sym
		s.alphabet.Add(sym)
	}
	s.elapsed = time.Since(start)
	return s, nil
}

// summarize finalizes the scan's alphabet against its own row count.
func (e *Engine) summarize(s *scan) models.Summary {
	s.alphabet.Finalize(s.alphabet.Rows())

	sum := models.Summary{ID: e.spec.ID, SQLUsed: s.query, WallTime: s.elapsed.Seconds()}
	if err := s.alphabet.Summarize(&sum); err != nil {
		if errors.Is(err, apperrors.ErrDegenerateAlphabet) {
			e.logger.Info("degenerate alphabet",
				zap.Int("alphabet_size", sum.AlphabetSize),
				zap.Int64("records", sum.RecordLength))
			sum.Message = MsgDegenerate
			return sum
		}
		sum.Message = err.Error()
		return sum
	}
	sum.Success = true
	sum.Message = MsgSuccess
	return sum
}

// clientScan compiles and executes the row query and finalizes the alphabet.
func (e *Engine) clientScan(ctx context.Context) (*scan, models.Summary) {
	query, err := e.CompileRowQuery()
	if err != nil {
		return nil, e.compileFailure(err)
	}
	s, err := e.scanRows(ctx, query)
	if err != nil {
		return nil, e.queryFailure(query, err)
	}
	sum := e.summarize(s)

	e.logger.Debug("client run",
		zap.Int("alphabet_size", sum.AlphabetSize),
		zap.Int64("records", sum.RecordLength),
		zap.Duration("elapsed", s.elapsed))
	return s, sum
}

func (e *Engine) clientRun(ctx context.Context) models.Summary {
	_, sum := e.clientScan(ctx)
	return sum
}

func (e *Engine) serverRun(ctx context.Context) models.Summary {
	if _, ok := e.dialect.(sqlutil.PostgresDialect); !ok {
		return e.failed(MsgServerDialect)
	}

	query, err := e.CompileServerCall()
	if err != nil {
		return e.compileFailure(err)
	}

	start := time.Now()
	result, err := e.ds.ExecuteQuery(ctx, query)
	elapsed := time.Since(start)
	if err != nil {
		return e.queryFailure(query, err)
	}
	if result.NRows() == 0 {
		return e.queryFailure(query, fmt.Errorf("%w: server routine returned no rows", apperrors.ErrQueryExecution))
	}

	sum := models.Summary{ID: e.spec.ID, SQLUsed: query, WallTime: elapsed.Seconds()}

	zcount, err := result.Int(0, "zcount")
	if err != nil {
		zcount = 0
	}
	sum.AlphabetSize = int(zcount)
	if sum.RecordLength, err = result.Int(0, "totalrowcount"); err != nil {
		sum.RecordLength = 0
	}
	if zcount <= 1 {
		sum.Message = MsgDegenerate
		return sum
	}

	hz, err := result.Float(0, "hz")
	if err != nil {
		return e.queryFailure(query, err)
	}
	total, err := result.Float(0, "sum_surprise")
	if err != nil {
		return e.queryFailure(query, err)
	}
	if result.HasColumn("stddev_surprise") {
		if sd, err := result.Float(0, "stddev_surprise"); err == nil {
			sum.SurpriseStdDev = sd
		}
	}

	sum.Entropy = hz
	sum.SurpriseMean = total / float64(zcount)
	sum.Uncertainty = hz / math.Log2(float64(zcount))
	sum.Success = true
	sum.Message = MsgSuccess

	e.logger.Debug("server run",
		zap.Int("alphabet_size", sum.AlphabetSize),
		zap.Int64("records", sum.RecordLength),
		zap.Duration("elapsed", elapsed))
	return sum
}

// recordsFrom turns the letters of a scan into records, most surprising
// first. Ties keep symbol order so output is deterministic.
func recordsFrom(s *scan, includeColumns bool) []models.Record {
	firstRow := make(map[string]int, s.alphabet.Size())
	for i, sym := range s.symbols {
		if _, ok := firstRow[sym]; !ok {
			firstRow[sym] = i
		}
	}

	records := make([]models.Record, 0, s.alphabet.Size())
	for _, sym := range s.alphabet.Symbols() {
		l, _ := s.alphabet.Letter(sym)
		rec := models.Record{
			Symbol:      sym,
			Count:       l.Count,
			Probability: l.Probability,
			Surprise:    l.Surprise,
		}
		if includeColumns {
			rec.Values = rowValues(s.result, firstRow[sym])
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Surprise != records[j].Surprise {
			return records[i].Surprise > records[j].Surprise
		}
		return records[i].Symbol < records[j].Symbol
	})
	return records
}

func rowValues(r *datasource.QueryExecutionResult, row int) []models.RecordValue {
	values := make([]models.RecordValue, 0, r.NCols())
	for _, col := range r.Columns {
		v := models.RecordValue{Column: col.Name, Text: r.Text(row, col.Name)}
		switch x := r.Value(row, col.Name).(type) {
		case int64:
			v.Number, v.Numeric = float64(x), true
		case float64:
			v.Number, v.Numeric = x, true
		}
		values = append(values, v)
	}
	return values
}

// TopNMostSurprising returns up to n symbols ordered by descending surprise.
// With includeColumns each record carries the columns of the first row that
// produced it.
func (e *Engine) TopNMostSurprising(ctx context.Context, n int, includeColumns bool) ([]models.Record, error) {
	if ok, why := e.IsComplete(); !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConfigurationIncomplete, why)
	}
	query, err := e.CompileRowQuery()
	if err != nil {
		return nil, err
	}
	s, err := e.scanRows(ctx, query)
	if err != nil {
		e.logQueryError(query, err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryExecution, err)
	}
	s.alphabet.Finalize(s.alphabet.Rows())

	records := recordsFrom(s, includeColumns)
	if n < 0 {
		n = 0
	}
	if n < len(records) {
		records = records[:n]
	}
	return records, nil
}

// Explain pairs the top n records with the summary of a run in the engine's mode.
func (e *Engine) Explain(ctx context.Context, n int, includeColumns bool) models.Explanation {
	if ok, why := e.IsComplete(); !ok {
		return models.Explanation{Summary: e.failed(why)}
	}
	records, err := e.TopNMostSurprising(ctx, n, includeColumns)
	if err != nil {
		if errors.Is(err, apperrors.ErrQueryExecution) {
			return models.Explanation{Summary: e.failed(MsgQueryFailed)}
		}
		return models.Explanation{Summary: e.compileFailure(err)}
	}
	return models.Explanation{Summary: e.Run(ctx), Records: records}
}

// SummaryAndSurprisals runs in client mode and also returns, for every row
// in result order, the surprise of the symbol the row produced.
func (e *Engine) SummaryAndSurprisals(ctx context.Context) models.SummaryAndSurprisals {
	if ok, why := e.IsComplete(); !ok {
		return models.SummaryAndSurprisals{Summary: e.failed(why)}
	}
	s, sum := e.clientScan(ctx)
	if s == nil || !sum.Success {
		return models.SummaryAndSurprisals{Summary: sum}
	}

	series := make([]float64, len(s.symbols))
	out := make([]models.RowSurprisal, len(s.symbols))
	for i, sym := range s.symbols {
		l, _ := s.alphabet.Letter(sym)
		series[i] = l.Surprise
		out[i] = models.RowSurprisal{ID: e.rowIdentifier(s.result, i), Surprise: l.Surprise}
	}

	return models.SummaryAndSurprisals{
		Summary:    sum,
		Surprisals: out,
		Profile:    entropy.Profile(series),
	}
}

func (e *Engine) rowIdentifier(r *datasource.QueryExecutionResult, row int) string {
	if e.rowID != "" && r.HasColumn(rowIDAlias) {
		return r.Text(row, rowIDAlias)
	}
	return strconv.Itoa(row)
}

// RowsMatchingCondition runs the full summary, then replays the row query
// restricted by predicate. Probabilities of the matching symbols use the full
// run's record count as denominator, so their surprise is comparable to the
// unrestricted run. The predicate is applied to the row query's output and
// may reference its columns (VON names, hash, row_id).
func (e *Engine) RowsMatchingCondition(ctx context.Context, predicate string) models.Explanation {
	if ok, why := e.IsComplete(); !ok {
		return models.Explanation{Summary: e.failed(why)}
	}
	pred, err := sqlutil.ValidatePredicate(predicate)
	if err != nil {
		return models.Explanation{Summary: e.failed("Invalid predicate: " + err.Error())}
	}

	sum := e.Run(ctx)
	if !sum.Success {
		return models.Explanation{Summary: sum}
	}

	inner, err := e.CompileRowQuery()
	if err != nil {
		return models.Explanation{Summary: e.compileFailure(err)}
	}
	query := fmt.Sprintf("SELECT * FROM (%s) AS _matched WHERE %s", inner, pred)

	s, err := e.scanRows(ctx, query)
	if err != nil {
		return models.Explanation{Summary: e.queryFailure(query, err)}
	}
	s.alphabet.Finalize(sum.RecordLength)

	return models.Explanation{Summary: sum, Records: recordsFrom(s, false)}
}
