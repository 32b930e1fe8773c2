package datasource

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query.
// Values are normalized by the adapters to nil, string, int64, float64, bool or time.Time.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

func (r *QueryExecutionResult) NRows() int { return len(r.Rows) }
func (r *QueryExecutionResult) NCols() int { return len(r.Columns) }

// ColumnIndex returns the position of a column, or -1.
func (r *QueryExecutionResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (r *QueryExecutionResult) HasColumn(name string) bool {
	return r.ColumnIndex(name) >= 0
}

// Value returns the raw normalized value of a cell; nil when out of range.
func (r *QueryExecutionResult) Value(row int, col string) any {
	if row < 0 || row >= len(r.Rows) {
		return nil
	}
	return r.Rows[row][col]
}

// Text renders a cell as text. NULL renders as "".
func (r *QueryExecutionResult) Text(row int, col string) string {
	return FormatValue(r.Value(row, col))
}

// Int reads a cell as an integer, truncating reals.
func (r *QueryExecutionResult) Int(row int, col string) (int64, error) {
	switch v := r.Value(row, col).(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, fmt.Errorf("column %s row %d is null", col, row)
	default:
		return strconv.ParseInt(strings.TrimSpace(FormatValue(v)), 10, 64)
	}
}

// Float reads a cell as a real.
func (r *QueryExecutionResult) Float(row int, col string) (float64, error) {
	switch v := r.Value(row, col).(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("column %s row %d is null", col, row)
	default:
		return strconv.ParseFloat(strings.TrimSpace(FormatValue(v)), 64)
	}
}

// Values returns the row's cells in column order.
func (r *QueryExecutionResult) Values(row int) []any {
	out := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = r.Value(row, c.Name)
	}
	return out
}

// NormalizeValue converts driver values into the small set of types results carry.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, float64, int64, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		d := time.Duration(x.Microseconds) * time.Microsecond
		return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04:05")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// FormatValue renders a normalized value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
