package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stat is one aggregate as returned by the datasource. Value is only
// meaningful when Reliable is true; non-numeric aggregates (MIN over text,
// timestamps) keep their text and report Reliable=false.
type Stat struct {
	Text     string  `json:"text"`
	Value    float64 `json:"value"`
	Reliable bool    `json:"reliable"`
}

// ParseStat parses aggregate text. Text is kept as the datasource returned it,
// so reparsing a stored Text yields the same Stat.
func ParseStat(text string) Stat {
	raw := strings.TrimSpace(text)
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Stat{Text: text}
	}
	return Stat{Text: raw, Value: n, Reliable: true}
}

// Display formats a reliable value to two decimals and returns other text as is.
func (s Stat) Display() string {
	if !s.Reliable {
		return s.Text
	}
	return fmt.Sprintf("%.2f", s.Value)
}

// FieldStats holds per-field statistics backed by the stats cache.
type FieldStats struct {
	Table        string    `json:"table"`
	Field        string    `json:"field"`
	Unique       int64     `json:"unique"`
	Min          Stat      `json:"min"`
	Max          Stat      `json:"max"`
	Avg          Stat      `json:"avg"`
	StdDev       Stat      `json:"stddev"`
	Special      string    `json:"special"`
	LastCompiled time.Time `json:"last_compiled"`
}

// BinStat is the population of one bin of an attribute.
type BinStat struct {
	Bin         int64   `json:"bin"`
	Count       int64   `json:"count"`
	Probability float64 `json:"prob"`
	Lower       string  `json:"x1"`
	Upper       string  `json:"x2"`
}
