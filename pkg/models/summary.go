package models

import (
	"fmt"
	"math"
)

// Summary is the outcome of one entropy run. Failed runs carry Success=false
// and a diagnostic Message; numeric fields are then zero unless noted.
type Summary struct {
	ID             string  `json:"id"`
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	SQLUsed        string  `json:"sql_used"`
	Entropy        float64 `json:"entropy"`
	SurpriseMean   float64 `json:"surprise_mean"`
	SurpriseStdDev float64 `json:"surprise_stddev"`
	Uncertainty    float64 `json:"uncertainty"`
	AlphabetSize   int     `json:"alphabet_size"`
	RecordLength   int64   `json:"record_length"`
	WallTime       float64 `json:"wall_time"` // seconds
}

// FailedSummary builds the failure result for a spec.
func FailedSummary(id, message string) Summary {
	return Summary{ID: id, Message: message}
}

// IsValid reports whether any records contributed to the summary.
func (s Summary) IsValid() bool {
	return s.RecordLength != 0
}

func (s Summary) String() string {
	return fmt.Sprintf("Entropy %g, Surprise (mean: %g StdDev: %g Variance: %g Uncertainty: %g), Z-size %d From %d records.",
		s.Entropy, s.SurpriseMean, s.SurpriseStdDev, s.SurpriseStdDev*s.SurpriseStdDev,
		s.Uncertainty, s.AlphabetSize, s.RecordLength)
}

// The arithmetic helpers below aggregate the statistical fields only
// (entropy, surprise mean/stddev, uncertainty) across several runs.

// Add returns the element-wise sum of the statistical fields.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		Entropy:        s.Entropy + o.Entropy,
		SurpriseMean:   s.SurpriseMean + o.SurpriseMean,
		SurpriseStdDev: s.SurpriseStdDev + o.SurpriseStdDev,
		Uncertainty:    s.Uncertainty + o.Uncertainty,
	}
}

// Scale divides the statistical fields by v.
func (s Summary) Scale(v float64) Summary {
	return Summary{
		Entropy:        s.Entropy / v,
		SurpriseMean:   s.SurpriseMean / v,
		SurpriseStdDev: s.SurpriseStdDev / v,
		Uncertainty:    s.Uncertainty / v,
	}
}

// ElementwiseMin returns the per-field minimum of the statistical fields.
func ElementwiseMin(a, b Summary) Summary {
	return Summary{
		Entropy:        math.Min(a.Entropy, b.Entropy),
		SurpriseMean:   math.Min(a.SurpriseMean, b.SurpriseMean),
		SurpriseStdDev: math.Min(a.SurpriseStdDev, b.SurpriseStdDev),
		Uncertainty:    math.Min(a.Uncertainty, b.Uncertainty),
	}
}

// ElementwiseMax returns the per-field maximum of the statistical fields.
func ElementwiseMax(a, b Summary) Summary {
	return Summary{
		Entropy:        math.Max(a.Entropy, b.Entropy),
		SurpriseMean:   math.Max(a.SurpriseMean, b.SurpriseMean),
		SurpriseStdDev: math.Max(a.SurpriseStdDev, b.SurpriseStdDev),
		Uncertainty:    math.Max(a.Uncertainty, b.Uncertainty),
	}
}

// InfiniteSummary is the identity for ElementwiseMin.
func InfiniteSummary() Summary {
	inf := math.Inf(1)
	return Summary{Entropy: inf, SurpriseMean: inf, SurpriseStdDev: inf, Uncertainty: inf}
}

// Letter is one distinct symbol of an alphabet.
type Letter struct {
	Probability float64 `json:"prob"`
	Surprise    float64 `json:"surprise"`
	Count       int     `json:"count"`
}

// RecordValue is one column of a representative row.
type RecordValue struct {
	Column  string  `json:"column"`
	Text    string  `json:"text"`
	Number  float64 `json:"number,omitempty"`
	Numeric bool    `json:"numeric"`
}

// Record is a symbol with its statistics and, optionally, the column values
// of one row that produced it.
type Record struct {
	Symbol      string        `json:"symbol"`
	Count       int           `json:"count"`
	Probability float64       `json:"prob"`
	Surprise    float64       `json:"surprise"`
	Values      []RecordValue `json:"values,omitempty"`
}

// Explanation pairs a summary with symbol records.
type Explanation struct {
	Summary Summary  `json:"summary"`
	Records []Record `json:"records"`
}

// RowSurprisal is the surprise of the symbol produced by one row.
type RowSurprisal struct {
	ID       string  `json:"id"`
	Surprise float64 `json:"surprise"`
}

// SurprisalProfile describes the distribution of per-row surprise values.
// Its Mean is the row-weighted expected surprise, which equals the entropy.
type SurprisalProfile struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// SummaryAndSurprisals is a summary plus the dense per-row surprise series in row order.
type SummaryAndSurprisals struct {
	Summary    Summary          `json:"summary"`
	Surprisals []RowSurprisal   `json:"surprisals"`
	Profile    SurprisalProfile `json:"profile"`
}
