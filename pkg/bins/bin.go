// Package bins discretizes field domains into indexed buckets and renders the
// SQL fragments that map values into, and back out of, bin space.
package bins

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-entropy/pkg/sql"
)

// Kind tags a Bin variant.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindTimestamp   Kind = "timestamp"
	KindPassthrough Kind = "passthrough"
)

// Dialect renders the vendor specific SQL a bin emits.
type Dialect = sqlutil.Dialect

// Suggestion is a display-only width choice.
type Suggestion struct {
	Label string  `json:"label"`
	Width float64 `json:"width"`
}

// Bin discretizes one field's domain. SQL producing methods take the
// expression or literal to transform and return a new expression.
type Bin interface {
	Kind() Kind
	Width() float64
	// SetWidth rejects non-positive and NaN widths, leaving the bin unchanged.
	SetWidth(w float64) error
	Unit() string
	UnitLabel() string
	Description() string
	IsQuantitative() bool

	// AttrToBin maps a column expression to its bin index.
	AttrToBin(d Dialect, expr string) string
	// ValToBin maps a constant into the same bin space as AttrToBin.
	ValToBin(d Dialect, literal string) string
	// BinToVal maps a bin index back to its representative (lower bound) value.
	BinToVal(d Dialect, index string) string
	// ToBasicUnit expresses a value in the bin's elementary unit ignoring width.
	ToBasicUnit(d Dialect, expr string) string

	Suggestions() []Suggestion
}

// ForFieldType returns the default bin for a domain type.
func ForFieldType(t models.FieldType, epochAnchor float64) Bin {
	switch {
	case t.IsNumeric():
		return NewNumeric()
	case t.IsTemporal():
		return NewTimestamp(epochAnchor)
	default:
		return NewPassthrough(t == models.FieldTypeString)
	}
}

// CurrentSuggestion returns the suggestion matching the bin's width, if any.
func CurrentSuggestion(b Bin) (Suggestion, bool) {
	for _, s := range b.Suggestions() {
		if s.Width == b.Width() {
			return s, true
		}
	}
	return Suggestion{}, false
}

// width is the shared width/unit state of all variants.
type width struct {
	value float64
	unit  string
}

func (w *width) Width() float64 { return w.value }

func (w *width) SetWidth(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidBinWidth, v)
	}
	w.value = v
	return nil
}

func (w *width) Unit() string { return w.unit }

func (w *width) UnitLabel() string {
	if w.value == 1 {
		return w.unit
	}
	return inflection.Plural(w.unit)
}

func (w *width) Description() string {
	return formatNumber(w.value) + " " + w.UnitLabel()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
