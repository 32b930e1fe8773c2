package bins

import (
	"fmt"
	"math"
)

const DefaultNumericWidth = 1.0

// Numeric bins a quantitative field: index = floor(value / width).
type Numeric struct {
	width
}

func NewNumeric() *Numeric {
	return &Numeric{width: width{value: DefaultNumericWidth, unit: "number"}}
}

func (*Numeric) Kind() Kind           { return KindNumeric }
func (*Numeric) IsQuantitative() bool { return true }

// Index computes the bin index of v without a round trip.
func (b *Numeric) Index(v float64) int64 {
	return int64(math.Floor(v / b.value))
}

// LowerBound is the representative value of bin index i.
func (b *Numeric) LowerBound(i int64) float64 {
	return float64(i) * b.value
}

func (b *Numeric) AttrToBin(d Dialect, expr string) string {
	return d.CastInteger(d.Floor(fmt.Sprintf("%s/%s", d.CastReal(expr), formatNumber(b.value))))
}

func (b *Numeric) ValToBin(d Dialect, literal string) string {
	if !isNumber(literal) {
		literal = d.QuoteLiteral(literal)
	}
	return b.AttrToBin(d, literal)
}

func (b *Numeric) BinToVal(_ Dialect, index string) string {
	return fmt.Sprintf("(%s * %s)", index, formatNumber(b.value))
}

func (b *Numeric) ToBasicUnit(d Dialect, expr string) string {
	return d.CastReal(expr)
}

func (b *Numeric) Suggestions() []Suggestion {
	out := make([]Suggestion, 0, 4)
	for _, w := range []float64{1, 2, 5, 10} {
		out = append(out, Suggestion{Label: describe(w, b.unit), Width: w})
	}
	return out
}
