package bins

import (
	"fmt"

	"github.com/jinzhu/inflection"
)

// DefaultEpochAnchor is subtracted from epoch seconds before bucketing so
// timestamp bin indexes stay small. Overridable through engine configuration.
const DefaultEpochAnchor = 250100000

const DefaultTimestampWidth = 15.0

// Timestamp bins a date/time field into minute buckets:
// index = floor((epochSeconds(value) - anchor) / 60 / width).
type Timestamp struct {
	width
	anchor float64
}

func NewTimestamp(anchor float64) *Timestamp {
	return &Timestamp{width: width{value: DefaultTimestampWidth, unit: "minute"}, anchor: anchor}
}

func (*Timestamp) Kind() Kind           { return KindTimestamp }
func (*Timestamp) IsQuantitative() bool { return true }

func (b *Timestamp) Anchor() float64 { return b.anchor }

func (b *Timestamp) AttrToBin(d Dialect, expr string) string {
	return d.CastInteger(d.Floor(fmt.Sprintf("%s/%s", b.ToBasicUnit(d, expr), formatNumber(b.value))))
}

func (b *Timestamp) ValToBin(d Dialect, literal string) string {
	return b.AttrToBin(d, d.TimestampLiteral(literal))
}

func (b *Timestamp) BinToVal(d Dialect, index string) string {
	return d.FromEpochSeconds(fmt.Sprintf("(%s * %s * 60.0 + %s)", index, formatNumber(b.value), formatNumber(b.anchor)))
}

func (b *Timestamp) ToBasicUnit(d Dialect, expr string) string {
	return fmt.Sprintf("((%s - %s)/60.0)", d.EpochSeconds(expr), formatNumber(b.anchor))
}

var timestampSuggestions = []Suggestion{
	{Label: "1 minute", Width: 1},
	{Label: "5 minutes", Width: 5},
	{Label: "10 minutes", Width: 10},
	{Label: "15 minutes", Width: 15},
	{Label: "30 minutes", Width: 30},
	{Label: "1 hour", Width: 60},
	{Label: "6 hours", Width: 360},
	{Label: "12 hours", Width: 720},
	{Label: "1 day", Width: 1440},
}

func (*Timestamp) Suggestions() []Suggestion {
	return append([]Suggestion(nil), timestampSuggestions...)
}

func describe(w float64, unit string) string {
	if w != 1 {
		unit = inflection.Plural(unit)
	}
	return formatNumber(w) + " " + unit
}
