package bins

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

// Passthrough uses the value itself as the bin index. Used for strings,
// booleans and any type without a quantitative bin.
type Passthrough struct {
	width
	textual bool
}

func NewPassthrough(textual bool) *Passthrough {
	return &Passthrough{width: width{value: 1, unit: "value"}, textual: textual}
}

func (*Passthrough) Kind() Kind           { return KindPassthrough }
func (*Passthrough) IsQuantitative() bool { return false }

// SetWidth accepts only a width of 1.
func (b *Passthrough) SetWidth(v float64) error {
	if v == 1 {
		return nil
	}
	return fmt.Errorf("%w: passthrough width is fixed at 1", apperrors.ErrInvalidBinWidth)
}

func (*Passthrough) AttrToBin(_ Dialect, expr string) string { return expr }

func (b *Passthrough) ValToBin(d Dialect, literal string) string {
	if b.textual {
		return d.QuoteLiteral(literal)
	}
	if v, err := strconv.ParseBool(strings.ToLower(literal)); err == nil && !isNumber(literal) {
		return d.BooleanLiteral(v)
	}
	if isNumber(literal) {
		return literal
	}
	return d.QuoteLiteral(literal)
}

func (*Passthrough) BinToVal(_ Dialect, index string) string    { return index }
func (*Passthrough) ToBasicUnit(_ Dialect, expr string) string { return expr }

func (*Passthrough) Suggestions() []Suggestion {
	return []Suggestion{{Label: "<identity>", Width: 1}}
}
