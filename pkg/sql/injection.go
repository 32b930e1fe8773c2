package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

// CheckLiteral screens a condition operand with libinjection before it is quoted
// into a predicate. Quoting already neutralizes the value; the check rejects
// operands that were clearly written as SQL so they surface as configuration errors.
func CheckLiteral(value string) error {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return fmt.Errorf("%w: fingerprint %q", apperrors.ErrUnsafeLiteral, string(fingerprint))
	}
	return nil
}
