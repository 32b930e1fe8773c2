package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrConfigurationIncomplete = errors.New("configuration incomplete")
	ErrQueryExecution          = errors.New("query execution failed")
	ErrDegenerateAlphabet      = errors.New("alphabet has fewer than two symbols")
	ErrUnsupportedOperator     = errors.New("unsupported condition operator")
	ErrInvalidBinWidth         = errors.New("bin width must be positive")
	ErrUnsafeLiteral           = errors.New("literal rejected by injection check")
	ErrUnsupportedDialect      = errors.New("unsupported sql dialect")
)
