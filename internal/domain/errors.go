package domain

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("%w: ...") and test with
// errors.Is.
var (
	// ErrConfig reports invalid construction parameters: windows,
	// thresholds, capital.
	ErrConfig = errors.New("invalid configuration")

	// ErrInput reports malformed market data: empty series, missing columns,
	// non-monotonic dates or non-positive prices.
	ErrInput = errors.New("invalid input data")

	// ErrUnsupportedSignal reports a signal a policy does not accept.
	ErrUnsupportedSignal = errors.New("unsupported signal")

	// ErrNotFound reports a missing run, strategy or symbol.
	ErrNotFound = errors.New("not found")
)
