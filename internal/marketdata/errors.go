package marketdata

import "errors"

var (
	// ErrUpstreamUnavailable marks a failed fetch or a structurally invalid payload.
	// Callers should treat it as retryable.
	ErrUpstreamUnavailable = errors.New("upstream market data unavailable")

	// ErrDataAbsent marks a fetch that succeeded but produced no usable rows.
	ErrDataAbsent = errors.New("market data absent")
)
