// Package apperrors defines the error taxonomy shared across the harvester.
package apperrors

import (
	"errors"
	"fmt"
)

// Standardized venue errors. Adapters map raw venue codes onto these so
// callers can branch with errors.Is regardless of market surface.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// ValidationError reports bad caller input (unknown transfer direction,
// non-positive capital, quantity below step size). Raised synchronously,
// never from the network path.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// UnknownSymbolError reports a symbol absent from the relevant exchange info.
type UnknownSymbolError struct {
	Symbol string
	Market string
}

func (e UnknownSymbolError) Error() string {
	return fmt.Sprintf("symbol %s not found in %s exchange info", e.Symbol, e.Market)
}

// TransportError carries a non-2xx HTTP status and the raw response body.
// The body is venue output and never contains our key material.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// VenueError is a 2xx response whose body signals rejection (code < 0).
// Err, when set, is the standardized sentinel for the venue code.
type VenueError struct {
	Code    int
	Message string
	Err     error
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

func (e *VenueError) Unwrap() error { return e.Err }

// SignatureError reports a signing failure. The message carries the scheme
// and reason only; key material must never reach it.
type SignatureError struct {
	Scheme string
	Reason string
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("%s signature failed: %s", e.Scheme, e.Reason)
}

// IsTransientStatus reports whether an error is a TransportError with a
// retryable status (5xx or 429). Whole-operation retries key off this.
func IsTransientStatus(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode >= 500 || te.StatusCode == 429
	}
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrNetwork)
}
