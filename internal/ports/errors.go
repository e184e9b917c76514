package ports

import "errors"

// Infrastructure errors. Adapters wrap the underlying failure with one of these so the
// core can decide whether a call is worth retrying.
// Domain errors (price unavailable, malformed record, ...) live in the domain package.
var (
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Price source errors
	ErrExchangeUnavailable  = errors.New("price source is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the price source")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("price source authentication failed (check API keys)")
	ErrUnknownSymbol        = errors.New("symbol not listed on the price source")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable)
}
