package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Credential lifecycle errors
	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrAuthExchange    = fmt.Errorf("authorization exchange failed")

	// Provider errors
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrProviderRejected    = fmt.Errorf("provider rejected request")
	ErrUnknownProvider     = fmt.Errorf("unknown provider")

	// Input and data errors
	ErrInvalidReference = fmt.Errorf("invalid playlist reference")
	ErrDataIntegrity    = fmt.Errorf("data integrity violation")
	ErrNotFound         = fmt.Errorf("not found")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrMissingArgument  = fmt.Errorf("missing required argument")
)

// Classify maps err onto its taxonomy name, or "" for nil.
// Unrecognized errors are reported as "internal".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrAuthExchange):
		return "auth_exchange"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingArgument):
		return "invalid_input"
	default:
		return "internal"
	}
}
