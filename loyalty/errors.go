/*
errors.go - Centralized error types for the loyalty engine

ERROR CATEGORIES:
  1. Configuration errors - Invalid ratio, tier or reward input. Rejected
     before any state change.
  2. Missing entities - Client, company, tier not found. Most reads treat
     these as "nothing to do"; direct lookups surface them.
  3. Unresolvable fulfillment - Not an error: reported as a skip in the
     DeliveryReport and retried later.

SEE ALSO:
  - fulfillment.go: DeliveryReport and skip reasons
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfig is returned for non-positive ratios, thresholds or targets.
	ErrInvalidConfig = errors.New("invalid loyalty configuration")

	// ErrInvalidAmount is returned for negative purchase amounts or point grants.
	ErrInvalidAmount = errors.New("invalid amount")

	ErrProgramNotFound = errors.New("program not found")
	ErrTierNotFound    = errors.New("tier not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrCompanyNotFound = errors.New("company not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConfigError names the offending field of a rejected configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid loyalty configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func configError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrCompanyNotFound)
}
