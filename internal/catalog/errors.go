package catalog

import "fmt"

// NetworkError represents transport failures and unexpected catalog responses.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "search", "download")
	StatusCode int    // HTTP status code, 0 for non-HTTP errors
	APIMessage string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents 401 and 403 responses or a failed token
// exchange.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ChecksumError is returned when a downloaded file does not match the
// checksum published by the catalog.
type ChecksumError struct {
	Product  string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Product, e.Expected, e.Actual)
}
