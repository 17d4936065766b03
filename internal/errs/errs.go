// Package errs defines the error taxonomy shared by the wallet core.
// Handlers map these onto HTTP status codes; everything here is scoped to a
// single request and never terminates the process.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound covers both unknown credential IDs and owner mismatches. The two
// cases are deliberately indistinguishable so a caller cannot probe whether a
// credential ID exists under another owner.
var ErrNotFound = errors.New("credential not found")

// ValidationError reports malformed, client-correctable input.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid key format: " + strings.Join(e.Issues, ", ")
}

// ConflictError reports a duplicate secret. Duplicate detection is vault-wide,
// keyed on the lookup hash, not per owner.
type ConflictError struct {
	Hash string
}

func (e *ConflictError) Error() string { return "key already exists" }

// UnknownServiceError means no service profile matched the routing request.
type UnknownServiceError struct {
	Hint     string
	Endpoint string
}

func (e *UnknownServiceError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("unknown service %q", e.Hint)
	}
	return fmt.Sprintf("no service profile matches endpoint %q", e.Endpoint)
}

// QuotaExhaustedError means every eligible credential for the service is at
// its quota limit.
type QuotaExhaustedError struct {
	Service string
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("all credentials for %s have exhausted their quota", e.Service)
}

// CredentialUnavailableError covers suspended, expired and undecryptable
// credentials on the proxy call path.
type CredentialUnavailableError struct {
	KeyID string
}

func (e *CredentialUnavailableError) Error() string {
	return fmt.Sprintf("credential %s is unavailable", e.KeyID)
}

// IntegrityError is raised by the vault when a stored blob is malformed or
// fails authentication. It carries the reason only, never plaintext.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return "integrity check failed: " + e.Reason }

// UpstreamError is a transport-level failure that survived the configured
// retry budget. Non-2xx upstream responses are not errors; they pass through.
type UpstreamError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call to %s failed after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// InsufficientDataError means a reporting window contained no usage records.
type InsufficientDataError struct {
	OwnerID string
	Days    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("no usage data available for the last %d days", e.Days)
}
