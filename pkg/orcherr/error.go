package orcherr

import (
	"errors"
	"fmt"
)

// Kind names a taxonomy bucket, not a Go type — spec.md §7 deliberately
// keeps the taxonomy small so the CLI layer can make exhaustive switch
// decisions over it.
type Kind string

const (
	NotFound            Kind = "not-found"
	InvalidState        Kind = "invalid-state"
	StoreBusy           Kind = "store-busy"
	RefresherFailure    Kind = "refresher-failure"
	MalformedDefinition Kind = "malformed-definition"
	Internal            Kind = "internal"
)

// Error is the structured payload spec.md §7 requires callers to receive
// for anything that isn't recovered internally: {code, details, source}.
type Error struct {
	Code    Kind   `json:"code"`
	Details string `json:"details"`
	Source  string `json:"source,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Details, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of kind with details and an optional source
// (typically the node or task id the error concerns).
func New(kind Kind, details, source string) *Error {
	return &Error{Code: kind, Details: details, Source: source}
}

// Wrap builds an Error of kind around an existing error, preserving it
// for errors.Is/As while still producing the flat JSON payload.
func Wrap(kind Kind, source string, err error) *Error {
	return &Error{Code: kind, Details: err.Error(), Source: source, cause: err}
}

// As is a thin convenience wrapper around errors.As for callers that
// want to branch on Kind without importing the stdlib errors package
// themselves.
func As(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
