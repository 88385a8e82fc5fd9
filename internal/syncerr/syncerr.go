// Package syncerr defines the error taxonomy the reconciliation engine and
// its transports branch on (§7): a small set of Kinds, each wrapping an
// underlying cause and carrying a human Suggestion, generalized from the
// teacher's internal/utils.ErrorWithSuggestion pattern.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of §7's taxonomy buckets an error belongs to.
type Kind int

const (
	// Transport covers network failures, timeouts, and 5xx responses —
	// retryable.
	Transport Kind = iota
	// Auth covers 401/403 responses — not retryable without operator
	// intervention.
	Auth
	// Conflict covers 409/412 responses from a write that raced another
	// writer — retryable once.
	Conflict
	// StaleToken covers a CalDAV server rejecting a sync-collection token —
	// the caller must fall back to a full listing.
	StaleToken
	// Parse covers malformed iCalendar or JSON payloads.
	Parse
	// Schema covers a Doc-store page or data source that doesn't match the
	// expected task shape — skipped, not fatal.
	Schema
	// Invariant covers a violation of an identity or hash invariant the
	// engine relies on (I1-I5) — always a bug, never expected at runtime.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Auth:
		return "auth"
	case Conflict:
		return "conflict"
	case StaleToken:
		return "stale_token"
	case Parse:
		return "parse"
	case Schema:
		return "schema"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and an operator-facing
// Suggestion, mirroring the teacher's ErrorWithSuggestion shape.
type Error struct {
	Kind       Kind
	Err        error
	Suggestion string
}

func (e *Error) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Err, e.Suggestion)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and Suggestion.
func New(kind Kind, err error, suggestion string) *Error {
	return &Error{Kind: kind, Err: err, Suggestion: suggestion}
}

// Is reports whether err carries the given Kind, looking through wrapping.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// ErrStaleSyncToken is the sentinel the CalDAV client returns when a server
// rejects a sync-collection token (RFC 6578 "valid-sync-token" precondition
// failure). The decision to replace exception-for-control-flow with a
// sentinel + typed fallback is recorded in §9.
var ErrStaleSyncToken = New(StaleToken, errors.New("sync token rejected by server"),
	"falling back to a full listing for this pass")

// Transportf builds a Transport-kind error.
func Transportf(suggestion string, format string, args ...any) *Error {
	return New(Transport, fmt.Errorf(format, args...), suggestion)
}

// Authf builds an Auth-kind error.
func Authf(suggestion string, format string, args ...any) *Error {
	return New(Auth, fmt.Errorf(format, args...), suggestion)
}

// Conflictf builds a Conflict-kind error.
func Conflictf(suggestion string, format string, args ...any) *Error {
	return New(Conflict, fmt.Errorf(format, args...), suggestion)
}
