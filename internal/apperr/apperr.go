// Package apperr defines the error taxonomy shared by the room engine,
// the hub, and the upload pipeline. Errors are tagged sentinels rather than
// distinct types: call sites wrap a sentinel with context via
// errors.Wrapf/WithDetail, and callers classify with errors.Is against the
// sentinels below.
package apperr

import "github.com/cockroachdb/errors"

// Kinds, per spec section 7. Each maps to a distinct wire code so the hub
// can localize messages for clients.
var (
	// ErrInvalidState: an operation is illegal given current room state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidStateChange: a client requested a user-state transition
	// reserved for the server.
	ErrInvalidStateChange = errors.New("invalid state change")

	// ErrNotFound: room/user/item not present.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized: non-host attempted a host-only op, or a non-owner
	// attempted to edit someone else's item.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrTransportClosed: client disconnected mid-operation.
	ErrTransportClosed = errors.New("transport closed")

	// ErrServerShuttingDown: process is in graceful shutdown; no new joins.
	ErrServerShuttingDown = errors.New("server shutting down")

	// ErrDatabaseUnavailable: database port failure, retried at most once
	// with jitter, then surfaced.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrStorageUnavailable: storage port failure inside the upload
	// pipeline. Always swallowed at the call site; never surfaced to a
	// client.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Code is the wire-visible, localizable error code sent to RPC callers.
type Code string

const (
	CodeInvalidState       Code = "invalid_state"
	CodeInvalidStateChange Code = "invalid_state_change"
	CodeNotFound           Code = "not_found"
	CodeNotAuthorized      Code = "not_authorized"
	CodeTransportClosed    Code = "transport_closed"
	CodeServerShuttingDown Code = "server_shutting_down"
	CodeDatabaseUnavailable Code = "database_unavailable"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeUnknown            Code = "unknown"
)

// sentinelCodes pairs every taxonomy sentinel with its wire code. Order
// does not matter; WireCode walks it looking for the first errors.Is match.
var sentinelCodes = []struct {
	err  error
	code Code
}{
	{ErrInvalidState, CodeInvalidState},
	{ErrInvalidStateChange, CodeInvalidStateChange},
	{ErrNotFound, CodeNotFound},
	{ErrNotAuthorized, CodeNotAuthorized},
	{ErrTransportClosed, CodeTransportClosed},
	{ErrServerShuttingDown, CodeServerShuttingDown},
	{ErrDatabaseUnavailable, CodeDatabaseUnavailable},
	{ErrStorageUnavailable, CodeStorageUnavailable},
}

// WireCode classifies err against the known taxonomy, returning CodeUnknown
// for anything else (a programmer error that should not reach the wire
// unredacted).
func WireCode(err error) Code {
	if err == nil {
		return ""
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return CodeUnknown
}

// InvalidState wraps ErrInvalidState with a formatted reason.
func InvalidState(format string, args ...any) error {
	return errors.WithDetail(errors.Wrapf(ErrInvalidState, format, args...), "caller-facing")
}

// InvalidStateChange wraps ErrInvalidStateChange with a formatted reason.
func InvalidStateChange(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidStateChange, format, args...)
}

// NotFound wraps ErrNotFound with a formatted reason.
func NotFound(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// NotAuthorized wraps ErrNotAuthorized with a formatted reason.
func NotAuthorized(format string, args ...any) error {
	return errors.Wrapf(ErrNotAuthorized, format, args...)
}

// DatabaseUnavailable wraps ErrDatabaseUnavailable, attaching the
// underlying driver error as a secondary error: it is kept for detailed
// (%+v) formatting, while errors.Is matches ErrDatabaseUnavailable.
func DatabaseUnavailable(cause error, format string, args ...any) error {
	return errors.Wrapf(errors.WithSecondaryError(ErrDatabaseUnavailable, cause), format, args...)
}

// StorageUnavailable wraps ErrStorageUnavailable, preserving the cause.
func StorageUnavailable(cause error, format string, args ...any) error {
	return errors.Wrapf(errors.WithSecondaryError(ErrStorageUnavailable, cause), format, args...)
}
