package core

import (
	"errors"
	"fmt"
)

// Kind classifies the error taxonomy a ConnectionToCore can surface. It is a
// classification, not a concrete error type — callers compare with
// errors.Is against the exported sentinels below.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota
	// KindDisconnected covers transport termination and disconnect-adjacent
	// inbound errors, remapped with host context.
	KindDisconnected
	// KindTimeout covers a per-request deadline elapsing.
	KindTimeout
	// KindCancelled covers mass-cancellation of pending requests during
	// disconnect (PendingMessages.Cancel), distinct from KindDisconnected.
	KindCancelled
	// KindTransportSend covers transport.Send rejecting.
	KindTransportSend
	// KindHookFailure covers AfterConnectFn/BeforeDisconnectFn returning an
	// error.
	KindHookFailure
	// KindPassThrough names the class of any other inbound error payload.
	// Such payloads are delivered verbatim as *WireError, not wrapped in an
	// *Error, so no returned error carries this kind.
	KindPassThrough
)

func (k Kind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindTransportSend:
		return "transport_send"
	case KindHookFailure:
		return "hook_failure"
	case KindPassThrough:
		return "pass_through"
	default:
		return "unknown"
	}
}

// Error is the concrete error type corebridge raises. Kind is compared via
// errors.Is against the package-level sentinels (ErrDisconnected,
// ErrTimeout, ...); Err carries the underlying cause for %w-unwrapping.
type Error struct {
	Kind Kind
	Host string
	Err  error
}

func (e *Error) Error() string {
	if e.Host != "" && e.Err != nil {
		return fmt.Sprintf("corebridge: %s (%s): %v", e.Kind, e.Host, e.Err)
	}
	if e.Host != "" {
		return fmt.Sprintf("corebridge: %s (%s)", e.Kind, e.Host)
	}
	if e.Err != nil {
		return fmt.Sprintf("corebridge: %s: %v", e.Kind, e.Err)
	}
	return "corebridge: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind only, so errors.Is(err, ErrTimeout) works regardless of
// host or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == KindUnknown {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. None of these carry a host or cause —
// they exist purely to classify.
var (
	ErrDisconnected  = &Error{Kind: KindDisconnected}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrCancelled     = &Error{Kind: KindCancelled}
	ErrTransportSend = &Error{Kind: KindTransportSend}
	ErrHookFailure   = &Error{Kind: KindHookFailure}
)

func newDisconnectedError(host string, cause error) *Error {
	return &Error{Kind: KindDisconnected, Host: host, Err: cause}
}

func newTimeoutError(host string) *Error {
	return &Error{Kind: KindTimeout, Host: host}
}

func newCancelledError(host string, cause error) *Error {
	return &Error{Kind: KindCancelled, Host: host, Err: cause}
}

func newTransportSendError(host string, cause error) *Error {
	return &Error{Kind: KindTransportSend, Host: host, Err: cause}
}

func newHookFailureError(host string, cause error) *Error {
	return &Error{Kind: KindHookFailure, Host: host, Err: cause}
}

// WireError is the error-shaped value a Response frame's data carries. It
// mirrors the inbound error payloads described in spec §6: identified by
// Name, optionally flagged as disconnect-adjacent via IsDisconnecting.
type WireError struct {
	Name            string `json:"name"`
	Message         string `json:"message"`
	IsDisconnecting bool   `json:"isDisconnecting,omitempty"`
}

func (e *WireError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// sessionClosedOrMissingName is the sentinel error name that always counts
// as disconnect-adjacent, regardless of the IsDisconnecting marker.
const sessionClosedOrMissingName = "SessionClosedOrMissingError"

// browserLaunchErrorNames never get remapped to a disconnected-kind error,
// even mid-disconnect — they are meaningful to the caller regardless of
// connection state.
var browserLaunchErrorNames = map[string]bool{
	"BrowserLaunchError":       true,
	"DependenciesMissingError": true,
}

func isBrowserLaunchKind(name string) bool {
	return browserLaunchErrorNames[name]
}

// scrub returns a copy of e with the IsDisconnecting marker cleared — the
// marker is internal routing metadata and must not reach the caller.
func (e *WireError) scrub() *WireError {
	return &WireError{Name: e.Name, Message: e.Message}
}

// AsCoreError reports whether err (or something it wraps) is a *Error and
// returns it.
func AsCoreError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
