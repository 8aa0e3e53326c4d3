// Package failure defines the error taxonomy for bot lifecycle failures.
//
// Transport and HTTP errors are translated into a [Kind] at the HTTP client
// boundary by [Classify] and [FromStatus], so callers only branch on kinds:
//
//	var ferr *failure.Error
//	if errors.As(err, &ferr) && ferr.Kind == failure.KindAuthenticationRejected {
//		// fall back to registration
//	}
package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindNetworkUnreachable
	KindTimeout
	KindAuthenticationRejected
	KindRegistrationRejected
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindConfig:                 "config_error",
	KindNetworkUnreachable:     "network_unreachable",
	KindTimeout:                "timeout",
	KindAuthenticationRejected: "authentication_rejected",
	KindRegistrationRejected:   "registration_rejected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindUnknown,
		KindConfig,
		KindNetworkUnreachable,
		KindTimeout,
		KindAuthenticationRejected,
		KindRegistrationRejected,
	}
}

// Cause labels attached to KindUnknown failures.
const (
	CauseCanceled         = "Canceled"
	CauseConnectionReset  = "Connection Reset"
	CauseConnectionClosed = "Connection Closed"
	CauseInvalidBody      = "Invalid Body"
	CauseInvalidUser      = "Invalid User"
	CausePanic            = "panic"
	CauseUnexpected       = "Unexpected Error"
)

// Error is a classified failure of a single operation.
type Error struct {
	Kind       Kind
	Op         string // operation that failed, e.g. "fetch user"
	StatusCode int    // HTTP status when the server answered, 0 otherwise
	Cause      string // short label for KindUnknown, e.g. CauseConnectionReset
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	label := e.Kind.String()
	if e.Kind == KindUnknown && e.Cause != "" {
		label = fmt.Sprintf("unknown (%s)", e.Cause)
	}
	if e.StatusCode > 0 {
		label = fmt.Sprintf("%s [HTTP %d]", label, e.StatusCode)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, label)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, label, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown when err is not classified.
func KindOf(err error) Kind {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Kind
	}
	return KindUnknown
}

// Config reports a missing or invalid configuration value.
func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// Unknown reports an unexpected failure with an explicit cause label.
func Unknown(op, cause, message string) *Error {
	return &Error{Kind: KindUnknown, Op: op, Cause: cause, Message: message}
}

// FromStatus builds a failure for an HTTP response status. rejected is the
// kind used for 4xx responses; 5xx and other statuses are KindUnknown.
func FromStatus(op string, rejected Kind, status int, message string) *Error {
	kind := KindUnknown
	if status >= 400 && status < 500 {
		kind = rejected
	}
	if kind == KindUnknown {
		return &Error{Kind: kind, Op: op, StatusCode: status, Cause: fmt.Sprintf("HTTP %d", status), Message: message}
	}
	return Rejected(op, kind, status, message)
}

// Rejected reports a response the API refused, regardless of status class.
func Rejected(op string, kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: message}
}

// Classify translates a transport-level error into the taxonomy.
// An already classified error is returned unchanged.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindUnknown, Op: op, Cause: CauseCanceled, Err: err}
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	case isUnreachable(err):
		return &Error{Kind: KindNetworkUnreachable, Op: op, Err: err}
	}
	return &Error{Kind: KindUnknown, Op: op, Cause: unknownCause(err), Err: err}
}

// unknownCause labels a failure that happened after the API host was
// reached, or that did not involve the network at all.
func unknownCause(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CauseConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CauseConnectionClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CauseInvalidBody
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op != "" {
		return "Network " + opErr.Op
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + " request failed"
	}
	return CauseUnexpected
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
