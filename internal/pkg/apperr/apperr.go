package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and HTTP-mapping decisions.
// The orchestrator only ever retries KindUpstreamServer.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuth                Kind = "auth"
	KindNotFound            Kind = "not_found"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindUpstreamClient      Kind = "upstream_client"
	KindUpstreamServer      Kind = "upstream_server"
	KindTimeout             Kind = "timeout"
	KindPartialBatch        Kind = "partial_batch"
	KindDuplicateCompletion Kind = "duplicate_completion"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf walks the error chain for the outermost *Error classification.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retriable reports whether the phase step policy permits a retry.
// Only transient upstream failures qualify; timeouts are terminal per the
// deadline contract, and client/auth/validation failures never heal.
func Retriable(err error) bool {
	return IsKind(err, KindUpstreamServer)
}

func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }
