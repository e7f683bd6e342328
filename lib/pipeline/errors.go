package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an extraction failure. The kind decides whether
// the unit is retried, abandoned, or whether the worker's session must
// be thrown away.
type ErrorKind string

const (
	// retryable: network errors, rate limits, 5xx-equivalents.
	KindTransient ErrorKind = "transient"
	// a transient failure whose retry budget ran out.
	KindTransientExhausted ErrorKind = "transient-exhausted"
	// non-retryable: the unit is genuinely absent or structurally broken.
	KindPermanent ErrorKind = "permanent"
	// non-retryable: paired sequences violated a reconciliation invariant.
	KindReconciliation ErrorKind = "reconciliation"
	// a session could not be constructed; fatal for the owning worker only.
	KindConstruction ErrorKind = "construction"
)

// Error carries a failure classification across the extractor boundary.
type Error struct {
	Kind ErrorKind
	// when true the session that produced this error must be discarded
	// before the worker continues (e.g. a blocking interstitial page).
	InvalidatesSession bool
	Err                error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

func Reconciliation(format string, args ...any) error {
	return &Error{Kind: KindReconciliation, Err: fmt.Errorf(format, args...)}
}

// InvalidateSession marks an error as session-invalidating,
// classifying it as transient if it carries no kind yet.
func InvalidateSession(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		e.InvalidatesSession = true
		return err
	}
	return &Error{Kind: KindTransient, InvalidatesSession: true, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are
// treated as permanent: an extractor bug must never crash the job, only
// abandon the unit.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func invalidatesSession(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.InvalidatesSession
	}
	return false
}

// ConfigurationError aborts a job before any work starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
