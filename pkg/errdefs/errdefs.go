// Package errdefs defines the error kinds shared across the ferry data
// plane and their mapping to gRPC status codes.
//
// Error kinds carry structured context but deliberately share no base
// type; callers classify with the Is* predicates, which follow wrapped
// chains via errors.As.
package errdefs

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// ErrInvalidTopic is returned by the server when a requested topic is not
// associated with any product the caller may consume.
var ErrInvalidTopic = errors.New("invalid topic")

// ConfigurationError marks a missing or invalid configuration value.
// Configuration errors are fatal for the affected job tick and never
// retried.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Detail)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configuration wraps err as a configuration error
func Configuration(detail string, err error) error {
	return &ConfigurationError{Detail: detail, Err: err}
}

// AuthError marks a failed token fetch, an invalid token, or a JWKS
// lookup miss. During a management-plane fetch an auth failure triggers
// one token refresh and retry, then becomes fatal.
type AuthError struct {
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("auth error: %s", e.Detail)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Auth wraps err as an auth error
func Auth(detail string, err error) error {
	return &AuthError{Detail: detail, Err: err}
}

// RetryableError marks a transient failure. The scheduler consults the
// job's retry budget and reschedules the tick.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as retryable. A nil err returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// FatalError marks a non-retryable transport or protocol failure. The
// tick ends and the failure is logged at error level.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable. A nil err returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// TopicStreamError wraps a non-gRPC runtime failure of a topic-stream
// job tick, carrying the topic it was serving.
type TopicStreamError struct {
	Topic string
	Err   error
}

func (e *TopicStreamError) Error() string {
	return fmt.Sprintf("topic stream %q: %v", e.Topic, e.Err)
}

func (e *TopicStreamError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is a configuration error
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsAuth reports whether err is an auth error
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether err should be retried. Circuit-open errors
// from the breaker behave like any transient transport failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return false
}
