package model

import "errors"

var (
	// ErrSessionExpired is returned when the platform answers code 301 or a probe fails.
	ErrSessionExpired = errors.New("session expired")

	// ErrLoginFailed is the terminal login outcome for one cycle.
	ErrLoginFailed = errors.New("login failed")

	// ErrCaptchaFailed is returned when every slider attempt was rejected.
	ErrCaptchaFailed = errors.New("captcha failed")

	// ErrCodec signals an envelope encryption fault. It is never retried.
	ErrCodec = errors.New("envelope codec failure")

	// ErrEmptyToken is returned when a session token without cookies is about to be stored.
	ErrEmptyToken = errors.New("session token has no cookies")

	// ErrStoreOperationFailed is returned when a store round trip fails.
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// RetryableError marks a failure that the current loop may try again.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure that must stop the current flow immediately.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
