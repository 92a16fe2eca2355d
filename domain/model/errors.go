package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed classification every core failure maps onto.
// Retry policy derives from the kind alone, never from message matching.
type ErrorKind string

const (
	KindValidation              ErrorKind = "VALIDATION"
	KindAuthExpired             ErrorKind = "AUTH_EXPIRED"
	KindAuthRevoked             ErrorKind = "AUTH_REVOKED"
	KindAuthStateInvalid        ErrorKind = "AUTH_STATE_INVALID"
	KindInvalidGrant            ErrorKind = "INVALID_GRANT"
	KindConfigMissing           ErrorKind = "CONFIG_MISSING"
	KindRepostCooldown          ErrorKind = "REPOST_COOLDOWN"
	KindMediaUnsupported        ErrorKind = "MEDIA_UNSUPPORTED"
	KindUploadProcessingTimeout ErrorKind = "UPLOAD_PROCESSING_TIMEOUT"
	KindRateLimited             ErrorKind = "RATE_LIMITED"
	KindPlatformTransient       ErrorKind = "PLATFORM_TRANSIENT"
	KindPlatformPermanent       ErrorKind = "PLATFORM_PERMANENT"
	KindStorageUnavailable      ErrorKind = "STORAGE_UNAVAILABLE"
	KindCryptoTamper            ErrorKind = "CRYPTO_TAMPER"
	KindTimeout                 ErrorKind = "TIMEOUT"
	KindInternal                ErrorKind = "INTERNAL"
)

// Transient reports whether failures of this kind are retried under the
// standard backoff policy. Permanent kinds terminate the post immediately.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindAuthExpired, KindUploadProcessingTimeout, KindRateLimited,
		KindPlatformTransient, KindStorageUnavailable, KindTimeout, KindInternal:
		return true
	}
	return false
}

// AppError is the typed error carried through every core operation. Message
// must stay operator-safe: no tokens, no ciphertext, no stack traces.
type AppError struct {
	Kind    ErrorKind
	Message string

	// RetryAfter is the platform-supplied backoff hint (RATE_LIMITED).
	RetryAfter time.Duration
	// HoursRemaining is set on REPOST_COOLDOWN denials.
	HoursRemaining float64

	cause error
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// NewError builds an AppError of the given kind.
func NewError(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Errf builds an AppError with a formatted message.
func Errf(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error while keeping
// the chain intact for errors.Is/As.
func WrapError(kind ErrorKind, err error, message string) *AppError {
	return &AppError{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the error kind from any error. Context deadline expiry maps
// to TIMEOUT, context cancellation stays INTERNAL, everything untyped is
// INTERNAL.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// RetryAfterHint returns the platform-supplied delay hint, zero when absent.
func RetryAfterHint(err error) time.Duration {
	var app *AppError
	if errors.As(err, &app) {
		return app.RetryAfter
	}
	return 0
}
