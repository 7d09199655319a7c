// Package apperr defines the closed set of error kinds the API surfaces and
// the single mapping from those kinds to HTTP responses. Handlers and
// services return *Error values; the edge calls Respond exactly once.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Kind classifies an error for HTTP mapping.
type Kind int

const (
	// Validation covers admission checks, schema violations, chunk index
	// range errors and quota shortfalls. 400, original message.
	Validation Kind = iota
	// Authentication covers bad credentials, expired sessions and CSRF
	// mismatches. 401.
	Authentication
	// Authorization covers missing session cookies and ownership
	// mismatches. 403.
	Authorization
	// NotFound covers unknown file and folder ids. 404.
	NotFound
	// RateLimited maps to 429.
	RateLimited
	// Multipart covers field parse failures and upload timeouts. 400.
	Multipart
	// Crypto covers AEAD failures, bad salts and malformed wrapped keys.
	// 500 with a generic body; detail is logged only.
	Crypto
	// Storage covers DB, Redis and filesystem failures. 500, generic body.
	Storage
	// Internal covers serialization failures and invariant violations.
	// 500, generic body.
	Internal
)

// Error is a kinded error carrying a client-safe message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a kinded error. The message is what clients may
// see; the cause is for logs.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, defaulting to Internal for errors that
// did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func status(kind Kind) int {
	switch kind {
	case Validation, Multipart:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage hides internal detail for 5xx kinds.
func clientMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case Crypto, Storage, Internal:
		return "internal server error"
	default:
		return e.Message
	}
}

// Respond writes the JSON error response for err and aborts the request.
// 5xx kinds are logged with full detail; the body stays generic.
func Respond(c *gin.Context, logger *logrus.Logger, err error) {
	kind := KindOf(err)
	code := status(kind)

	if code >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("request failed")
	}

	c.AbortWithStatusJSON(code, gin.H{"error": clientMessage(err)})
}
