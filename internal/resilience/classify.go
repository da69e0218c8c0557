// Package resilience provides failure classification, retry with
// class-aware backoff, per-dependency circuit breakers, and the one-shot
// recovery strategies applied when a request exhausts its retries.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Class buckets a failure for retry and recovery decisions.
type Class string

const (
	ClassTransient   Class = "transient"
	ClassTimeout     Class = "timeout"
	ClassRateLimit   Class = "rate_limit"
	ClassDataQuality Class = "data_quality"
	ClassNotFound    Class = "not_found"
	ClassPermanent   Class = "permanent"
)

// ClassifiedError attaches an explicit class to an error. Wrapping an error
// this way overrides message-based classification.
type ClassifiedError struct {
	Err        error
	Class      Class
	StatusCode int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassified wraps err with an explicit class.
func NewClassified(err error, class Class) *ClassifiedError {
	return &ClassifiedError{Err: err, Class: class}
}

// NewClassifiedStatus wraps an HTTP-level failure, deriving the class from
// the status code.
func NewClassifiedStatus(err error, statusCode int) *ClassifiedError {
	return &ClassifiedError{Err: err, Class: classForStatus(statusCode), StatusCode: statusCode}
}

func classForStatus(code int) Class {
	switch {
	case code == 404 || code == 410:
		return ClassNotFound
	case code == 408 || code == 504:
		return ClassTimeout
	case code == 429:
		return ClassRateLimit
	case code >= 500:
		return ClassTransient
	case code == 401 || code == 403:
		return ClassPermanent
	default:
		return ClassPermanent
	}
}

// Classify maps an error to its failure class by inspecting the error
// chain and, failing that, the message.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "quota exceeded", "429"):
		return ClassRateLimit
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "i/o timeout"):
		return ClassTimeout
	case containsAny(msg, "not found", "no results", "no such company", "404"):
		return ClassNotFound
	case containsAny(msg, "insufficient content", "parse confidence", "low quality", "empty response"):
		return ClassDataQuality
	case containsAny(msg,
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"server closed idle connection",
		"transport connection broken",
		"service unavailable",
		"bad gateway"):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Retryable reports whether a failure class is worth retrying.
func Retryable(class Class) bool {
	switch class {
	case ClassTransient, ClassTimeout, ClassRateLimit, ClassDataQuality:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
