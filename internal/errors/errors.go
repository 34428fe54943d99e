// Package errors provides the failure taxonomy shared by the fetch, extract,
// graph and search stages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// InvalidInput represents unusable caller input (bad scheme, malformed pair).
	InvalidInput
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents timeout errors.
	Timeout
	// RateLimit represents rate limiting (429) errors.
	RateLimit
	// ServerError represents 5xx errors.
	ServerError
	// ClientError represents 4xx errors other than 429.
	ClientError
	// NonExtractable represents a response whose content cannot be parsed as HTML.
	NonExtractable
	// Parse represents parsing errors.
	Parse
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case InvalidInput:
		return "invalid_input"
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RateLimit:
		return "rate_limit"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case NonExtractable:
		return "non_extractable"
	case Parse:
		return "parse"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTransient reports whether the type belongs to the transient network family.
func (t ErrorType) IsTransient() bool {
	switch t {
	case Network, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// CrawlError represents a categorized stage error.
type CrawlError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
	Attempts   int // attempts made before giving up, when known
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches any CrawlError of the same type.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(errType ErrorType, url, operation, message string, cause error) *CrawlError {
	return &CrawlError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsTransient(),
	}
}

// NewInvalidInputError creates an error for input that is filtered out.
func NewInvalidInputError(url, operation, reason string) *CrawlError {
	return NewCrawlError(InvalidInput, url, operation, reason, nil)
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Timeout, url, operation, "request timed out", cause)
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(url string) *CrawlError {
	err := NewCrawlError(RateLimit, url, "fetch", "rate limited", nil)
	err.StatusCode = 429
	return err
}

// NewServerError creates a server error.
func NewServerError(url string, statusCode int, message string) *CrawlError {
	err := NewCrawlError(ServerError, url, "fetch", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewClientError creates a client error.
func NewClientError(url string, statusCode int, message string) *CrawlError {
	err := NewCrawlError(ClientError, url, "fetch", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewNonExtractableError creates an error for a response that is not HTML.
func NewNonExtractableError(url, contentType string) *CrawlError {
	return NewCrawlError(NonExtractable, url, "fetch", fmt.Sprintf("content-type %q is not html", contentType), nil)
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Parse, url, operation, "parsing failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *CrawlError {
	return NewCrawlError(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *CrawlError {
	if err == nil {
		return nil
	}

	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "fetch")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "fetch", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "fetch", err)
	}

	return NewCrawlError(Unknown, url, "fetch", err.Error(), err)
}

// CategorizeHTTPStatus creates an error from an HTTP status code.
// It returns nil for non-error statuses.
func CategorizeHTTPStatus(statusCode int, url string) *CrawlError {
	switch {
	case statusCode == 429:
		return NewRateLimitError(url)
	case statusCode >= 500:
		return NewServerError(url, statusCode, fmt.Sprintf("server returned %d", statusCode))
	case statusCode >= 400:
		return NewClientError(url, statusCode, fmt.Sprintf("client error %d", statusCode))
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "EOF")
}

// IsTransient reports whether err belongs to the transient network family.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type.IsTransient()
	}
	return isTimeout(err) || isNetworkError(err)
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type
	}
	return Unknown
}

// GetAttempts extracts the number of fetch attempts from an error, 0 when
// unknown.
func GetAttempts(err error) int {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Attempts
	}
	return 0
}
