package client

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weatherApiErrorsTotal label and in
// the console report.
const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryUpstream         ErrorCategory = "upstream_error"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. Sentinel errors win
// over message heuristics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	var fe *FetchError
	if errors.As(err, &fe) && fe.Category != "" {
		return fe.Category
	}

	if errors.Is(err, ErrMalformedPayload) {
		return ErrorCategoryParsing
	}

	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrorCategoryInvalidAPIKey
	}

	if errors.Is(err, ErrLocationNotFound) {
		return ErrorCategoryLocationNotFound
	}

	if errors.Is(err, ErrRateLimited) {
		return ErrorCategoryRateLimited
	}

	if errors.Is(err, ErrUpstreamFailure) {
		return ErrorCategoryUpstream
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") {
		return ErrorCategoryTimeout
	}

	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}

	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
