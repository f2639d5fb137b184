package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrSkip             = errors.New("reference not fetchable (empty, fragment, data: or javascript:)")
	ErrNoFilename       = errors.New("URL path has no file name")
	ErrPathCollision    = errors.New("local path already claimed by another URL")
	ErrFetchFailed      = errors.New("asset fetch failed")     // Wraps the per-asset cause
	ErrRootFetchFailed  = errors.New("root page fetch failed") // Fatal for a run
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrAssetTooLarge    = errors.New("asset exceeds maximum size")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, YAML)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrIdleTimeout      = errors.New("no response data within the request timeout")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf annotates err with a formatted message, returning nil for a nil err
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging and the asset store.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Specific sentinels first; ErrFetchFailed and ErrRootFetchFailed only wrap
	// one of these, so they are checked after.
	switch {
	case errors.Is(err, ErrSkip):
		return "Policy_Skip"
	case errors.Is(err, ErrNoFilename):
		return "Path_NoFilename"
	case errors.Is(err, ErrPathCollision):
		return "Path_Collision"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrAssetTooLarge):
		return "Policy_MaxSize"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "YAML") {
			return "Content_ParsingYAML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrIdleTimeout):
		return "Network_IdleTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "Network_BrokenPipe"
	}

	// Wrapped by a run-level sentinel but with no recognizable cause
	if errors.Is(err, ErrFetchFailed) {
		return "Fetch_Other"
	}
	if errors.Is(err, ErrRootFetchFailed) {
		return "RootFetch_Other"
	}

	return "Unknown"
}
