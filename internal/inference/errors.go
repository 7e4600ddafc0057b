package inference

import (
	"fmt"
	"strings"
	"time"
)

// TransientKind says why a remote failure may succeed on retry.
type TransientKind int

const (
	// RateLimited means the service asked the caller to slow down (HTTP 429).
	RateLimited TransientKind = iota + 1
	// Network covers timeouts, refused or reset connections and gateway errors.
	Network
)

func (k TransientKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limit"
	case Network:
		return "network"
	default:
		return "unknown"
	}
}

// StatusError is a non-2xx response from the inference service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("inference request: http %d", e.StatusCode)
	}
	return fmt.Sprintf("inference request: http %d: %s", e.StatusCode, body)
}

// TransientError wraps a failure that the caller may retry.
type TransientError struct {
	Kind TransientKind
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func classifyStatus(err *StatusError) error {
	switch err.StatusCode {
	case 429:
		return &TransientError{Kind: RateLimited, Err: err}
	case 408, 502, 503, 504:
		return &TransientError{Kind: Network, Err: err}
	default:
		return err
	}
}
