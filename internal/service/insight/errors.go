package insight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies insight failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindAuthFailed
	KindServerError
	KindTimeout
	KindCancelled
	KindNoProvider
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindNoProvider:
		return "no_provider"
	default:
		return "unknown"
	}
}

// UserMessage is the wording shown to end users for the kind.
func (k Kind) UserMessage() string {
	switch k {
	case KindRateLimited:
		return "API rate limit exceeded. Please try again in a few moments."
	case KindAuthFailed:
		return "Authentication failed. Please check your API configuration."
	case KindServerError:
		return "Server error. Please try again later."
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindCancelled:
		return "Request was cancelled. Please try again."
	case KindNoProvider:
		return "AI insights are not configured. Please contact support."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// Error is returned when every attempt failed.
type Error struct {
	Kind     Kind
	Attempts int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("insight %s after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of an insight error, or KindUnknown.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// classify maps one attempt's failure. parent is the caller's context; a
// deadline on the attempt context alone is a timeout.
func classify(parent context.Context, err error) Kind {
	if parent.Err() != nil {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return KindRateLimited
		case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
			return KindAuthFailed
		case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusGatewayTimeout:
			return KindTimeout
		case se.StatusCode >= http.StatusInternalServerError:
			return KindServerError
		}
	}
	return KindUnknown
}
