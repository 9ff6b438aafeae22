package transport

import (
	"fmt"
	"time"
)

// Response is the uniform result of a Transport.Post call. Transport never
// panics or returns a Go error to its caller for a network failure — it is
// always represented as a Response with Status == -1.
type Response struct {
	Status     int
	Body       []byte
	Err        error
	RetryAfter time.Duration
}

// Success reports whether Status is in the 2xx range.
func (r Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// ShouldRetry classifies the response per spec.md §4.5's status table:
// 429, 5xx, and network errors (-1) are retryable; other 4xx are not.
func (r Response) ShouldRetry() bool {
	if r.Status == -1 {
		return true
	}
	if r.Status == 429 {
		return true
	}
	if r.Status >= 500 && r.Status < 600 {
		return true
	}
	return false
}

// RateLimited reports whether the response was a 429.
func (r Response) RateLimited() bool { return r.Status == 429 }

// ClientError reports whether the response is a non-retryable 4xx.
func (r Response) ClientError() bool {
	return r.Status >= 400 && r.Status < 500 && r.Status != 429
}

// ServerError reports whether the response is a 5xx.
func (r Response) ServerError() bool {
	return r.Status >= 500 && r.Status < 600
}

// NetworkError reports whether the request never reached the server
// (connect/TLS/timeout failure).
func (r Response) NetworkError() bool { return r.Status == -1 }

// ErrorMessage renders a human-readable summary of a failed Response.
func (r Response) ErrorMessage() string {
	if r.Err != nil {
		return fmt.Sprintf("status=%d: %v", r.Status, r.Err)
	}
	return fmt.Sprintf("status=%d: %s", r.Status, string(r.Body))
}
