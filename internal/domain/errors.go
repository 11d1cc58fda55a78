package domain

import (
	"fmt"
	"time"
)

// NetworkError indicates the pricing fetch failed before any usable response
// was received (DNS, connect, TLS, truncated body).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("pricing fetch failed for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError indicates the pricing fetch exceeded its deadline. It is
// deliberately distinct from NetworkError so callers can tell a slow upstream
// from an unreachable one.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pricing fetch for %s timed out after %s", e.URL, e.Timeout)
}

// MalformedResponseError indicates the upstream answered, but not with a
// usable pricing listing: a non-2xx status or a schema-violating body.
type MalformedResponseError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *MalformedResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pricing endpoint %s returned status %d: %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("pricing endpoint %s returned malformed response: %s", e.URL, e.Reason)
}

// InvalidConfigurationError is a caller programming error surfaced
// synchronously at construction time. There is no runtime fallback for it.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}
