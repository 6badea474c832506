package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryPolicy is a capped exponential backoff: the delay before attempt n+1
// is BaseDelay * 2^(n-1), never more than MaxDelay.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// permanentError stops Retry immediately.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last error is returned wrapped with the attempt count.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(p.Delay(attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Retryable reports whether a status code is worth another attempt.
func Retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusForbidden:
		return true
	}
	return code >= 500
}

// CheckStatus turns a non-200 response into an error, permanent for codes
// that will not change on retry.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err := &StatusError{URL: resp.Request.URL.String(), Code: resp.StatusCode}
	if Retryable(resp.StatusCode) {
		return err
	}
	return Permanent(err)
}
