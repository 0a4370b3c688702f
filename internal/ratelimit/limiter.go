package ratelimit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// Limiter paces provider calls and retries the calls that are allowed to retry.
type Limiter struct {
	limiter *rate.Limiter

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a limiter allowing perSecond calls with the given burst.
// perSecond <= 0 disables pacing.
func New(perSecond float64, burst int, maxAttempts int) *Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Limiter{
		limiter:        rate.NewLimiter(limit, burst),
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		sleep:          sleepContext,
	}
}

// Wait blocks until the next call is allowed.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Do runs fn under the limiter, retrying retryable failures up to MaxAttempts.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	for attempt := 1; ; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= l.MaxAttempts || !IsRetryable(err) {
			return err
		}
		delay := retryAfter(err)
		if delay <= 0 {
			delay = l.backoff(attempt)
		}
		if sleepErr := l.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

func (l *Limiter) backoff(attempt int) time.Duration {
	initial := l.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := l.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

// IsRetryable reports whether a provider error is worth another attempt:
// throttling, server errors and transport failures are; client errors and
// cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryAfter(err error) time.Duration {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Header == nil {
		return 0
	}
	value := strings.TrimSpace(apiErr.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, convErr := strconv.Atoi(value); convErr == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
