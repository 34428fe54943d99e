package errors

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries     int           // Additional attempts after the first (0 = no retries)
	InitialDelay   time.Duration // Delay before the first retry
	MaxDelay       time.Duration // Maximum delay between retries
	Multiplier     float64       // Delay multiplier for exponential backoff
	Jitter         float64       // Random jitter factor (0-1)
	RetryStatuses  []int         // HTTP statuses that trigger a retry
	RetryMethods   []string      // Methods the policy applies to
	RetryableTypes []ErrorType   // Transport error types that trigger a retry

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the fetch policy: two extra attempts with a
// 0.3s exponential backoff on 429 and the gateway-style 5xx codes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  300 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		RetryStatuses: []int{429, 500, 502, 503, 504},
		RetryMethods:  []string{"GET", "HEAD"},
		RetryableTypes: []ErrorType{
			Network,
			Timeout,
		},
	}
}

// Budget returns the worst-case wall time of one operation whose single
// attempt is bounded by perAttempt.
func (c RetryConfig) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(c.MaxRetries+1) * perAttempt
	for i := 1; i <= c.MaxRetries; i++ {
		d := BackoffDuration(i, c.InitialDelay, c.MaxDelay, c.Multiplier)
		total += d + time.Duration(c.Jitter*float64(d))
	}
	return total
}

// Retrier implements retry logic with exponential backoff.
// It holds no per-call state and is safe for concurrent use.
type Retrier struct {
	config RetryConfig
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = config.InitialDelay
	}
	return &Retrier{config: config}
}

// Config returns the retrier configuration.
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// AllowsMethod reports whether the policy applies to the HTTP method.
func (r *Retrier) AllowsMethod(method string) bool {
	method = strings.ToUpper(method)
	return slices.Contains(r.config.RetryMethods, method)
}

// RetriesStatus reports whether a response status triggers a retry.
func (r *Retrier) RetriesStatus(statusCode int) bool {
	return slices.Contains(r.config.RetryStatuses, statusCode)
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // The last error encountered
	Duration  time.Duration // Total time spent retrying
	Success   bool          // Whether the operation succeeded
}

// Do executes the function with retries.
func (r *Retrier) Do(ctx context.Context, operation string, url string, fn RetryFunc) *RetryResult {
	result := &RetryResult{}
	start := time.Now()

	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			return result
		}

		lastErr = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(url, operation)
			result.Duration = time.Since(start)
			return result
		}

		if attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			result.LastError = NewCancelledError(url, operation)
			result.Duration = time.Since(start)
			return result
		case <-time.After(r.calculateDelay(delay)):
		}

		delay = r.nextDelay(delay)
	}

	result.LastError = lastErr
	result.Duration = time.Since(start)
	return result
}

// shouldRetry checks if an error should be retried. Status errors are
// decided by the status list alone.
func (r *Retrier) shouldRetry(err error) bool {
	if code := GetStatusCode(err); code != 0 {
		return r.RetriesStatus(code)
	}
	crawlErr := Categorize(err, "")
	if !crawlErr.Retryable {
		return false
	}
	return slices.Contains(r.config.RetryableTypes, crawlErr.Type)
}

func (r *Retrier) calculateDelay(baseDelay time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return baseDelay
	}

	jitter := r.config.Jitter * float64(baseDelay)
	randomJitter := (rand.Float64() * 2 * jitter) - jitter

	return time.Duration(float64(baseDelay) + randomJitter)
}

func (r *Retrier) nextDelay(currentDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * r.config.Multiplier)
	if next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}

// DoWithResult executes a function that returns a value and error.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation, url string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var result T
	var lastErr error

	retryResult := r.Do(ctx, operation, url, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		lastErr = err
		return err
	})

	if !retryResult.Success && GetErrorType(retryResult.LastError) != Cancelled {
		retryResult.LastError = lastErr
	}

	return result, retryResult
}

// BackoffDuration calculates the backoff duration for a given retry number.
func BackoffDuration(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 0 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}

	return time.Duration(delay)
}
