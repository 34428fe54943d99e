// Package ratelimit paces outbound fetches globally and per host.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter settings.
type Config struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	HostDelay         time.Duration `json:"host_delay" yaml:"host_delay"`
	Adaptive          bool          `json:"adaptive" yaml:"adaptive"`
	MinRate           float64       `json:"min_rate" yaml:"min_rate"`
}

// DefaultConfig returns the default batch pacing.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             5,
		MinRate:           0.5,
	}
}

// Limiter implements rate limiting for fetches.
type Limiter struct {
	mu           sync.RWMutex
	limiter      *rate.Limiter
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	hostDelay    time.Duration
	lastRequest  map[string]time.Time
}

// NewLimiter creates a new rate limiter. A non-positive rate means no limit.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(r, burst),
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		lastRequest:  make(map[string]time.Time),
	}
}

// Wait blocks until a request is allowed or context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitHost blocks until a request to host is allowed.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	host = strings.ToLower(host)

	// Global rate limit
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	hostLimiter, exists := l.perHost[host]
	if !exists {
		hostLimiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hostLimiter
	}

	if l.hostDelay > 0 {
		if lastReq, ok := l.lastRequest[host]; ok {
			elapsed := time.Since(lastReq)
			if elapsed < l.hostDelay {
				l.mu.Unlock()
				select {
				case <-time.After(l.hostDelay - elapsed):
				case <-ctx.Done():
					return ctx.Err()
				}
				l.mu.Lock()
			}
		}
		l.lastRequest[host] = time.Now()
	}
	l.mu.Unlock()

	return hostLimiter.Wait(ctx)
}

// WaitURL waits on the host of rawURL. Unparseable URLs only wait on the
// global limit.
func (l *Limiter) WaitURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return l.Wait(ctx)
	}
	return l.WaitHost(ctx, u.Hostname())
}

// SetHostRate sets a custom rate limit for a specific host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// SetHostDelay sets the minimum delay between requests to the same host.
func (l *Limiter) SetHostDelay(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostDelay = delay
}

// Allow checks if a request is allowed without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the global rate limit.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	l.limiter.SetBurst(burst)
	l.defaultRate = rate.Limit(requestsPerSecond)
	l.defaultBurst = burst
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		HostCount:    len(l.perHost),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
		HostDelay:    l.hostDelay,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	HostCount    int           `json:"host_count"`
	DefaultRate  float64       `json:"default_rate"`
	DefaultBurst int           `json:"default_burst"`
	HostDelay    time.Duration `json:"host_delay"`
}

// AdaptiveRateLimiter adjusts rate based on fetch outcomes.
type AdaptiveRateLimiter struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	errorCount   int
	successCount int
	windowSize   int
}

// NewAdaptiveRateLimiter creates a new adaptive rate limiter that reviews
// its rate every windowSize outcomes.
func NewAdaptiveRateLimiter(minRate, maxRate float64, burst, windowSize int) *AdaptiveRateLimiter {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &AdaptiveRateLimiter{
		Limiter:     NewLimiter(maxRate, burst),
		minRate:     minRate,
		maxRate:     maxRate,
		currentRate: maxRate,
		windowSize:  windowSize,
	}
}

// RecordSuccess records a successful fetch.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.checkAndAdjust()
}

// RecordError records a failed fetch.
func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.checkAndAdjust()
}

// checkAndAdjust adjusts the rate based on success/error ratio.
func (a *AdaptiveRateLimiter) checkAndAdjust() {
	total := a.successCount + a.errorCount
	if total < a.windowSize {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)

	if errorRate > 0.1 {
		a.currentRate = a.currentRate * 0.8
		if a.currentRate < a.minRate {
			a.currentRate = a.minRate
		}
	} else if errorRate < 0.01 {
		a.currentRate = a.currentRate * 1.1
		if a.currentRate > a.maxRate {
			a.currentRate = a.maxRate
		}
	}

	a.SetRate(a.currentRate, a.Stats().DefaultBurst)

	a.successCount = 0
	a.errorCount = 0
}

// CurrentRate returns the current rate.
func (a *AdaptiveRateLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Pacer is what batch scans wait on and report outcomes to.
type Pacer interface {
	WaitURL(ctx context.Context, rawURL string) error
	Observe(ok bool)
}

// Observe implements Pacer; outcomes are ignored.
func (l *Limiter) Observe(bool) {}

// Observe implements Pacer.
func (a *AdaptiveRateLimiter) Observe(ok bool) {
	if ok {
		a.RecordSuccess()
	} else {
		a.RecordError()
	}
}

// New builds the pacer described by cfg.
func New(cfg Config) Pacer {
	if cfg.Adaptive && cfg.RequestsPerSecond > 0 {
		a := NewAdaptiveRateLimiter(cfg.MinRate, cfg.RequestsPerSecond, cfg.Burst, 0)
		a.SetHostDelay(cfg.HostDelay)
		return a
	}
	l := NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	l.SetHostDelay(cfg.HostDelay)
	return l
}
