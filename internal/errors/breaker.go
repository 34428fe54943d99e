package errors

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// BreakerState represents the state of a host breaker.
type BreakerState int

const (
	// Closed lets every request through.
	Closed BreakerState = iota
	// Open rejects requests until the cooldown passes.
	Open
	// HalfOpen lets a single probe through.
	HalfOpen
)

// String returns the string representation of BreakerState.
func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures host breakers.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"` // consecutive transient failures before opening, 0 disables
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
}

// DefaultBreakerConfig opens a host after three consecutive transient
// failures and probes it again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Breaker stops crawls of a host that keeps failing with transient errors.
type Breaker struct {
	mu sync.Mutex

	config   BreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a crawl may start. An open breaker whose cooldown
// has passed admits one probe.
func (b *Breaker) Allow() bool {
	if b.config.FailureThreshold <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Record feeds a crawl outcome back. Only transient errors count as
// failures; a target that answered, even uselessly, is healthy.
func (b *Breaker) Record(err error) {
	if b.config.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !IsTransient(err) {
		b.state = Closed
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = b.now()
		b.probing = false
	}
}

// HostBreakers keeps one Breaker per lowercased host.
type HostBreakers struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	config   BreakerConfig
}

// NewHostBreakers creates an empty host breaker set.
func NewHostBreakers(config BreakerConfig) *HostBreakers {
	return &HostBreakers{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Get returns the breaker for host, creating one if needed.
func (h *HostBreakers) Get(host string) *Breaker {
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[host]
	if !ok {
		b = NewBreaker(h.config)
		h.breakers[host] = b
	}
	return b
}

// AllowURL reports whether rawURL's host may be crawled. Unparseable URLs
// are allowed so that the fetcher reports them.
func (h *HostBreakers) AllowURL(rawURL string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return true
	}
	return h.Get(host).Allow()
}

// RecordURL records the outcome of crawling rawURL.
func (h *HostBreakers) RecordURL(rawURL string, err error) {
	if host, ok := hostOf(rawURL); ok {
		h.Get(host).Record(err)
	}
}

// States returns the state of every known host.
func (h *HostBreakers) States() map[string]BreakerState {
	h.mu.Lock()
	defer h.mu.Unlock()

	states := make(map[string]BreakerState, len(h.breakers))
	for host, b := range h.breakers {
		states[host] = b.State()
	}
	return states
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}
