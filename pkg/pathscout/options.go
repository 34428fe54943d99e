package pathscout

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/graph"
	"github.com/PentesterFlow/PathScout/internal/logger"
	"github.com/PentesterFlow/PathScout/internal/metrics"
	"github.com/PentesterFlow/PathScout/internal/ratelimit"
	"github.com/PentesterFlow/PathScout/internal/score"
)

// Option is a functional option for configuring the Scanner.
type Option func(*Scanner) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(s *Scanner) error {
		if config == nil {
			return fmt.Errorf("config is nil")
		}
		s.config = config.Clone()
		return nil
	}
}

// WithTimeout sets the per-attempt fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Scanner) error {
		s.config.Fetch.Timeout = timeout
		return nil
	}
}

// WithMaxBytes sets the response body ceiling.
func WithMaxBytes(n int64) Option {
	return func(s *Scanner) error {
		s.config.Fetch.MaxBytes = n
		return nil
	}
}

// WithUserAgent sets the user agent string.
func WithUserAgent(ua string) Option {
	return func(s *Scanner) error {
		s.config.Fetch.UserAgent = ua
		return nil
	}
}

// WithRetry sets the number of retries and the initial backoff.
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(s *Scanner) error {
		if maxRetries < 0 {
			maxRetries = 0
		}
		s.config.Fetch.Retry.MaxRetries = maxRetries
		s.config.Fetch.Retry.InitialDelay = initialDelay
		return nil
	}
}

// WithMaxLinks sets the number of unique endpoints kept per page.
func WithMaxLinks(n int) Option {
	return func(s *Scanner) error {
		if n < 1 {
			n = 1
		}
		s.config.Extract.MaxLinks = n
		return nil
	}
}

// WithExcludePatterns adds URL patterns to exclude.
func WithExcludePatterns(patterns ...string) Option {
	return func(s *Scanner) error {
		s.config.Extract.ExcludePatterns = append(s.config.Extract.ExcludePatterns, patterns...)
		return nil
	}
}

// WithGraphLimits sets the graph and path search caps.
func WithGraphLimits(limits graph.Limits) Option {
	return func(s *Scanner) error {
		s.config.Graph = limits
		return nil
	}
}

// WithWorkers sets the number of concurrent batch workers.
func WithWorkers(n int) Option {
	return func(s *Scanner) error {
		if n < 1 {
			n = 1
		}
		s.config.Batch.Workers = n
		return nil
	}
}

// WithRateLimit sets the batch request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Scanner) error {
		s.config.Batch.RateLimit.RequestsPerSecond = rps
		s.config.Batch.RateLimit.Burst = burst
		return nil
	}
}

// WithBreaker sets how many consecutive transient failures open a host
// during batch scans. A threshold of 0 disables the breaker.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(s *Scanner) error {
		s.config.Batch.Breaker.FailureThreshold = threshold
		s.config.Batch.Breaker.Cooldown = cooldown
		return nil
	}
}

// WithScorer sets the endpoint scorer.
func WithScorer(scorer score.Scorer) Option {
	return func(s *Scanner) error {
		if scorer == nil {
			return fmt.Errorf("scorer is nil")
		}
		s.scorer = scorer
		return nil
	}
}

// WithAlertSink sets the alert sink. The caller keeps ownership of sink.
func WithAlertSink(sink alert.Sink) Option {
	return func(s *Scanner) error {
		if sink == nil {
			return fmt.Errorf("alert sink is nil")
		}
		s.sink = sink
		return nil
	}
}

// WithPacer sets the pacer used by batch scans.
func WithPacer(p ratelimit.Pacer) Option {
	return func(s *Scanner) error {
		s.pacer = p
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(s *Scanner) error {
		s.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(s *Scanner) error {
		s.config.Debug = debug
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scanner) error {
		s.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scanner) error {
		s.metrics = m
		return nil
	}
}
