package pathscout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/errors"
	"github.com/PentesterFlow/PathScout/internal/graph"
	fetchhttp "github.com/PentesterFlow/PathScout/internal/http"
	"github.com/PentesterFlow/PathScout/internal/output"
	"github.com/PentesterFlow/PathScout/internal/parser"
	"github.com/PentesterFlow/PathScout/internal/ratelimit"
	"github.com/PentesterFlow/PathScout/internal/scope"
	"github.com/PentesterFlow/PathScout/internal/score"
	"gopkg.in/yaml.v3"
)

// Alert sink names.
const (
	SinkNone  = "none"
	SinkBolt  = "bolt"
	SinkRedis = "redis"
)

// Config holds all scanner configuration.
type Config struct {
	// Page fetch limits
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// Link and form extraction
	Extract ExtractConfig `json:"extract" yaml:"extract"`

	// Graph and path search caps
	Graph graph.Limits `json:"graph" yaml:"graph"`

	// Endpoint scoring
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Alert sink
	Alerts AlertConfig `json:"alerts" yaml:"alerts"`

	// Batch scans
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Metrics export
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Output configuration
	Output output.Config `json:"output" yaml:"output"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// FetchConfig bounds a single page fetch.
type FetchConfig struct {
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
	MaxBytes           int64         `json:"max_bytes" yaml:"max_bytes"`
	UserAgent          string        `json:"user_agent" yaml:"user_agent"`
	MaxRedirects       int           `json:"max_redirects" yaml:"max_redirects"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Retry              RetryConfig   `json:"retry" yaml:"retry"`
}

// RetryConfig is the fetch retry policy.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	Statuses     []int         `json:"statuses" yaml:"statuses"`
}

// ExtractConfig controls link and form extraction.
type ExtractConfig struct {
	MaxLinks        int      `json:"max_links" yaml:"max_links"`
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
}

// ScoringConfig selects the endpoint scorer.
type ScoringConfig struct {
	Scorer string `json:"scorer" yaml:"scorer"` // heuristic, zero
}

// AlertConfig selects where scan alerts go.
type AlertConfig struct {
	Sink     string            `json:"sink" yaml:"sink"` // none, bolt, redis
	BoltPath string            `json:"bolt_path" yaml:"bolt_path"`
	Redis    alert.RedisConfig `json:"redis" yaml:"redis"`
}

// BatchConfig controls multi-target scans.
type BatchConfig struct {
	Workers   int                  `json:"workers" yaml:"workers"`
	RateLimit ratelimit.Config     `json:"rate_limit" yaml:"rate_limit"`
	Breaker   errors.BreakerConfig `json:"breaker" yaml:"breaker"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Textfile string `json:"textfile" yaml:"textfile"`
}

// DefaultConfig returns a configuration with the standard limits.
func DefaultConfig() *Config {
	retry := errors.DefaultRetryConfig()
	limits := graph.DefaultLimits()

	return &Config{
		Fetch: FetchConfig{
			Timeout:      10 * time.Second,
			MaxBytes:     1_500_000,
			UserAgent:    fetchhttp.DefaultUserAgent,
			MaxRedirects: 10,
			Retry: RetryConfig{
				MaxRetries:   retry.MaxRetries,
				InitialDelay: retry.InitialDelay,
				MaxDelay:     retry.MaxDelay,
				Multiplier:   retry.Multiplier,
				Statuses:     retry.RetryStatuses,
			},
		},
		Extract: ExtractConfig{
			MaxLinks: parser.DefaultMaxLinks,
		},
		Graph: limits,
		Scoring: ScoringConfig{
			Scorer: "heuristic",
		},
		Alerts: AlertConfig{
			Sink:     SinkNone,
			BoltPath: "pathscout-alerts.db",
			Redis:    alert.DefaultRedisConfig(),
		},
		Batch: BatchConfig{
			Workers:   4,
			RateLimit: ratelimit.DefaultConfig(),
			Breaker:   errors.DefaultBreakerConfig(),
		},
		Output:  output.DefaultConfig(),
		Verbose: false,
		Debug:   false,
	}
}

// StrictConfig returns a configuration for fragile or rate-limited targets:
// short timeouts, small caps and a single retry.
func StrictConfig() *Config {
	c := DefaultConfig()
	c.Fetch.Timeout = 5 * time.Second
	c.Fetch.MaxBytes = 500_000
	c.Fetch.MaxRedirects = 5
	c.Fetch.Retry.MaxRetries = 1
	c.Extract.MaxLinks = 50
	c.Extract.ExcludePatterns = append([]string(nil), scope.DestructivePatterns...)
	c.Graph = graph.Limits{
		MaxNodes: 200,
		MaxEdges: 1000,
		MaxDepth: 10,
		MaxPaths: 50,
	}
	c.Batch.Workers = 1
	c.Batch.RateLimit.RequestsPerSecond = 1
	c.Batch.RateLimit.Burst = 1
	c.Batch.RateLimit.HostDelay = time.Second
	return c
}

// DeepConfig returns a configuration with raised caps for large pages.
// Path enumeration cost grows quickly with these values.
func DeepConfig() *Config {
	c := DefaultConfig()
	c.Fetch.Timeout = 30 * time.Second
	c.Fetch.MaxBytes = 10_000_000
	c.Extract.MaxLinks = 2000
	c.Graph = graph.Limits{
		MaxNodes: 10000,
		MaxEdges: 50000,
		MaxDepth: 50,
		MaxPaths: 2000,
	}
	c.Batch.Workers = 16
	c.Batch.RateLimit.RequestsPerSecond = 20
	c.Batch.RateLimit.Burst = 20
	return c
}

// LoadFromFile loads configuration from a file (JSON or YAML) over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. Paths ending in .json are
// written as JSON, everything else as YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive")
	}
	if c.Fetch.MaxRedirects < 1 {
		return fmt.Errorf("max redirects must be at least 1")
	}
	if c.Fetch.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Extract.MaxLinks < 1 {
		return fmt.Errorf("max links must be at least 1")
	}
	if _, err := scope.NewChecker("http://localhost/", scope.Rules{ExcludePatterns: c.Extract.ExcludePatterns}); err != nil {
		return fmt.Errorf("invalid exclude pattern: %w", err)
	}

	if c.Graph.MaxNodes < 1 || c.Graph.MaxEdges < 1 {
		return fmt.Errorf("graph node and edge caps must be at least 1")
	}
	if c.Graph.MaxDepth < 2 {
		return fmt.Errorf("max depth must be at least 2")
	}
	if c.Graph.MaxPaths < 1 {
		return fmt.Errorf("max paths must be at least 1")
	}

	if _, ok := score.New(c.Scoring.Scorer); !ok {
		return fmt.Errorf("unknown scorer %q", c.Scoring.Scorer)
	}

	switch c.Alerts.Sink {
	case "", SinkNone:
	case SinkBolt:
		if c.Alerts.BoltPath == "" {
			return fmt.Errorf("bolt alert sink requires a path")
		}
	case SinkRedis:
		if c.Alerts.Redis.Addr == "" {
			return fmt.Errorf("redis alert sink requires an address")
		}
	default:
		return fmt.Errorf("unknown alert sink %q", c.Alerts.Sink)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Batch.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Batch.Breaker.FailureThreshold < 0 || c.Batch.Breaker.Cooldown < 0 {
		return fmt.Errorf("breaker settings must not be negative")
	}

	return c.Output.Validate()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// fetcherConfig maps the fetch section onto the fetcher's settings.
func (c FetchConfig) fetcherConfig() fetchhttp.FetcherConfig {
	fc := fetchhttp.DefaultFetcherConfig()
	fc.Timeout = c.Timeout
	fc.MaxBytes = c.MaxBytes
	fc.MaxRedirects = c.MaxRedirects
	fc.SkipTLSVerify = c.InsecureSkipVerify
	if c.UserAgent != "" {
		fc.UserAgent = c.UserAgent
	}

	fc.Retry.MaxRetries = c.Retry.MaxRetries
	fc.Retry.InitialDelay = c.Retry.InitialDelay
	fc.Retry.MaxDelay = c.Retry.MaxDelay
	fc.Retry.Multiplier = c.Retry.Multiplier
	if c.Retry.Statuses != nil {
		fc.Retry.RetryStatuses = c.Retry.Statuses
	}
	return fc
}

// Budget returns the worst-case wall time of one crawl under this policy.
func (c FetchConfig) Budget() time.Duration {
	return c.fetcherConfig().Retry.Budget(c.Timeout)
}

// OpenSink opens the configured alert sink. The caller owns the result.
func (c AlertConfig) OpenSink(ctx context.Context) (alert.Sink, error) {
	switch c.Sink {
	case "", SinkNone:
		return alert.Nop{}, nil
	case SinkBolt:
		sink, err := alert.NewBoltSink(c.BoltPath)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case SinkRedis:
		sink, err := alert.NewRedisSink(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown alert sink %q", c.Sink)
	}
}
