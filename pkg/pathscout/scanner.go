package pathscout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/errors"
	"github.com/PentesterFlow/PathScout/internal/graph"
	fetchhttp "github.com/PentesterFlow/PathScout/internal/http"
	"github.com/PentesterFlow/PathScout/internal/logger"
	"github.com/PentesterFlow/PathScout/internal/metrics"
	"github.com/PentesterFlow/PathScout/internal/parser"
	"github.com/PentesterFlow/PathScout/internal/ratelimit"
	"github.com/PentesterFlow/PathScout/internal/scope"
	"github.com/PentesterFlow/PathScout/internal/score"
	"github.com/PentesterFlow/PathScout/internal/state"
)

// alertTimeout bounds a single alert delivery.
const alertTimeout = 5 * time.Second

// Scanner crawls targets and searches their endpoint graphs. Every call
// builds its own graph; a Scanner is safe for concurrent use.
type Scanner struct {
	config    *Config
	fetcher   *fetchhttp.Fetcher
	extractor *parser.Extractor
	builder   *graph.Builder
	searcher  *graph.Searcher
	scorer    score.Scorer
	sink      alert.Sink
	ownsSink  bool
	pacer     ratelimit.Pacer
	logger    *logger.Logger
	metrics   *metrics.Collector

	closeOnce sync.Once
	closeErr  error
}

// New creates a new scanner with the given options.
func New(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.logger == nil {
		s.logger = newLogger(s.config)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.scorer == nil {
		scorer, ok := score.New(s.config.Scoring.Scorer)
		if !ok {
			return nil, fmt.Errorf("unknown scorer %q", s.config.Scoring.Scorer)
		}
		s.scorer = scorer
	}
	if s.pacer == nil {
		s.pacer = ratelimit.New(s.config.Batch.RateLimit)
	}

	extractor, err := parser.NewExtractor(parser.ExtractorConfig{
		MaxLinks: s.config.Extract.MaxLinks,
		Rules:    scope.Rules{ExcludePatterns: s.config.Extract.ExcludePatterns},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	s.extractor = extractor

	s.fetcher = fetchhttp.NewFetcher(s.config.Fetch.fetcherConfig(), s.metrics)
	s.builder = graph.NewBuilder(s.config.Graph)
	s.searcher = graph.NewSearcher(s.config.Graph)

	if s.sink == nil {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()

		sink, err := s.config.Alerts.OpenSink(ctx)
		if err != nil {
			s.fetcher.Close()
			return nil, fmt.Errorf("failed to open alert sink: %w", err)
		}
		s.sink = sink
		s.ownsSink = true
	}

	return s, nil
}

// newLogger returns the nop logger unless verbose or debug output is
// requested.
func newLogger(config *Config) *logger.Logger {
	if !config.Verbose && !config.Debug {
		return logger.Nop()
	}

	level := logger.InfoLevel
	if config.Debug {
		level = logger.DebugLevel
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Component: "scanner",
	})
}

// Config returns a copy of the scanner configuration.
func (s *Scanner) Config() *Config {
	return s.config.Clone()
}

// Metrics returns the scanner's metrics collector.
func (s *Scanner) Metrics() *metrics.Collector {
	return s.metrics
}

// Crawl fetches one page and extracts its same-domain endpoints and forms.
// Any failure yields the empty result.
func (s *Scanner) Crawl(ctx context.Context, target string) *CrawlResult {
	result, _ := s.crawl(ctx, target)
	return result
}

// crawl is Crawl with the failure that emptied the result, if any.
func (s *Scanner) crawl(ctx context.Context, target string) (*CrawlResult, error) {
	start := time.Now()

	extracted, err := s.fetchAndExtract(ctx, target)
	if err != nil {
		s.logger.Event(logger.DebugLevel).
			Str("url", target).
			Str("error_type", errors.GetErrorType(err).String()).
			Int("attempts", errors.GetAttempts(err)).
			Err(err).
			Msg("Crawl returned no results")
		extracted = parser.Empty()
	}

	result := newCrawlResult(extracted)
	s.metrics.RecordCrawl(len(result.Endpoints), len(result.Forms))
	s.logger.CrawlEvent(target, len(result.Endpoints), len(result.Forms), time.Since(start))

	return result, err
}

func (s *Scanner) fetchAndExtract(ctx context.Context, target string) (*parser.Result, error) {
	page, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	s.logger.FetchEvent(page.URL, page.StatusCode, page.Attempts, len(page.Body), page.Duration)
	if page.Truncated {
		s.logger.Event(logger.DebugLevel).
			Str("url", target).
			Int("bytes", len(page.Body)).
			Msg("Response body truncated")
	}

	return s.extractor.Extract(page.Body, page.ContentType, target)
}

// Graph builds the capped graph described by req and searches it for paths
// between the requested endpoints. It never fails; unusable input yields
// an empty network and no paths.
func (s *Scanner) Graph(req *GraphRequest) *GraphResult {
	if req == nil {
		req = &GraphRequest{}
	}

	g, stats := s.builder.Build(req.Endpoints, req.Connections)
	if stats != (graph.BuildStats{}) {
		s.logger.Event(logger.DebugLevel).
			Int("empty_endpoints", stats.EmptyEndpoints).
			Int("dropped_nodes", stats.DroppedNodes).
			Int("malformed_pairs", stats.MalformedPairs).
			Int("unknown_edges", stats.UnknownEdges).
			Int("dropped_edges", stats.DroppedEdges).
			Msg("Graph input skipped")
	}

	found := s.searcher.Search(g, req.Start, req.End)
	if found.Truncated {
		s.logger.Event(logger.DebugLevel).
			Int("paths", len(found.Paths)).
			Msg("Path search stopped at the path cap")
	}

	s.metrics.RecordGraph(g.NodeCount(), g.EdgeCount())
	s.metrics.RecordPaths(len(found.Paths))
	s.logger.GraphEvent(g.NodeCount(), g.EdgeCount(), len(found.Paths), found.Start, found.End)

	return &GraphResult{
		Network: newNetworkView(g.View()),
		Paths:   newPaths(found.Paths),
		Start:   found.Start,
		End:     found.End,
	}
}

// Scan crawls target, scores its endpoints, searches the chained endpoint
// graph from the first to the last endpoint and raises an alert for the
// resulting threat level. Alert delivery failures are logged, not returned.
func (s *Scanner) Scan(ctx context.Context, target string) *ScanReport {
	crawl, _ := s.crawl(ctx, target)
	report, a := s.report(target, crawl)
	s.deliver(ctx, a)
	return report
}

// report assembles the scan report for a crawl result.
func (s *Scanner) report(target string, crawl *CrawlResult) (*ScanReport, alert.Alert) {
	endpoints := crawl.Endpoints
	scores := score.All(s.scorer, endpoints, parserForms(crawl.Forms))

	req := &GraphRequest{
		Endpoints:   endpoints,
		Connections: graph.Sequential(endpoints),
	}
	if len(endpoints) > 0 {
		req.Start = endpoints[0]
		req.End = endpoints[len(endpoints)-1]
	}
	g := s.Graph(req)

	threat := ThreatLevel(scores)
	a := alert.ForThreat(target, threat)

	return &ScanReport{
		URL:             target,
		ThreatLevel:     threat,
		Endpoints:       endpoints,
		Forms:           crawl.Forms,
		Scores:          scores,
		Vulnerabilities: Vulnerabilities(endpoints, scores),
		Network:         g.Network,
		AttackPaths:     g.Paths,
		Alert:           newAlert(a),
	}, a
}

// deliver pushes a to the sink. The push survives cancellation of ctx but
// not the alert timeout.
func (s *Scanner) deliver(ctx context.Context, a alert.Alert) {
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	err := s.sink.Push(pushCtx, a)
	s.metrics.RecordAlert(string(a.Level), err)
	if err != nil {
		s.logger.WithError(err).WithURL(a.Target).Warn("Failed to push alert")
	}
}

// ScanBatch scans targets concurrently and returns one report per unique
// target in input order.
func (s *Scanner) ScanBatch(ctx context.Context, targets []string) []*ScanReport {
	return s.ScanBatchFunc(ctx, targets, nil)
}

// ScanBatchFunc is ScanBatch with a callback invoked as each report
// completes, with the report's index in the returned slice. Callback calls
// are serialized. Targets still queued when ctx is cancelled get an empty
// report and raise no alert.
func (s *Scanner) ScanBatchFunc(ctx context.Context, targets []string, fn func(i int, r *ScanReport)) []*ScanReport {
	unique := dedupTargets(targets)
	reports := make([]*ScanReport, len(unique))

	var mu sync.Mutex
	done := func(i int, r *ScanReport) {
		reports[i] = r
		if fn != nil {
			mu.Lock()
			fn(i, r)
			mu.Unlock()
		}
	}

	breakers := errors.NewHostBreakers(s.config.Batch.Breaker)

	var g errgroup.Group
	g.SetLimit(s.config.Batch.Workers)

	start := time.Now()
	for i, target := range unique {
		if ctx.Err() != nil {
			done(i, s.skipped(target))
			continue
		}

		i, target := i, target
		g.Go(func() error {
			if err := s.pacer.WaitURL(ctx, target); err != nil {
				done(i, s.skipped(target))
				return nil
			}

			if !breakers.AllowURL(target) {
				s.logger.WithURL(target).Debug("Host breaker open, skipping target")
				done(i, s.skipped(target))
				return nil
			}

			crawl, err := s.crawl(ctx, target)
			s.pacer.Observe(!errors.IsTransient(err))
			breakers.RecordURL(target, err)

			report, a := s.report(target, crawl)
			if ctx.Err() == nil {
				s.deliver(ctx, a)
			}
			done(i, report)
			return nil
		})
	}
	_ = g.Wait()

	stats := s.metrics.Snapshot().Summary()
	stats["targets"] = len(unique)
	stats["elapsed"] = time.Since(start).String()
	s.logger.StatsEvent(stats)

	return reports
}

// skipped is the report of a target that was never crawled.
func (s *Scanner) skipped(target string) *ScanReport {
	report, _ := s.report(target, newCrawlResult(parser.Empty()))
	return report
}

// UniqueTargets returns the targets a batch scan would crawl, in order.
func UniqueTargets(targets []string) []string {
	return dedupTargets(targets)
}

// dedupTargets trims targets and drops blanks and repeats, keeping the
// first occurrence of each normalized target.
func dedupTargets(targets []string) []string {
	seen := state.NewDeduplicator(len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if seen.Add(scope.Normalize(t)) {
			out = append(out, t)
		}
	}
	return out
}

// Close releases pooled connections and closes the alert sink when the
// scanner opened it. It is safe to call more than once.
func (s *Scanner) Close() error {
	s.closeOnce.Do(func() {
		s.fetcher.Close()
		if s.ownsSink {
			s.closeErr = s.sink.Close()
		}
	})
	return s.closeErr
}

// ThreatLevel converts endpoint scores into a 0-100 threat level: ten times
// the mean score, truncated.
func ThreatLevel(scores []float64) int {
	threat := int(10 * score.Mean(scores))
	return max(0, min(100, threat))
}

// Vulnerabilities derives one finding per endpoint from its score.
func Vulnerabilities(endpoints []string, scores []float64) []Vulnerability {
	out := make([]Vulnerability, 0, len(endpoints))
	for i, ep := range endpoints {
		var sc float64
		if i < len(scores) {
			sc = scores[i]
		}
		formatted := formatScore(sc)
		out = append(out, Vulnerability{
			ID:               "vuln-" + strconv.Itoa(i+1),
			Name:             "Vulnerability " + formatted,
			Severity:         SeverityFor(sc),
			Description:      fmt.Sprintf("Auto-generated vulnerability for endpoint %s with score %s.", ep, formatted),
			AffectedEndpoint: ep,
			FixAvailable:     false,
			Score:            sc,
		})
	}
	return out
}

// formatScore prints a score with at least one decimal place.
func formatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
