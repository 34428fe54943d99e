package pathscout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/graph"
	"github.com/PentesterFlow/PathScout/internal/score"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
	closed int
}

func (s *recordingSink) Push(ctx context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) pushed() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.alerts...)
}

type fixedScorer float64

func (f fixedScorer) Score(score.Features) float64 { return float64(f) }

func newTestScanner(t *testing.T, opts ...Option) (*Scanner, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	base := []Option{
		WithAlertSink(sink),
		WithRetry(2, time.Millisecond),
		WithRateLimit(0, 0),
	}
	s, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, sink
}

const testPage = `<html><body>
<a href="/a">A</a>
<a href="/b#section">B</a>
<a href="/a/">A again</a>
<a href="https://notexample.com/x">external</a>
<a href="mailto:someone@example.com">mail</a>
<a href="">empty</a>
<form action="/login" method="post">
  <input name="user">
  <input name="pass" type="PASSWORD">
  <input type="submit">
</form>
<form><input name="q"></form>
</body></html>`

func htmlServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

// =============================================================================
// New() Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &score.Heuristic{}, s.scorer)
	assert.IsType(t, alert.Nop{}, s.sink)
	assert.True(t, s.ownsSink)
	assert.NotNil(t, s.metrics)
	assert.NotNil(t, s.logger)
	assert.Equal(t, DefaultConfig(), s.Config())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.MaxPaths = 0

	_, err := New(WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_OptionError(t *testing.T) {
	_, err := New(WithScorer(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply option")

	_, err = New(WithConfig(nil))
	require.Error(t, err)
}

func TestNew_BadExcludePattern(t *testing.T) {
	_, err := New(WithExcludePatterns("(["))
	require.Error(t, err)
}

func TestNew_UnreachableRedisSink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts.Sink = SinkRedis
	cfg.Alerts.Redis.Addr = "127.0.0.1:1"

	_, err := New(WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert sink")
}

func TestScanner_Close(t *testing.T) {
	sink := &recordingSink{}
	s, err := New(WithAlertSink(sink))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, sink.closed, "caller-owned sink must stay open")
}

// =============================================================================
// Crawl Tests
// =============================================================================

func TestScanner_Crawl_ExtractsPage(t *testing.T) {
	server := htmlServer(t, testPage)
	s, _ := newTestScanner(t)

	result := s.Crawl(context.Background(), server.URL)

	assert.Equal(t, []string{server.URL + "/a", server.URL + "/b"}, result.Endpoints)
	require.Len(t, result.Forms, 2)

	login := result.Forms[0]
	require.NotNil(t, login.Action)
	assert.Equal(t, server.URL+"/login", *login.Action)
	assert.Equal(t, "POST", login.Method)
	require.Len(t, login.Inputs, 3)
	assert.Equal(t, "user", *login.Inputs[0].Name)
	assert.Equal(t, "text", login.Inputs[0].Type)
	assert.Equal(t, "password", login.Inputs[1].Type)
	assert.Nil(t, login.Inputs[2].Name)
	assert.Equal(t, "submit", login.Inputs[2].Type)

	search := result.Forms[1]
	assert.Nil(t, search.Action)
	assert.Equal(t, "GET", search.Method)

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.CrawlsTotal)
	assert.Equal(t, int64(2), snap.Endpoints)
}

func TestScanner_Crawl_StrictSkipsDestructiveLinks(t *testing.T) {
	server := htmlServer(t, `<a href="/account">account</a>
<a href="/logout">logout</a>
<a href="/settings?signout=1">sign out</a>
<a href="/user/delete-account">delete</a>`)

	cfg := StrictConfig()
	cfg.Batch.RateLimit.RequestsPerSecond = 0
	cfg.Batch.RateLimit.HostDelay = 0
	s, _ := newTestScanner(t, WithConfig(cfg))

	result := s.Crawl(context.Background(), server.URL)
	assert.Equal(t, []string{server.URL + "/account"}, result.Endpoints)
}

func TestNew_ScorerAlwaysSet(t *testing.T) {
	s, _ := newTestScanner(t)
	require.NotNil(t, s.scorer)

	_, err := New(func(s *Scanner) error {
		s.config.Scoring.Scorer = "neural"
		return nil
	})
	assert.Error(t, err)
}

func TestScanner_Crawl_LinkCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, `<a href="/p%d">%d</a>`, i, i)
	}
	server := htmlServer(t, b.String())
	s, _ := newTestScanner(t)

	result := s.Crawl(context.Background(), server.URL)

	require.Len(t, result.Endpoints, 200)
	assert.Equal(t, server.URL+"/p0", result.Endpoints[0])
	assert.Equal(t, server.URL+"/p199", result.Endpoints[199])
}

func TestScanner_Crawl_EmptyResults(t *testing.T) {
	jsonServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a": "<a href='/x'>x</a>"}`)
	}))
	defer jsonServer.Close()

	var calls atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	tests := []struct {
		name   string
		target string
	}{
		{"ftp scheme", "ftp://example.com/file"},
		{"no scheme", "example.com"},
		{"javascript", "javascript:alert(1)"},
		{"empty", ""},
		{"non-html", jsonServer.URL},
		{"server error", failing.URL},
	}

	s, _ := newTestScanner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Crawl(context.Background(), tt.target)

			data, err := json.Marshal(result)
			require.NoError(t, err)
			assert.JSONEq(t, `{"endpoints": [], "forms": []}`, string(data))
		})
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestScanner_Crawl_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	s, _ := newTestScanner(t, WithTimeout(50*time.Millisecond))

	start := time.Now()
	result := s.Crawl(context.Background(), server.URL)
	elapsed := time.Since(start)

	assert.True(t, result.Empty())
	assert.Less(t, elapsed, s.config.Fetch.Budget()+time.Second)
}

func TestScanner_Crawl_Cancelled(t *testing.T) {
	server := htmlServer(t, testPage)
	s, _ := newTestScanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := s.Crawl(ctx, server.URL)
	assert.True(t, result.Empty())
}

// =============================================================================
// Graph Tests
// =============================================================================

func TestScanner_Graph(t *testing.T) {
	s, _ := newTestScanner(t)

	result := s.Graph(&GraphRequest{
		Endpoints:   []string{"a", "b", "c"},
		Connections: [][]string{{"a", "b"}, {"b", "c"}, {"a", "c"}},
		Start:       "a",
		End:         "c",
	})

	assert.Equal(t, []string{"a", "b", "c"}, result.Network.Nodes)
	assert.Equal(t, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}}, result.Network.Edges)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"a", "c"}}, result.Paths)
	assert.Equal(t, "a", result.Start)
	assert.Equal(t, "c", result.End)
}

func TestScanner_Graph_Fallback(t *testing.T) {
	s, _ := newTestScanner(t)

	result := s.Graph(&GraphRequest{
		Endpoints:   []string{"x", "a", "b", "c"},
		Connections: [][]string{{"a", "b"}, {"b", "c"}, {"a", "missing"}, {"a"}},
		Start:       "missing",
		End:         "also-missing",
	})

	assert.Equal(t, "a", result.Start)
	assert.Equal(t, "c", result.End)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, result.Paths)
}

func TestScanner_Graph_Normalizes(t *testing.T) {
	s, _ := newTestScanner(t)

	result := s.Graph(&GraphRequest{
		Endpoints:   []string{"http://h.com/x/#top", "http://h.com//y/", " http://h.com/x "},
		Connections: [][]string{{"http://h.com/x", "http://h.com/y#frag"}},
		Start:       "http://h.com/x/",
		End:         "http://h.com/y",
	})

	assert.Equal(t, []string{"http://h.com/x", "http://h.com/y"}, result.Network.Nodes)
	assert.Equal(t, [][]string{{"http://h.com/x", "http://h.com/y"}}, result.Paths)
}

func TestScanner_Graph_LimitsFromConfig(t *testing.T) {
	s, _ := newTestScanner(t, WithGraphLimits(graph.Limits{
		MaxNodes: 2,
		MaxEdges: 1,
		MaxDepth: 25,
		MaxPaths: 200,
	}))

	result := s.Graph(&GraphRequest{
		Endpoints:   []string{"a", "b", "c"},
		Connections: [][]string{{"a", "b"}, {"b", "a"}},
	})

	assert.Equal(t, []string{"a", "b"}, result.Network.Nodes)
	assert.Equal(t, [][2]string{{"a", "b"}}, result.Network.Edges)
}

func TestScanner_Graph_Empty(t *testing.T) {
	s, _ := newTestScanner(t)

	for _, req := range []*GraphRequest{nil, {}, {Endpoints: []string{"a"}, Start: "a", End: "a"}} {
		result := s.Graph(req)
		assert.Empty(t, result.Paths)
		assert.NotNil(t, result.Paths)
	}

	data, err := json.Marshal(s.Graph(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"network": {"nodes": [], "edges": []}, "paths": [], "start": "", "end": ""}`, string(data))
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestScanner_Scan(t *testing.T) {
	server := htmlServer(t, testPage)
	s, sink := newTestScanner(t, WithScorer(fixedScorer(9)))

	report := s.Scan(context.Background(), server.URL)

	a, b := server.URL+"/a", server.URL+"/b"
	assert.Equal(t, server.URL, report.URL)
	assert.Equal(t, []string{a, b}, report.Endpoints)
	assert.Equal(t, []float64{9, 9}, report.Scores)
	assert.Equal(t, 90, report.ThreatLevel)
	assert.Equal(t, [][2]string{{a, b}}, report.Network.Edges)
	assert.Equal(t, [][]string{{a, b}}, report.AttackPaths)

	require.Len(t, report.Vulnerabilities, 2)
	v := report.Vulnerabilities[0]
	assert.Equal(t, "vuln-1", v.ID)
	assert.Equal(t, "Vulnerability 9.0", v.Name)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, "Auto-generated vulnerability for endpoint "+a+" with score 9.0.", v.Description)
	assert.Equal(t, a, v.AffectedEndpoint)
	assert.Nil(t, v.CVE)
	assert.False(t, v.FixAvailable)
	assert.Equal(t, "vuln-2", report.Vulnerabilities[1].ID)

	assert.Equal(t, "critical", report.Alert.Level)
	assert.Equal(t, "High threat detected!", report.Alert.Message)

	pushed := sink.pushed()
	require.Len(t, pushed, 1)
	assert.Equal(t, report.Alert.ID, pushed[0].ID)
	assert.Equal(t, 90, pushed[0].ThreatLevel)
}

func TestScanner_Scan_EmptyTarget(t *testing.T) {
	s, sink := newTestScanner(t)

	report := s.Scan(context.Background(), "ftp://example.com")

	assert.Equal(t, 0, report.ThreatLevel)
	assert.Equal(t, "info", report.Alert.Level)
	assert.Equal(t, "System appears safe.", report.Alert.Message)
	assert.Len(t, sink.pushed(), 1)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"url", "threat_level", "endpoints", "forms", "scores", "vulnerabilities", "network", "attack_paths", "alert"} {
		assert.Contains(t, raw, key)
	}
	assert.JSONEq(t, `[]`, string(raw["endpoints"]))
	assert.JSONEq(t, `[]`, string(raw["vulnerabilities"]))
	assert.JSONEq(t, `{"nodes": [], "edges": []}`, string(raw["network"]))
}

func TestScanner_Scan_SinkFailureIgnored(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("store down")}
	s, err := New(WithAlertSink(sink), WithScorer(fixedScorer(5)))
	require.NoError(t, err)
	defer s.Close()

	server := htmlServer(t, testPage)
	report := s.Scan(context.Background(), server.URL)

	assert.Equal(t, 50, report.ThreatLevel)
	assert.Equal(t, "warning", report.Alert.Level)
	assert.Len(t, sink.pushed(), 1)
}

func TestScanner_Scan_CancelledStillAlerts(t *testing.T) {
	s, sink := newTestScanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := s.Scan(ctx, "https://example.invalid")
	assert.Equal(t, 0, report.ThreatLevel)
	assert.Len(t, sink.pushed(), 1)
}

// =============================================================================
// Batch Tests
// =============================================================================

func TestScanner_ScanBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<a href="%s/next">next</a>`, r.URL.Path)
	}))
	defer server.Close()

	s, sink := newTestScanner(t, WithWorkers(2))

	targets := []string{
		server.URL + "/one",
		server.URL + "/two",
		" " + server.URL + "/one ",
		server.URL + "/one#frag",
		"",
		server.URL + "/three",
	}
	reports := s.ScanBatch(context.Background(), targets)

	require.Len(t, reports, 3)
	for i, name := range []string{"one", "two", "three"} {
		assert.Equal(t, server.URL+"/"+name, reports[i].URL)
		assert.Equal(t, []string{server.URL + "/" + name + "/next"}, reports[i].Endpoints)
	}
	assert.Len(t, sink.pushed(), 3)
}

func TestScanner_ScanBatchFunc(t *testing.T) {
	server := htmlServer(t, testPage)
	s, _ := newTestScanner(t, WithWorkers(3))

	targets := make([]string, 6)
	for i := range targets {
		targets[i] = fmt.Sprintf("%s/page%d", server.URL, i)
	}

	seen := make(map[int]string)
	reports := s.ScanBatchFunc(context.Background(), targets, func(i int, r *ScanReport) {
		seen[i] = r.URL
	})

	require.Len(t, reports, 6)
	require.Len(t, seen, 6)
	for i, target := range targets {
		assert.Equal(t, target, seen[i])
		assert.Equal(t, target, reports[i].URL)
	}
}

func TestScanner_ScanBatch_Cancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, testPage)
	}))
	defer server.Close()

	s, sink := newTestScanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := s.ScanBatch(ctx, []string{server.URL + "/a", server.URL + "/b"})

	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Empty(t, r.Endpoints)
		assert.Equal(t, 0, r.ThreatLevel)
	}
	assert.Empty(t, sink.pushed())
	assert.Equal(t, int32(0), calls.Load())
}

func TestScanner_ScanBatch_BreakerSkipsFailingHost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, sink := newTestScanner(t, WithWorkers(1), WithBreaker(1, time.Hour))

	reports := s.ScanBatch(context.Background(), []string{server.URL + "/a", server.URL + "/b"})

	require.Len(t, reports, 2)
	assert.Equal(t, server.URL+"/b", reports[1].URL)
	assert.Empty(t, reports[1].Endpoints)
	// only the first target is fetched, once plus two retries
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, sink.pushed(), 1)
}

func TestDedupTargets(t *testing.T) {
	got := dedupTargets([]string{"http://a.com/", "http://a.com", " ", "http://b.com/x#y", "http://b.com/x"})
	assert.Equal(t, []string{"http://a.com/", "http://b.com/x#y"}, got)
	assert.Empty(t, dedupTargets(nil))
	assert.Equal(t, got, UniqueTargets([]string{"http://a.com/", " http://b.com/x#y", "http://a.com"}))
}

// =============================================================================
// Report Helper Tests
// =============================================================================

func TestThreatLevel(t *testing.T) {
	tests := []struct {
		scores []float64
		want   int
	}{
		{nil, 0},
		{[]float64{0, 0}, 0},
		{[]float64{4.4, 6.3}, 53},
		{[]float64{10, 10}, 100},
		{[]float64{7.99}, 79},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ThreatLevel(tt.scores), "scores %v", tt.scores)
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{10, SeverityCritical},
		{8, SeverityCritical},
		{7.99, SeverityHigh},
		{6, SeverityHigh},
		{3, SeverityMedium},
		{2.99, SeverityLow},
		{0, SeverityLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.score), "score %v", tt.score)
	}
}

func TestVulnerabilities(t *testing.T) {
	vulns := Vulnerabilities([]string{"http://a.com/x", "http://a.com/y"}, []float64{0, 4.35})

	require.Len(t, vulns, 2)
	assert.Equal(t, "Vulnerability 0.0", vulns[0].Name)
	assert.Equal(t, SeverityLow, vulns[0].Severity)
	assert.Equal(t, "Vulnerability 4.35", vulns[1].Name)
	assert.Equal(t, "Auto-generated vulnerability for endpoint http://a.com/y with score 4.35.", vulns[1].Description)
	assert.Equal(t, SeverityMedium, vulns[1].Severity)

	data, err := json.Marshal(vulns[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cve":null`)
	assert.Contains(t, string(data), `"fix_available":false`)

	assert.NotNil(t, Vulnerabilities(nil, nil))
}
