// Package score assigns risk scores in [0,10] to crawled endpoints.
package score

import (
	"math"
	"net/url"
	"path"
	"strings"

	"github.com/PentesterFlow/PathScout/internal/parser"
	"github.com/PentesterFlow/PathScout/internal/scope"
)

const (
	// MinScore is the lowest score a Scorer returns.
	MinScore = 0.0
	// MaxScore is the highest score a Scorer returns.
	MaxScore = 10.0
)

// Scorer maps a feature row to a score in [MinScore, MaxScore].
type Scorer interface {
	Score(f Features) float64
}

// Features is the feature row for one endpoint.
type Features struct {
	Endpoint      string
	PathDepth     int
	QueryParams   int
	Extension     string
	SensitiveHits int
	FormCount     int
	InputCount    int
	HasPassword   bool
	HasFile       bool
	MissingCSRF   bool
	FormTypes     []parser.FormType
	MaxComplexity int
}

// sensitiveKeywords are path fragments that commonly guard privileged or
// data-bearing functionality.
var sensitiveKeywords = []string{
	"admin", "login", "signin", "auth", "token", "oauth",
	"account", "user", "profile", "settings", "config",
	"debug", "trace", "actuator", "env", "console",
	"upload", "api", "graphql", "internal", "backup", "password",
}

// Extract builds the feature row for endpoint. Forms whose normalized
// action equals the endpoint contribute their facts.
func Extract(endpoint string, forms []parser.Form) Features {
	f := Features{Endpoint: endpoint}

	u, err := url.Parse(endpoint)
	if err == nil {
		p := strings.Trim(u.Path, "/")
		if p != "" {
			f.PathDepth = strings.Count(p, "/") + 1
		}
		f.QueryParams = len(u.Query())
		f.Extension = strings.ToLower(path.Ext(u.Path))

		lower := strings.ToLower(u.Path)
		for _, kw := range sensitiveKeywords {
			if strings.Contains(lower, kw) {
				f.SensitiveHits++
			}
		}
	}

	analyzer := parser.NewFormAnalyzer()
	target := scope.Normalize(endpoint)
	for _, form := range forms {
		if form.Action == nil || scope.Normalize(*form.Action) != target {
			continue
		}
		a := analyzer.Analyze(form)
		f.FormCount++
		f.InputCount += a.InputCount
		f.HasPassword = f.HasPassword || a.HasPassword
		f.HasFile = f.HasFile || a.HasFile
		if form.Method != "GET" && !a.HasCSRF {
			f.MissingCSRF = true
		}
		f.FormTypes = append(f.FormTypes, a.FormType)
		if a.Complexity > f.MaxComplexity {
			f.MaxComplexity = a.Complexity
		}
	}

	return f
}

// Clamp limits v to [MinScore, MaxScore]. NaN becomes MinScore.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// Zero scores every endpoint 0.
type Zero struct{}

// Score implements Scorer.
func (Zero) Score(Features) float64 { return 0 }

// Weights are the per-feature contributions of a Heuristic scorer.
type Weights struct {
	Sensitive   float64 `json:"sensitive" yaml:"sensitive"`
	Query       float64 `json:"query" yaml:"query"`
	Depth       float64 `json:"depth" yaml:"depth"`
	Form        float64 `json:"form" yaml:"form"`
	Password    float64 `json:"password" yaml:"password"`
	File        float64 `json:"file" yaml:"file"`
	MissingCSRF float64 `json:"missing_csrf" yaml:"missing_csrf"`
	Complexity  float64 `json:"complexity" yaml:"complexity"`
}

// DefaultWeights returns the stock heuristic weights.
func DefaultWeights() Weights {
	return Weights{
		Sensitive:   1.5,
		Query:       0.5,
		Depth:       0.2,
		Form:        0.5,
		Password:    2.0,
		File:        2.0,
		MissingCSRF: 1.5,
		Complexity:  0.2,
	}
}

// staticExtensions never carry behaviour worth scoring.
var staticExtensions = map[string]bool{
	".css": true, ".js": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true,
	".ttf": true, ".pdf": true, ".map": true,
}

// Heuristic is a weighted linear scorer.
type Heuristic struct {
	weights Weights
}

// NewHeuristic creates a heuristic scorer.
func NewHeuristic(w Weights) *Heuristic {
	return &Heuristic{weights: w}
}

// Score implements Scorer.
func (h *Heuristic) Score(f Features) float64 {
	if staticExtensions[f.Extension] {
		return MinScore
	}

	w := h.weights
	s := w.Sensitive*float64(f.SensitiveHits) +
		w.Query*float64(f.QueryParams) +
		w.Depth*float64(f.PathDepth) +
		w.Form*float64(f.FormCount) +
		w.Complexity*float64(f.MaxComplexity)
	if f.HasPassword {
		s += w.Password
	}
	if f.HasFile {
		s += w.File
	}
	if f.MissingCSRF {
		s += w.MissingCSRF
	}

	return Clamp(s)
}

// New returns the scorer registered under name: "zero" or "heuristic".
// Unknown names return false.
func New(name string) (Scorer, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zero":
		return Zero{}, true
	case "heuristic":
		return NewHeuristic(DefaultWeights()), true
	default:
		return nil, false
	}
}

// All scores every endpoint in order, rounded to two decimals.
func All(s Scorer, endpoints []string, forms []parser.Form) []float64 {
	out := make([]float64, len(endpoints))
	for i, ep := range endpoints {
		out[i] = math.Round(Clamp(s.Score(Extract(ep, forms)))*100) / 100
	}
	return out
}

// Mean returns the arithmetic mean of scores, 0 for none.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
