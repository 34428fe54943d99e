// Package pathscout crawls a single page for same-domain endpoints and form
// surfaces, then enumerates bounded attack paths through the endpoint graph.
package pathscout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/graph"
	"github.com/PentesterFlow/PathScout/internal/parser"
	"github.com/PentesterFlow/PathScout/internal/scope"
	"gopkg.in/yaml.v3"
)

// CrawlResult is the outcome of crawling one page. Both sequences are
// always present, empty when the crawl failed.
type CrawlResult struct {
	Endpoints []string `json:"endpoints"`
	Forms     []Form   `json:"forms"`
}

// Empty reports whether nothing was discovered.
func (r *CrawlResult) Empty() bool {
	return len(r.Endpoints) == 0 && len(r.Forms) == 0
}

// Form represents an HTML form discovered on the page.
type Form struct {
	Action *string `json:"action"`
	Method string  `json:"method"`
	Inputs []Input `json:"inputs"`
}

// Input represents an input field in a form.
type Input struct {
	Name *string `json:"name"`
	Type string  `json:"type"`
}

// GraphRequest is the input of a graph and path search.
type GraphRequest struct {
	Endpoints   []string   `json:"endpoints" yaml:"endpoints"`
	Connections [][]string `json:"connections" yaml:"connections"`
	Start       string     `json:"start" yaml:"start"`
	End         string     `json:"end" yaml:"end"`
}

// GraphInput is a loosely typed GraphRequest as decoded from a file.
// Scalar values of any type are accepted.
type GraphInput struct {
	Endpoints   []any `json:"endpoints" yaml:"endpoints"`
	Connections []any `json:"connections" yaml:"connections"`
	Start       any   `json:"start" yaml:"start"`
	End         any   `json:"end" yaml:"end"`
}

// Request coerces the input into a GraphRequest. Connections that are not
// lists come through empty so that graph building skips them.
func (in GraphInput) Request() *GraphRequest {
	req := &GraphRequest{
		Endpoints:   make([]string, len(in.Endpoints)),
		Connections: make([][]string, len(in.Connections)),
		Start:       scope.Stringify(in.Start),
		End:         scope.Stringify(in.End),
	}
	for i, v := range in.Endpoints {
		req.Endpoints[i] = scope.Stringify(v)
	}
	for i, c := range in.Connections {
		items, ok := c.([]any)
		if !ok {
			req.Connections[i] = []string{}
			continue
		}
		pair := make([]string, len(items))
		for j, v := range items {
			pair[j] = scope.Stringify(v)
		}
		req.Connections[i] = pair
	}
	return req
}

// ParseGraphInput decodes a YAML or JSON graph request.
func ParseGraphInput(data []byte) (*GraphRequest, error) {
	var in GraphInput

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, &in); err != nil {
		in = GraphInput{}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("failed to parse graph input: %w", err)
		}
	}

	return in.Request(), nil
}

// NetworkView is the built graph in visualization form.
type NetworkView struct {
	Nodes []string    `json:"nodes"`
	Edges [][2]string `json:"edges"`
}

// GraphResult is the outcome of a graph and path search. Start and End are
// the resolved nodes, empty when none could be resolved.
type GraphResult struct {
	Network NetworkView `json:"network"`
	Paths   [][]string  `json:"paths"`
	Start   string      `json:"start"`
	End     string      `json:"end"`
}

// Vulnerability is a per-endpoint finding derived from its score.
type Vulnerability struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Severity         string  `json:"severity"`
	Description      string  `json:"description"`
	AffectedEndpoint string  `json:"affected_endpoint"`
	CVE              *string `json:"cve"`
	FixAvailable     bool    `json:"fix_available"`
	Score            float64 `json:"score"`
}

// Severity names.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityFor maps an endpoint score to a severity.
func SeverityFor(score float64) string {
	switch {
	case score >= 8:
		return SeverityCritical
	case score >= 6:
		return SeverityHigh
	case score >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert is the alert raised for a scan.
type Alert struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	Level       string    `json:"level"`
	Target      string    `json:"target"`
	ThreatLevel int       `json:"threat_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScanReport is the full result of scanning one target.
type ScanReport struct {
	URL             string          `json:"url"`
	ThreatLevel     int             `json:"threat_level"`
	Endpoints       []string        `json:"endpoints"`
	Forms           []Form          `json:"forms"`
	Scores          []float64       `json:"scores"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Network         NetworkView     `json:"network"`
	AttackPaths     [][]string      `json:"attack_paths"`
	Alert           Alert           `json:"alert"`
}

func newCrawlResult(r *parser.Result) *CrawlResult {
	out := &CrawlResult{
		Endpoints: make([]string, len(r.Endpoints)),
		Forms:     make([]Form, len(r.Forms)),
	}
	copy(out.Endpoints, r.Endpoints)
	for i, f := range r.Forms {
		out.Forms[i] = newForm(f)
	}
	return out
}

func newForm(f parser.Form) Form {
	form := Form{
		Action: f.Action,
		Method: f.Method,
		Inputs: make([]Input, len(f.Inputs)),
	}
	for i, in := range f.Inputs {
		form.Inputs[i] = Input{Name: in.Name, Type: in.Type}
	}
	return form
}

func (f Form) parserForm() parser.Form {
	form := parser.Form{
		Action: f.Action,
		Method: f.Method,
		Inputs: make([]parser.Input, len(f.Inputs)),
	}
	for i, in := range f.Inputs {
		form.Inputs[i] = parser.Input{Name: in.Name, Type: in.Type}
	}
	return form
}

func parserForms(forms []Form) []parser.Form {
	out := make([]parser.Form, len(forms))
	for i, f := range forms {
		out[i] = f.parserForm()
	}
	return out
}

func newNetworkView(v graph.View) NetworkView {
	out := NetworkView{
		Nodes: v.Nodes,
		Edges: make([][2]string, len(v.Edges)),
	}
	for i, e := range v.Edges {
		out.Edges[i] = e
	}
	return out
}

func newPaths(paths []graph.Path) [][]string {
	out := make([][]string, len(paths))
	for i, p := range paths {
		out[i] = p
	}
	return out
}

func newAlert(a alert.Alert) Alert {
	return Alert{
		ID:          a.ID,
		Message:     a.Message,
		Level:       string(a.Level),
		Target:      a.Target,
		ThreatLevel: a.ThreatLevel,
		CreatedAt:   a.CreatedAt,
	}
}
