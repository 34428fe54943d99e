// Package parser extracts same-domain links and form structure from HTML.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/PentesterFlow/PathScout/internal/errors"
	"github.com/PentesterFlow/PathScout/internal/scope"
	"github.com/PentesterFlow/PathScout/internal/state"
)

// DefaultMaxLinks is the number of unique endpoints kept per page.
const DefaultMaxLinks = 200

// Methods lists the form methods kept as declared; anything else is GET.
var Methods = map[string]struct{}{
	"GET":     {},
	"POST":    {},
	"PUT":     {},
	"PATCH":   {},
	"DELETE":  {},
	"HEAD":    {},
	"OPTIONS": {},
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	MaxLinks int
	Rules    scope.Rules
}

// Extractor parses fetched pages. It keeps no per-page state and is safe
// for concurrent use.
type Extractor struct {
	maxLinks int
	rules    scope.Rules
}

// NewExtractor creates a new extractor. Exclude patterns are validated here.
func NewExtractor(config ExtractorConfig) (*Extractor, error) {
	if config.MaxLinks <= 0 {
		config.MaxLinks = DefaultMaxLinks
	}
	if _, err := scope.NewChecker("http://localhost/", config.Rules); err != nil {
		return nil, err
	}
	return &Extractor{maxLinks: config.MaxLinks, rules: config.Rules}, nil
}

// Extract parses body, fetched from requestURL with the given content-type.
// Links resolve against requestURL, form actions against its origin.
// Missing or malformed attributes fall back to defaults.
func (e *Extractor) Extract(body []byte, contentType, requestURL string) (*Result, error) {
	base, err := url.Parse(requestURL)
	if err != nil {
		return nil, errors.NewInvalidInputError(requestURL, "extract", err.Error())
	}

	checker, err := scope.NewChecker(requestURL, e.rules)
	if err != nil {
		return nil, errors.NewInvalidInputError(requestURL, "extract", err.Error())
	}

	doc, err := goquery.NewDocumentFromReader(decode(body, contentType))
	if err != nil {
		return nil, errors.NewParseError(requestURL, "extract", err)
	}

	result := Empty()
	result.Endpoints = e.extractLinks(doc, base, checker)

	origin := scope.Origin(base)
	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		result.Forms = append(result.Forms, parseForm(s, origin))
	})

	return result, nil
}

// decode converts body to UTF-8 using the declared or sniffed charset.
func decode(body []byte, contentType string) io.Reader {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return bytes.NewReader(body)
	}
	return r
}

func (e *Extractor) extractLinks(doc *goquery.Document, base *url.URL, checker *scope.Checker) []string {
	seen := state.NewDeduplicator(e.maxLinks)

	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return true
		}

		resolved, err := scope.ResolveURL(base, href)
		if err != nil || !checker.Allows(resolved) {
			return true
		}

		if endpoint := scope.Normalize(resolved.String()); endpoint != "" {
			seen.Add(endpoint)
		}
		return seen.Count() < e.maxLinks
	})

	return seen.Values()
}

// parseForm parses a form element.
func parseForm(s *goquery.Selection, origin *url.URL) Form {
	form := Form{
		Method: parseMethod(s.AttrOr("method", "")),
		Inputs: make([]Input, 0),
	}

	if action := strings.TrimSpace(s.AttrOr("action", "")); action != "" {
		if resolved, err := scope.ResolveURL(origin, action); err == nil {
			abs := resolved.String()
			form.Action = &abs
		}
	}

	s.Find("input").Each(func(i int, input *goquery.Selection) {
		form.Inputs = append(form.Inputs, parseInput(input))
	})

	return form
}

func parseMethod(raw string) string {
	method := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := Methods[method]; !ok {
		return "GET"
	}
	return method
}

// parseInput parses an input element.
func parseInput(s *goquery.Selection) Input {
	info := Input{Type: "text"}

	if name, exists := s.Attr("name"); exists {
		info.Name = &name
	}
	if typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", ""))); typ != "" {
		info.Type = typ
	}

	return info
}

// String renders a form for log lines.
func (f Form) String() string {
	return fmt.Sprintf("%s %s (%d inputs)", f.Method, f.ActionString(), len(f.Inputs))
}
