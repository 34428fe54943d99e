// Package scope decides which discovered links belong to a crawl target and
// canonicalizes endpoints for graph membership.
package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Checker validates resolved links against the request host. It is
// immutable after construction and safe for concurrent use.
type Checker struct {
	host           string
	excludeRegexps []*regexp.Regexp
}

// NewChecker creates a checker for the hostname of requestURL.
func NewChecker(requestURL string, rules Rules) (*Checker, error) {
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request url: %w", err)
	}

	c := &Checker{
		host: strings.TrimLeft(strings.ToLower(parsed.Hostname()), "."),
	}

	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}

	return c, nil
}

// Host returns the lowercased request hostname.
func (c *Checker) Host() string {
	return c.host
}

// SameDomain reports whether host equals the request host or is one of its
// subdomains. An empty request host matches nothing.
func (c *Checker) SameDomain(host string) bool {
	if c.host == "" || host == "" {
		return false
	}
	host = strings.ToLower(host)
	return host == c.host || strings.HasSuffix(host, "."+c.host)
}

// Allows checks an absolute link: http(s) scheme, same domain, and no
// exclude pattern match.
func (c *Checker) Allows(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !c.SameDomain(u.Hostname()) {
		return false
	}

	raw := u.String()
	for _, re := range c.excludeRegexps {
		if re.MatchString(raw) {
			return false
		}
	}
	return true
}

// ResolveURL resolves a relative reference against a base URL.
func ResolveURL(base *url.URL, ref string) (*url.URL, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(parsed), nil
}

// Origin returns scheme://host of u with no path.
func Origin(u *url.URL) *url.URL {
	return &url.URL{Scheme: u.Scheme, Host: u.Host}
}

// IsFetchable reports whether raw starts with an allowed fetch scheme prefix.
func IsFetchable(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
