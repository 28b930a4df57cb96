// Package route classifies inbound hosts and paths for the router.
package route

import (
	"net"
	"strings"
)

// BypassPrefixes are path prefixes (after the leading slash) that never go
// through subdomain routing.
var BypassPrefixes = []string{
	"api",
	"_next",
	"_static",
	"_vercel",
	"favicon.ico",
	"sitemap.xml",
}

// Bypass reports whether path is excluded from subdomain routing.
// Matching is by prefix, so "/api", "/api/x" and "/apis" are all bypassed.
func Bypass(path string) bool {
	p := strings.TrimPrefix(path, "/")
	for _, prefix := range BypassPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Classifier extracts routing subdomains from Host headers.
type Classifier struct {
	root  string
	local string
}

// NewClassifier creates a Classifier for the given root domain and the
// suffix used by local development hosts (typically "localhost").
func NewClassifier(root, localSuffix string) *Classifier {
	return &Classifier{
		root:  strings.ToLower(strings.Trim(root, ".")),
		local: strings.ToLower(strings.Trim(localSuffix, ".")),
	}
}

// Root returns the configured root domain.
func (c *Classifier) Root() string {
	return c.root
}

// Classify returns the subdomain carried by host. ok is false when the
// request should pass through untouched: the root domain, its www variant,
// IP literals, and hosts without a subdomain.
func (c *Classifier) Classify(host string) (subdomain string, ok bool) {
	h := strings.ToLower(stripPort(host))
	h = strings.TrimSuffix(h, ".")

	if h == "" || h == c.root || h == "www."+c.root {
		return "", false
	}
	if net.ParseIP(h) != nil {
		return "", false
	}

	switch {
	case c.root != "" && strings.HasSuffix(h, "."+c.root):
		subdomain = strings.TrimSuffix(h, "."+c.root)
	case c.local != "" && strings.HasSuffix(h, "."+c.local):
		subdomain = strings.TrimSuffix(h, "."+c.local)
	default:
		// Preview deployments and other hosts: first label.
		if i := strings.IndexByte(h, '.'); i > 0 {
			subdomain = h[:i]
		}
	}

	if subdomain == "" {
		return "", false
	}
	return subdomain, true
}

// stripPort removes a trailing :port, keeping bracketed IPv6 literals intact.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
