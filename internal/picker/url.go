package picker

import (
	"net/url"
	"strings"
)

// ParsePageURL validates a source page URL: absolute, http(s), with a host.
func ParsePageURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidInput("missing page url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalidInput("malformed page url")
	}
	if !isHTTPScheme(u.Scheme) {
		return nil, invalidInput("url must start with http(s)://")
	}
	if u.Host == "" {
		return nil, invalidInput("page url has no host")
	}
	return u, nil
}

// NormalizeURL resolves a raw attribute value against the page URL.
// Empty values, inline data: payloads and non-http(s) references are rejected.
func NormalizeURL(base *url.URL, raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" || hasPrefixFold(value, "data:") {
		return "", false
	}
	ref, err := url.Parse(value)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if !isHTTPScheme(abs.Scheme) || abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func isHTTPScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
