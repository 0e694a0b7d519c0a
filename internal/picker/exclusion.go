package picker

import (
	"net/url"
	"strings"
)

// alwaysExcludedExts are never usable raster images.
var alwaysExcludedExts = []string{".svg", ".ico"}

// Exclusion is the merged, lowered keyword list applied before any fetch.
type Exclusion struct {
	keywords []string
}

// NewExclusion merges default and user keywords: trimmed, lowered, and
// deduplicated by exact string, defaults first.
func NewExclusion(defaults, user []string) *Exclusion {
	merged := make([]string, 0, len(defaults)+len(user))
	seen := make(map[string]struct{}, cap(merged))
	for _, list := range [][]string{defaults, user} {
		for _, raw := range list {
			kw := strings.ToLower(strings.TrimSpace(raw))
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			merged = append(merged, kw)
		}
	}
	return &Exclusion{keywords: merged}
}

// Keywords returns a copy of the merged list.
func (e *Exclusion) Keywords() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.keywords...)
}

// Excluded reports whether the candidate must be skipped without fetching.
func (e *Exclusion) Excluded(rawURL string) bool {
	if e == nil {
		return Excluded(rawURL, nil)
	}
	return Excluded(rawURL, e.keywords)
}

// Excluded matches a URL case-insensitively against lowered keywords and the
// always-excluded extensions.
func Excluded(rawURL string, keywords []string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return hasExcludedExt(lower)
}

func hasExcludedExt(lowerURL string) bool {
	candidates := []string{lowerURL}
	if u, err := url.Parse(lowerURL); err == nil && u.Path != "" {
		candidates = append(candidates, u.Path)
	}
	for _, c := range candidates {
		for _, ext := range alwaysExcludedExts {
			if strings.HasSuffix(c, ext) {
				return true
			}
		}
	}
	return false
}

// CleanKeywords trims user keywords and drops empties, keeping order and case.
// A nil list stays nil; a non-nil one stays non-nil.
func CleanKeywords(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// SplitKeywords parses a comma-separated keyword list.
func SplitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if out := CleanKeywords(strings.Split(raw, ",")); len(out) > 0 {
		return out
	}
	return nil
}
