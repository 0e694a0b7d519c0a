// Package picker extracts candidate images from a page and selects one
// that satisfies a SelectionConfig, relaxing thresholds tier by tier.
package picker

import (
	"image"
	"math"
	"net/http"
	"strings"
	"time"
)

// SelectionConfig captures the acceptance criteria a client chose for one link.
// It is built once, encoded into a token, and never mutated afterwards.
type SelectionConfig struct {
	PageURL        string   `json:"url"`
	Exclude        []string `json:"exclude,omitempty"`
	MinWidth       int      `json:"min_w"`
	MinHeight      int      `json:"min_h"`
	MinBytes       int      `json:"min_bytes"`
	MaxAspect      float64  `json:"max_ar"`
	RequirePerson  bool     `json:"require_person"`
	SmartFallback  bool     `json:"smart_fallback"`
	DisableFilters bool     `json:"disable_filters"`
}

// Thresholds returns the strict (tier 1) thresholds of the configuration.
func (c SelectionConfig) Thresholds() Thresholds {
	return Thresholds{
		MinWidth:      c.MinWidth,
		MinHeight:     c.MinHeight,
		MinBytes:      c.MinBytes,
		MaxAspect:     c.MaxAspect,
		RequirePerson: c.RequirePerson,
	}
}

// Thresholds is the per-tier acceptance rule set applied by the Validator.
type Thresholds struct {
	MinWidth      int     `json:"min_w"`
	MinHeight     int     `json:"min_h"`
	MinBytes      int     `json:"min_bytes"`
	MaxAspect     float64 `json:"max_ar"`
	RequirePerson bool    `json:"require_person"`
}

// Defaults holds the process-wide selection defaults loaded at startup.
type Defaults struct {
	ExcludeKeywords []string
	MinWidth        int
	MinHeight       int
	MinBytes        int
	MaxAspect       float64
	RequirePerson   bool
	SmartFallback   bool
}

// ConfigInput is the raw user input for a new SelectionConfig. Nil pointers
// fall back to Defaults.
type ConfigInput struct {
	PageURL        string
	Exclude        []string
	MinWidth       *int
	MinHeight      *int
	MinBytes       *int
	MaxAspect      *float64
	RequirePerson  *bool
	SmartFallback  *bool
	DisableFilters bool
}

// NewConfig builds a SelectionConfig from user input, filling omitted values
// from the defaults. The page URL is validated.
func (d Defaults) NewConfig(in ConfigInput) (SelectionConfig, error) {
	pageURL := strings.TrimSpace(in.PageURL)
	if _, err := ParsePageURL(pageURL); err != nil {
		return SelectionConfig{}, err
	}
	cfg := SelectionConfig{
		PageURL:        pageURL,
		Exclude:        CleanKeywords(in.Exclude),
		MinWidth:       valueOrDefault(in.MinWidth, d.MinWidth),
		MinHeight:      valueOrDefault(in.MinHeight, d.MinHeight),
		MinBytes:       valueOrDefault(in.MinBytes, d.MinBytes),
		MaxAspect:      valueOrDefault(in.MaxAspect, d.MaxAspect),
		RequirePerson:  valueOrDefault(in.RequirePerson, d.RequirePerson),
		SmartFallback:  valueOrDefault(in.SmartFallback, d.SmartFallback),
		DisableFilters: in.DisableFilters,
	}
	if err := cfg.Validate(); err != nil {
		return SelectionConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no tier could work with.
func (c SelectionConfig) Validate() error {
	if _, err := ParsePageURL(c.PageURL); err != nil {
		return err
	}
	if c.PageURL != strings.TrimSpace(c.PageURL) {
		return invalidInput("page url has surrounding whitespace")
	}
	for _, kw := range c.Exclude {
		if kw == "" || kw != strings.TrimSpace(kw) {
			return invalidInput("exclude keywords must be trimmed and non-empty")
		}
	}
	switch {
	case c.MinWidth < 0 || c.MinHeight < 0:
		return invalidInput("minimum dimensions must be >= 0")
	case c.MinBytes < 0:
		return invalidInput("minimum bytes must be >= 0")
	case math.IsNaN(c.MaxAspect) || math.IsInf(c.MaxAspect, 0):
		return invalidInput("max aspect ratio must be finite")
	case c.MaxAspect < 1:
		return invalidInput("max aspect ratio must be >= 1")
	}
	return nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// Reason names why a candidate was rejected.
type Reason string

// Rejection reasons recorded on each Outcome.
const (
	ReasonNone          Reason = ""
	ReasonExcluded      Reason = "keyword-excluded"
	ReasonBudget        Reason = "budget-exceeded"
	ReasonProbeTooSmall Reason = "probe-too-small"
	ReasonFetchFailed   Reason = "fetch-failed"
	ReasonDecodeFailed  Reason = "decode-failed"
	ReasonBytesFailed   Reason = "bytes-failed"
	ReasonDimsFailed    Reason = "dims-failed"
	ReasonAspectFailed  Reason = "aspect-failed"
	ReasonNoPerson      Reason = "no-person"
	ReasonCanceled      Reason = "canceled"
)

// Outcome is the per-candidate validation result. It is diagnostic only.
type Outcome struct {
	URL      string        `json:"url"`
	Tier     int           `json:"tier,omitempty"`
	Accepted bool          `json:"accepted"`
	Reason   Reason        `json:"reason,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL      string
	Headers  http.Header
	MaxBytes int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ProbeResult is what a HEAD request declares about a resource.
type ProbeResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
}

// DecodedImage is a verified image and its pixel dimensions.
type DecodedImage struct {
	Image  image.Image
	Format string
	Width  int
	Height int
}
