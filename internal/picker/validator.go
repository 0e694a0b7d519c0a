package picker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxImageBytes caps an image body read.
	DefaultMaxImageBytes = 8 << 20
	// MinimalSide is the only threshold of the filters-disabled pass.
	MinimalSide = 120
)

// ValidatorConfig controls request shaping for candidate checks.
type ValidatorConfig struct {
	UserAgent     string
	MaxImageBytes int
}

// Check is one candidate evaluation request.
type Check struct {
	URL        string
	Referer    string
	Thresholds Thresholds
	// Minimal selects the filters-disabled rule: decodable and both sides >= MinimalSide.
	Minimal bool
	// Budget is the tier's GET allowance; Probes caps HEAD requests.
	Budget *Budget
	Probes *Budget
	// Reserved means the caller already took this check's GET unit from Budget.
	// It is handed back if the HEAD probe rejects the candidate.
	Reserved bool
}

// Validator decides whether a single candidate satisfies a threshold set.
type Validator struct {
	fetcher  Fetcher
	prober   Prober
	decoder  Decoder
	detector PersonDetector
	cfg      ValidatorConfig
	logger   *zap.Logger
}

// NewValidator constructs a Validator. prober and detector may be nil: HEAD
// probing is then skipped and the person check always passes.
func NewValidator(
	fetcher Fetcher,
	prober Prober,
	decoder Decoder,
	detector PersonDetector,
	cfg ValidatorConfig,
	logger *zap.Logger,
) *Validator {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		fetcher:  fetcher,
		prober:   prober,
		decoder:  decoder,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// Validate runs the check steps in order and stops at the first rejection.
func (v *Validator) Validate(ctx context.Context, c Check) Outcome {
	start := time.Now()
	out := v.validate(ctx, c)
	out.URL = c.URL
	out.Duration = time.Since(start)
	if !out.Accepted && ctx.Err() != nil && out.Reason == ReasonFetchFailed {
		out.Reason = ReasonCanceled
	}
	v.logger.Debug("candidate checked",
		zap.String("url", c.URL),
		zap.Bool("accepted", out.Accepted),
		zap.String("reason", string(out.Reason)),
		zap.String("detail", out.Detail),
	)
	return out
}

func (v *Validator) validate(ctx context.Context, c Check) Outcome {
	if !c.Reserved && c.Budget != nil && c.Budget.Remaining() <= 0 {
		return rejected(ReasonBudget, "get budget exhausted")
	}
	headers := ImageHeaders(v.cfg.UserAgent, c.Referer)

	if !c.Minimal && c.Thresholds.MinBytes > 0 {
		if out, stop := v.probe(ctx, c, headers); stop {
			if c.Reserved {
				c.Budget.Release()
			}
			return out
		}
	}

	if !c.Reserved && !c.Budget.Take() {
		return rejected(ReasonBudget, "get budget exhausted")
	}
	resp, err := v.fetcher.Fetch(ctx, FetchRequest{URL: c.URL, Headers: headers, MaxBytes: v.cfg.MaxImageBytes})
	if err != nil {
		return rejected(ReasonFetchFailed, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejected(ReasonFetchFailed, fmt.Sprintf("status %d", resp.StatusCode))
	}

	img, err := v.decoder.Decode(resp.Body)
	if err != nil {
		return rejected(ReasonDecodeFailed, err.Error())
	}
	out := Outcome{Width: img.Width, Height: img.Height, Bytes: len(resp.Body)}

	if c.Minimal {
		if img.Width < MinimalSide || img.Height < MinimalSide {
			return out.reject(ReasonDimsFailed, fmt.Sprintf("%dx%d below %dpx", img.Width, img.Height, MinimalSide))
		}
		out.Accepted = true
		return out
	}

	t := c.Thresholds
	if len(resp.Body) < t.MinBytes {
		return out.reject(ReasonBytesFailed, fmt.Sprintf("%d bytes below %d", len(resp.Body), t.MinBytes))
	}
	if img.Width < t.MinWidth || img.Height < t.MinHeight {
		return out.reject(ReasonDimsFailed,
			fmt.Sprintf("%dx%d below %dx%d", img.Width, img.Height, t.MinWidth, t.MinHeight))
	}
	if ratio := AspectRatio(img.Width, img.Height); ratio > t.MaxAspect {
		return out.reject(ReasonAspectFailed, fmt.Sprintf("aspect %.2f above %.2f", ratio, t.MaxAspect))
	}
	if t.RequirePerson && v.detector != nil {
		ok, err := v.detector.HasPerson(ctx, img.Image)
		if err != nil {
			return out.reject(ReasonNoPerson, err.Error())
		}
		if !ok {
			return out.reject(ReasonNoPerson, "")
		}
	}
	out.Accepted = true
	return out
}

// probe issues the advisory HEAD request. It only stops the check when a
// successful image response declares a length below the byte threshold.
func (v *Validator) probe(ctx context.Context, c Check, headers http.Header) (Outcome, bool) {
	if v.prober == nil || !c.Probes.Take() {
		return Outcome{}, false
	}
	res, err := v.prober.Head(ctx, FetchRequest{URL: c.URL, Headers: headers})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			v.logger.Debug("head probe failed", zap.String("url", c.URL), zap.Error(err))
		}
		return Outcome{}, false
	}
	// Error pages and non-image answers say nothing about the image itself.
	if res.StatusCode < 200 || res.StatusCode > 299 || !isImageType(res.ContentType) {
		return Outcome{}, false
	}
	if res.ContentLength > 0 && res.ContentLength < int64(c.Thresholds.MinBytes) {
		return rejected(ReasonProbeTooSmall,
			fmt.Sprintf("declared %d bytes below %d", res.ContentLength, c.Thresholds.MinBytes)), true
	}
	return Outcome{}, false
}

func isImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// AspectRatio is max(w,h)/max(1,min(w,h)).
func AspectRatio(w, h int) float64 {
	return float64(max(w, h)) / float64(max(1, min(w, h)))
}

func rejected(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

func (o Outcome) reject(reason Reason, detail string) Outcome {
	o.Accepted = false
	o.Reason = reason
	o.Detail = detail
	return o
}
