package picker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/randimg/internal/metrics"
)

// DefaultMaxPageBytes caps the source page read.
const DefaultMaxPageBytes = 10 << 20

// ResolverConfig controls page fetching.
type ResolverConfig struct {
	UserAgent    string
	MaxPageBytes int
}

// Result describes one resolution.
type Result struct {
	ID           string          `json:"id"`
	Config       SelectionConfig `json:"config"`
	ImageURL     string          `json:"image_url,omitempty"`
	Width        int             `json:"width,omitempty"`
	Height       int             `json:"height,omitempty"`
	Tier         Tier            `json:"tier"`
	Candidates   []string        `json:"-"`
	UsedHeadless bool            `json:"used_headless"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Report       Report          `json:"report"`
}

// Resolver fetches a page, extracts candidates and runs the selector.
type Resolver struct {
	pages     Fetcher
	renderer  Fetcher
	promoter  HeadlessDetector
	parser    MarkupParser
	extractor Extractor
	selector  *Selector
	clock     Clock
	ids       IDGenerator
	cfg       ResolverConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewResolver constructs a Resolver. renderer and promoter are optional; when
// both are set, pages the promoter flags are re-fetched through the renderer.
func NewResolver(
	pages Fetcher,
	renderer Fetcher,
	promoter HeadlessDetector,
	parser MarkupParser,
	extractor Extractor,
	selector *Selector,
	clock Clock,
	ids IDGenerator,
	cfg ResolverConfig,
	logger *zap.Logger,
) *Resolver {
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = DefaultMaxPageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		pages:     pages,
		renderer:  renderer,
		promoter:  promoter,
		parser:    parser,
		extractor: extractor,
		selector:  selector,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/JakeFAU/randimg/internal/picker"),
		logger:    logger,
	}
}

// Resolve picks one image for cfg. The returned Result carries the report
// even when err is ErrNoSuitableImage.
func (r *Resolver) Resolve(ctx context.Context, cfg SelectionConfig) (Result, error) {
	res := Result{Config: cfg, StartedAt: r.now()}
	if r.ids != nil {
		if id, err := r.ids.NewID(); err == nil {
			res.ID = id
		}
	}
	ctx, span := r.tracer.Start(ctx, "resolve", trace.WithAttributes(
		attribute.String("resolution.id", res.ID),
		attribute.String("page.url", cfg.PageURL),
	))
	defer span.End()

	err := r.resolve(ctx, cfg, &res)
	res.FinishedAt = r.now()
	metrics.ObserveResolution(outcomeLabel(err), tierLabel(res, err))

	logger := r.logger.With(
		zap.String("resolution_id", res.ID),
		zap.String("url", cfg.PageURL),
		zap.Int("candidates", len(res.Candidates)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("resolution failed", zap.Error(err))
		return res, err
	}
	span.SetAttributes(attribute.String("image.url", res.ImageURL), attribute.Int("tier", res.Tier.Number))
	logger.Info("resolution accepted", zap.String("image_url", res.ImageURL), zap.Int("tier", res.Tier.Number))
	return res, nil
}

// Diagnose runs a full resolution for its report. Exhausting every tier is
// not an error here; page fetch failures and invalid input still are.
func (r *Resolver) Diagnose(ctx context.Context, cfg SelectionConfig) (Result, error) {
	res, err := r.Resolve(ctx, cfg)
	if errors.Is(err, ErrNoSuitableImage) {
		return res, nil
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, cfg SelectionConfig, res *Result) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	page, err := ParsePageURL(cfg.PageURL)
	if err != nil {
		return err
	}

	resp, err := r.fetchPage(ctx, cfg.PageURL)
	if err != nil {
		return err
	}
	res.UsedHeadless = resp.UsedHeadless

	doc, err := r.parser.Parse(resp.Body, resp.Headers.Get("Content-Type"))
	if err != nil {
		return &SourceError{URL: cfg.PageURL, Err: fmt.Errorf("parse page: %w", err)}
	}
	res.Candidates = r.extractor.Extract(page, doc)
	metrics.ObserveCandidates(len(res.Candidates))
	r.logger.Debug("candidates extracted",
		zap.String("url", cfg.PageURL),
		zap.Int("count", len(res.Candidates)),
		zap.Bool("headless", resp.UsedHeadless),
	)

	sel, report, err := r.selector.Select(ctx, cfg, res.Candidates)
	res.Report = report
	if err != nil {
		return err
	}
	res.ImageURL = sel.URL
	res.Width = sel.Outcome.Width
	res.Height = sel.Outcome.Height
	res.Tier = sel.Tier
	return nil
}

func (r *Resolver) fetchPage(ctx context.Context, pageURL string) (FetchResponse, error) {
	ctx, span := r.tracer.Start(ctx, "fetch_page", trace.WithAttributes(attribute.String("page.url", pageURL)))
	defer span.End()

	req := FetchRequest{URL: pageURL, Headers: PageHeaders(r.cfg.UserAgent), MaxBytes: r.cfg.MaxPageBytes}
	resp, err := r.pages.Fetch(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, ctxErr
		}
		span.RecordError(err)
		return FetchResponse{}, &SourceError{URL: pageURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FetchResponse{}, &SourceError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	metrics.ObserveFetch(pageURL, len(resp.Body))
	span.SetAttributes(attribute.Int("page.bytes", len(resp.Body)))

	if promoted, ok := r.maybePromote(ctx, req, resp); ok {
		return promoted, nil
	}
	return resp, nil
}

func (r *Resolver) maybePromote(ctx context.Context, req FetchRequest, resp FetchResponse) (FetchResponse, bool) {
	if r.renderer == nil || r.promoter == nil || !r.promoter.ShouldPromote(resp) {
		return FetchResponse{}, false
	}
	rendered, err := r.renderer.Fetch(ctx, req)
	if err != nil {
		r.logger.Warn("headless promotion failed", zap.String("url", req.URL), zap.Error(err))
		return FetchResponse{}, false
	}
	if rendered.StatusCode < 200 || rendered.StatusCode > 299 {
		r.logger.Warn("headless promotion returned non-success status",
			zap.String("url", req.URL), zap.Int("status", rendered.StatusCode))
		return FetchResponse{}, false
	}
	rendered.UsedHeadless = true
	r.logger.Info("headless promotion applied", zap.String("url", req.URL))
	return rendered, true
}

func (r *Resolver) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrNoSuitableImage):
		return "no_image"
	case errors.Is(err, ErrSourceFetch):
		return "source_failed"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func tierLabel(res Result, err error) string {
	if err != nil {
		return ""
	}
	return TierLabel(res.Tier)
}
