// Package app builds and holds the long-lived services of the image picker,
// acting as a dependency injection container for the commands.
package app

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/randimg/internal/clock/system"
	"github.com/JakeFAU/randimg/internal/config"
	collyfetcher "github.com/JakeFAU/randimg/internal/fetcher/colly"
	"github.com/JakeFAU/randimg/internal/fetcher/headless"
	"github.com/JakeFAU/randimg/internal/headless/detector"
	"github.com/JakeFAU/randimg/internal/id/uuid"
	"github.com/JakeFAU/randimg/internal/imaging"
	"github.com/JakeFAU/randimg/internal/markup"
	"github.com/JakeFAU/randimg/internal/person"
	"github.com/JakeFAU/randimg/internal/picker"
	"github.com/JakeFAU/randimg/internal/policy/ratelimit"
	"github.com/JakeFAU/randimg/internal/telemetry"
	"github.com/JakeFAU/randimg/internal/token"
)

// App holds the shared services built from one Config.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	resolver *picker.Resolver
	codec    *token.Codec
	renderer *headless.Renderer
	tracer   *sdktrace.TracerProvider
}

// Option customizes New.
type Option func(*options)

type options struct {
	detector picker.PersonDetector
	shuffler picker.Shuffler
}

// WithDetector replaces the configured person detector.
func WithDetector(d picker.PersonDetector) Option {
	return func(o *options) { o.detector = d }
}

// WithShuffler replaces the global random shuffler.
func WithShuffler(s picker.Shuffler) Option {
	return func(o *options) { o.shuffler = s }
}

// New wires the resolver graph. It fails fast on configuration it cannot honor.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, codec: token.NewCodec(cfg.Defaults())}

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	personDetector := o.detector
	if personDetector == nil {
		d, err := newDetector(cfg.Detector)
		if err != nil {
			return nil, err
		}
		personDetector = d
	}
	logger.Info("person detector selected", zap.String("provider", cfg.Detector.Provider))

	limiter := ratelimit.New(cfg.RateLimitConfig())
	fetcher := collyfetcher.New(cfg.FetcherConfig(), limiter)

	var (
		renderer picker.Fetcher
		promoter picker.HeadlessDetector
	)
	if cfg.Headless.Enabled {
		r, err := headless.NewChromedp(cfg.RendererConfig())
		if err != nil {
			return nil, fmt.Errorf("init headless renderer: %w", err)
		}
		a.renderer = r
		renderer = r
		promoter = detector.NewHeuristic(cfg.Headless.PromotionThresh)
		logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	pickerLogger := logger.Named("picker")
	validator := picker.NewValidator(fetcher, fetcher, imaging.NewDecoder(), personDetector, cfg.ValidatorConfig(), pickerLogger)
	selector := picker.NewSelector(validator, o.shuffler, cfg.SelectorConfig(), pickerLogger)
	a.resolver = picker.NewResolver(
		fetcher,
		renderer,
		promoter,
		markup.NewParser(),
		picker.Extractor{MaxCandidates: cfg.Extraction.MaxCandidates},
		selector,
		system.New(),
		uuid.New(),
		cfg.ResolverConfig(),
		pickerLogger,
	)
	return a, nil
}

func newDetector(cfg config.DetectorConfig) (picker.PersonDetector, error) {
	switch cfg.Provider {
	case config.DetectorSkin, "":
		return person.NewSkin(cfg.MaxSide, cfg.SkinRatio), nil
	case config.DetectorOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("detector provider is 'openai' but detector.openai_api_key is not set")
		}
		return person.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.MaxSide), nil
	case config.DetectorNone:
		return person.Static(true), nil
	default:
		return nil, fmt.Errorf("unknown detector provider: %s", cfg.Provider)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Resolver returns the page-to-image resolver.
func (a *App) Resolver() *picker.Resolver {
	return a.resolver
}

// Codec returns the link token codec.
func (a *App) Codec() *token.Codec {
	return a.codec
}

// Close releases the browser and flushes spans.
func (a *App) Close(ctx context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
