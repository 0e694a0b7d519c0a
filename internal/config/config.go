// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	collyfetcher "github.com/JakeFAU/randimg/internal/fetcher/colly"
	"github.com/JakeFAU/randimg/internal/fetcher/headless"
	"github.com/JakeFAU/randimg/internal/picker"
	"github.com/JakeFAU/randimg/internal/policy/ratelimit"
)

// EnvPrefix namespaces environment overrides, e.g. RANDIMG_SERVER_PORT.
const EnvPrefix = "RANDIMG"

// SearchPaths are tried in order for randimg.{yaml,json,toml} when no
// explicit config path is given.
var SearchPaths = []string{".", "/etc/randimg", "$HOME/.randimg"}

// Detector providers.
const (
	DetectorSkin   = "skin"
	DetectorOpenAI = "openai"
	DetectorNone   = "none"
)

// DefaultExcludeKeywords are merged into every selection's exclusion list.
var DefaultExcludeKeywords = []string{
	"logo", "icon", "sprite", "favicon", "avatar", "badge", "banner",
	"placeholder", "ads", "advert", "tracking", "pixel", "og:image",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Selection  SelectionConfig  `mapstructure:"selection"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Outbound   OutboundConfig   `mapstructure:"outbound"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	PublicBaseURL         string `mapstructure:"public_base_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// HTTPConfig shapes outbound requests to pages and images.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxImageBytes  int    `mapstructure:"max_image_bytes"`
	MaxPageBytes   int    `mapstructure:"max_page_bytes"`
}

// SelectionConfig holds the defaults applied to omitted link options.
type SelectionConfig struct {
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	MinWidth        int      `mapstructure:"min_width"`
	MinHeight       int      `mapstructure:"min_height"`
	MinBytes        int      `mapstructure:"min_bytes"`
	MaxAspectRatio  float64  `mapstructure:"max_aspect_ratio"`
	RequirePerson   bool     `mapstructure:"require_person"`
	SmartFallback   bool     `mapstructure:"smart_fallback"`
}

// ExtractionConfig bounds candidate discovery.
type ExtractionConfig struct {
	MaxCandidates int `mapstructure:"max_candidates"`
}

// BudgetConfig bounds per-tier validation work.
type BudgetConfig struct {
	GetTryLimit    int `mapstructure:"get_try_limit"`
	HeadProbeLimit int `mapstructure:"head_probe_limit"`
	Parallelism    int `mapstructure:"parallelism"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int    `mapstructure:"promotion_threshold"`
	ExecPath        string `mapstructure:"exec_path"`
}

// DetectorConfig selects the person detector.
type DetectorConfig struct {
	Provider     string  `mapstructure:"provider"`
	MaxSide      int     `mapstructure:"max_side"`
	SkinRatio    float64 `mapstructure:"skin_ratio"`
	OpenAIAPIKey string  `mapstructure:"openai_api_key"`
	OpenAIModel  string  `mapstructure:"openai_model"`
}

// OutboundConfig paces requests per upstream host. RPS 0 disables pacing.
type OutboundConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

// DebugConfig shapes the /debug report.
type DebugConfig struct {
	TraceLimit int `mapstructure:"trace_limit"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("randimg")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		// A missing file is fine; defaults and env still apply.
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env values for list keys arrive as one comma-separated string.
	cfg.Selection.ExcludeKeywords = picker.CleanKeywords(splitList(cfg.Selection.ExcludeKeywords))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("http.timeout_seconds", 12)
	v.SetDefault("http.user_agent", picker.DefaultUserAgent)
	v.SetDefault("http.max_image_bytes", picker.DefaultMaxImageBytes)
	v.SetDefault("http.max_page_bytes", picker.DefaultMaxPageBytes)
	v.SetDefault("selection.exclude_keywords", DefaultExcludeKeywords)
	v.SetDefault("selection.min_width", 300)
	v.SetDefault("selection.min_height", 300)
	v.SetDefault("selection.min_bytes", 12000)
	v.SetDefault("selection.max_aspect_ratio", 3.8)
	v.SetDefault("selection.require_person", true)
	v.SetDefault("selection.smart_fallback", true)
	v.SetDefault("extraction.max_candidates", picker.DefaultMaxCandidates)
	v.SetDefault("budget.get_try_limit", picker.DefaultGetTryLimit)
	v.SetDefault("budget.head_probe_limit", picker.DefaultHeadProbeLimit)
	v.SetDefault("budget.parallelism", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("detector.provider", DetectorSkin)
	v.SetDefault("detector.max_side", 720)
	v.SetDefault("detector.skin_ratio", 0.06)
	v.SetDefault("detector.openai_api_key", "")
	v.SetDefault("detector.openai_model", "gpt-4.1-mini")
	v.SetDefault("outbound.rps", 0)
	v.SetDefault("outbound.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "randimg")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("debug.trace_limit", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Server.RequestTimeoutSeconds <= 0:
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	case c.HTTP.TimeoutSeconds <= 0:
		return fmt.Errorf("http.timeout_seconds must be > 0")
	case c.HTTP.MaxImageBytes <= 0:
		return fmt.Errorf("http.max_image_bytes must be > 0")
	case c.HTTP.MaxPageBytes <= 0:
		return fmt.Errorf("http.max_page_bytes must be > 0")
	case c.Selection.MinWidth < 0 || c.Selection.MinHeight < 0 || c.Selection.MinBytes < 0:
		return fmt.Errorf("selection thresholds must be >= 0")
	case c.Selection.MaxAspectRatio < 1:
		return fmt.Errorf("selection.max_aspect_ratio must be >= 1")
	case c.Extraction.MaxCandidates <= 0:
		return fmt.Errorf("extraction.max_candidates must be > 0")
	case c.Budget.GetTryLimit <= 0:
		return fmt.Errorf("budget.get_try_limit must be > 0")
	case c.Budget.HeadProbeLimit < 0:
		return fmt.Errorf("budget.head_probe_limit must be >= 0")
	case c.Budget.Parallelism <= 0:
		return fmt.Errorf("budget.parallelism must be > 0")
	case c.Headless.Enabled && c.Headless.MaxParallel <= 0:
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	case c.Outbound.RPS < 0:
		return fmt.Errorf("outbound.rps must be >= 0")
	case c.Debug.TraceLimit <= 0:
		return fmt.Errorf("debug.trace_limit must be > 0")
	}
	switch c.Detector.Provider {
	case DetectorSkin, DetectorNone:
	case DetectorOpenAI:
		if c.Detector.OpenAIAPIKey == "" {
			return fmt.Errorf("detector.openai_api_key must be set when provider is openai")
		}
	default:
		return fmt.Errorf("detector.provider %q is not one of skin, openai, none", c.Detector.Provider)
	}
	return nil
}

// Defaults converts the selection section into picker defaults.
func (c Config) Defaults() picker.Defaults {
	return picker.Defaults{
		ExcludeKeywords: append([]string(nil), c.Selection.ExcludeKeywords...),
		MinWidth:        c.Selection.MinWidth,
		MinHeight:       c.Selection.MinHeight,
		MinBytes:        c.Selection.MinBytes,
		MaxAspect:       c.Selection.MaxAspectRatio,
		RequirePerson:   c.Selection.RequirePerson,
		SmartFallback:   c.Selection.SmartFallback,
	}
}

// SelectorConfig returns the per-tier work bounds.
func (c Config) SelectorConfig() picker.SelectorConfig {
	return picker.SelectorConfig{
		GetTryLimit:     c.Budget.GetTryLimit,
		HeadProbeLimit:  c.Budget.HeadProbeLimit,
		Parallelism:     c.Budget.Parallelism,
		DefaultExcludes: append([]string(nil), c.Selection.ExcludeKeywords...),
	}
}

// ValidatorConfig returns candidate request shaping.
func (c Config) ValidatorConfig() picker.ValidatorConfig {
	return picker.ValidatorConfig{UserAgent: c.HTTP.UserAgent, MaxImageBytes: c.HTTP.MaxImageBytes}
}

// ResolverConfig returns page request shaping.
func (c Config) ResolverConfig() picker.ResolverConfig {
	return picker.ResolverConfig{UserAgent: c.HTTP.UserAgent, MaxPageBytes: c.HTTP.MaxPageBytes}
}

// FetcherConfig returns the Colly fetcher settings.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:   c.HTTP.UserAgent,
		Timeout:     c.HTTPTimeout(),
		MaxBodySize: c.HTTP.MaxPageBytes,
	}
}

// RendererConfig returns the headless renderer settings.
func (c Config) RendererConfig() headless.Config {
	return headless.Config{
		MaxParallel:       c.Headless.MaxParallel,
		UserAgent:         c.HTTP.UserAgent,
		NavigationTimeout: time.Duration(c.Headless.NavTimeoutSec) * time.Second,
		ExecPath:          c.Headless.ExecPath,
	}
}

// RateLimitConfig returns outbound pacing settings.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{RPS: c.Outbound.RPS, Burst: c.Outbound.Burst}
}

// HTTPTimeout is the per-request outbound timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one inbound request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, picker.SplitKeywords(v)...)
	}
	return out
}
