package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/randimg/internal/metrics"
	"github.com/JakeFAU/randimg/internal/picker"
)

// DefaultTraceLimit caps the /debug trace when Options.TraceLimit is zero.
const DefaultTraceLimit = 60

// Resolver runs selections for the handlers. *picker.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, cfg picker.SelectionConfig) (picker.Result, error)
	Diagnose(ctx context.Context, cfg picker.SelectionConfig) (picker.Result, error)
}

// Codec mints and opens link tokens. *token.Codec satisfies it.
type Codec interface {
	Encode(cfg picker.SelectionConfig) (string, error)
	Decode(token string) (picker.SelectionConfig, error)
}

// Options shapes server behavior.
type Options struct {
	// PublicBaseURL prefixes generated links; empty derives it from the request.
	PublicBaseURL  string
	RequestTimeout time.Duration
	TraceLimit     int
}

// Server wires HTTP handlers to the resolver and token codec.
type Server struct {
	router   chi.Router
	resolver Resolver
	codec    Codec
	defaults picker.Defaults
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(resolver Resolver, codec Codec, defaults picker.Defaults, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TraceLimit <= 0 {
		opts.TraceLimit = DefaultTraceLimit
	}
	s := &Server{
		resolver: resolver,
		codec:    codec,
		defaults: defaults,
		opts:     opts,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/make", s.makeLink)
	r.Get("/debug", s.debug)
	r.Get("/r/{token}", s.redirect)
	r.Get("/j/{token}", s.jsonImage)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

var routeIndex = []map[string]string{
	{"route": "/make", "description": "mint a link: ?url=&exclude=&require_person=&smart_fallback=&disable_filters=&min_w=&min_h=&min_bytes=&max_ar="},
	{"route": "/r/{token}", "description": "302 to a random qualifying image"},
	{"route": "/j/{token}", "description": "random qualifying image as JSON"},
	{"route": "/debug", "description": "selection trace for the /make query"},
	{"route": "/health", "description": "liveness"},
	{"route": "/metrics", "description": "Prometheus metrics"},
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"service": "randimg", "routes": routeIndex})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The service holds no downstream connections; ready once serving.
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type makeResponse struct {
	SourceURL     string `json:"source_url"`
	Token         string `json:"token"`
	ShareableLink string `json:"shareable_random_link"`
	JSONLink      string `json:"json_link"`
}

func (s *Server) makeLink(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configFromQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tok, err := s.codec.Encode(cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	base := publicBase(r, s.opts.PublicBaseURL)
	writeJSON(s.logger, w, http.StatusOK, makeResponse{
		SourceURL:     cfg.PageURL,
		Token:         tok,
		ShareableLink: base + "/r/" + tok,
		JSONLink:      base + "/j/" + tok,
	})
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveToken(w, r)
	if !ok {
		return
	}
	noCache(w)
	http.Redirect(w, r, res.ImageURL, http.StatusFound)
}

type filtersView struct {
	Exclude        []string `json:"exclude,omitempty"`
	MinWidth       int      `json:"min_w"`
	MinHeight      int      `json:"min_h"`
	MinBytes       int      `json:"min_bytes"`
	MaxAspect      float64  `json:"max_ar"`
	RequirePerson  bool     `json:"require_person"`
	SmartFallback  bool     `json:"smart_fallback"`
	DisableFilters bool     `json:"disable_filters"`
}

type imageResponse struct {
	SourceURL      string      `json:"source_url"`
	Filters        filtersView `json:"filters"`
	RandomImageURL string      `json:"random_image_url"`
	Width          int         `json:"width"`
	Height         int         `json:"height"`
	Tier           int         `json:"tier"`
	TierName       string      `json:"tier_name"`
	UsedHeadless   bool        `json:"used_headless"`
	ShareableLink  string      `json:"shareable_random_link"`
}

func (s *Server) jsonImage(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resolveToken(w, r)
	if !ok {
		return
	}
	cfg := res.Config
	noCache(w)
	writeJSON(s.logger, w, http.StatusOK, imageResponse{
		SourceURL: cfg.PageURL,
		Filters: filtersView{
			Exclude:        cfg.Exclude,
			MinWidth:       cfg.MinWidth,
			MinHeight:      cfg.MinHeight,
			MinBytes:       cfg.MinBytes,
			MaxAspect:      cfg.MaxAspect,
			RequirePerson:  cfg.RequirePerson,
			SmartFallback:  cfg.SmartFallback,
			DisableFilters: cfg.DisableFilters,
		},
		RandomImageURL: res.ImageURL,
		Width:          res.Width,
		Height:         res.Height,
		Tier:           res.Tier.Number,
		TierName:       res.Tier.Name,
		UsedHeadless:   res.UsedHeadless,
		ShareableLink:  publicBase(r, s.opts.PublicBaseURL) + "/r/" + chi.URLParam(r, "token"),
	})
}

type debugResponse struct {
	ID           string              `json:"id"`
	SourceURL    string              `json:"source_url"`
	Candidates   int                 `json:"candidates"`
	Accepted     *string             `json:"accepted"`
	UsedHeadless bool                `json:"used_headless"`
	Tiers        []picker.TierReport `json:"tiers"`
	Trace        []picker.Outcome    `json:"trace"`
}

func (s *Server) debug(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configFromQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.resolver.Diagnose(r.Context(), cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := debugResponse{
		ID:           res.ID,
		SourceURL:    cfg.PageURL,
		Candidates:   len(res.Candidates),
		UsedHeadless: res.UsedHeadless,
		Tiers:        res.Report.Tiers,
		Trace:        res.Report.Trace(s.opts.TraceLimit),
	}
	if res.ImageURL != "" {
		resp.Accepted = &res.ImageURL
	}
	if resp.Tiers == nil {
		resp.Tiers = []picker.TierReport{}
	}
	if resp.Trace == nil {
		resp.Trace = []picker.Outcome{}
	}
	noCache(w)
	writeJSON(s.logger, w, http.StatusOK, resp)
}

// resolveToken decodes the route token and resolves it. On failure the error
// response is already written.
func (s *Server) resolveToken(w http.ResponseWriter, r *http.Request) (picker.Result, bool) {
	cfg, err := s.codec.Decode(chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return picker.Result{}, false
	}
	res, err := s.resolver.Resolve(r.Context(), cfg)
	if err != nil {
		s.fail(w, r, err)
		return picker.Result{}, false
	}
	return res, true
}

func (s *Server) configFromQuery(r *http.Request) (picker.SelectionConfig, error) {
	in, err := parseConfigInput(r.URL.Query())
	if err != nil {
		return picker.SelectionConfig{}, err
	}
	return s.defaults.NewConfig(in)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	logger := s.logger.With(
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	if status == 0 {
		logger.Debug("client went away")
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed")
	} else {
		logger.Debug("request rejected")
	}
	noCache(w)
	writeError(s.logger, w, status, msg)
}

func noCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// publicBase returns the scheme and host links are built on, without a
// trailing slash.
func publicBase(r *http.Request, configured string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}
