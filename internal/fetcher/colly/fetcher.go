// Package collyfetcher implements picker.Fetcher and picker.Prober using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/randimg/internal/metrics"
	"github.com/JakeFAU/randimg/internal/picker"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 12 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps reads when a request carries no MaxBytes.
	MaxBodySize int
}

// Pacer delays outbound requests; *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher issues GET and HEAD requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	pacer         Pacer
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. pacer may be nil.
func New(cfg Config, pacer Pacer) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		pacer:         pacer,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned, not errors.
func (f *Fetcher) Fetch(ctx context.Context, request picker.FetchRequest) (picker.FetchResponse, error) {
	var (
		result   picker.FetchResponse
		fetchErr error
	)
	if err := f.wait(ctx, request.URL); err != nil {
		return picker.FetchResponse{}, err
	}
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, func() error { return collector.Visit(request.URL) }, &fetchErr); err != nil {
		return picker.FetchResponse{}, err
	}
	metrics.ObserveFetch(request.URL, len(result.Body))
	return result, nil
}

// Head issues a HEAD request and reports the declared type and length.
func (f *Fetcher) Head(ctx context.Context, request picker.FetchRequest) (picker.ProbeResult, error) {
	var (
		result   picker.FetchResponse
		fetchErr error
	)
	if err := f.wait(ctx, request.URL); err != nil {
		return picker.ProbeResult{}, err
	}
	collector := f.buildCollector(ctx, request, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, func() error { return collector.Head(request.URL) }, &fetchErr); err != nil {
		return picker.ProbeResult{}, err
	}
	return probeResult(result), nil
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	if f.pacer == nil {
		return nil
	}
	if err := f.pacer.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("outbound pacing: %w", err)
	}
	return nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request picker.FetchRequest,
	start time.Time,
	result *picker.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if ua := request.Headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	} else if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.MaxBodySize = f.cfg.MaxBodySize
	if request.MaxBytes > 0 {
		collector.MaxBodySize = request.MaxBytes
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request picker.FetchRequest,
	start time.Time,
	result *picker.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = picker.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    normalizeCharset(headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, visit func() error, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders replaces collector defaults with the request's header values.
func (f *Fetcher) copyHeaders(request picker.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// normalizeCharset rewrites a declared non-UTF-8 text charset to utf-8: Colly
// has already transcoded such bodies.
func normalizeCharset(headers http.Header) http.Header {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return headers
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "text/") && !strings.Contains(mediaType, "html") {
		return headers
	}
	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return headers
	}
	params["charset"] = "utf-8"
	headers.Set("Content-Type", mime.FormatMediaType(mediaType, params))
	return headers
}

func probeResult(resp picker.FetchResponse) picker.ProbeResult {
	out := picker.ProbeResult{StatusCode: resp.StatusCode, ContentLength: -1}
	if resp.Headers == nil {
		return out
	}
	out.ContentType = resp.Headers.Get("Content-Type")
	if n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64); err == nil {
		out.ContentLength = n
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
