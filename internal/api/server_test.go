package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/randimg/internal/picker"
	"github.com/JakeFAU/randimg/internal/token"
)

var testDefaults = picker.Defaults{
	ExcludeKeywords: []string{"logo"},
	MinWidth:        300,
	MinHeight:       300,
	MinBytes:        12000,
	MaxAspect:       3.8,
	RequirePerson:   true,
	SmartFallback:   true,
}

type fakeResolver struct {
	mu     sync.Mutex
	result picker.Result
	err    error
	block  bool
	calls  []picker.SelectionConfig
}

func (f *fakeResolver) Resolve(ctx context.Context, cfg picker.SelectionConfig) (picker.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cfg)
	res, err, block := f.result, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return picker.Result{Config: cfg}, ctx.Err()
	}
	res.Config = cfg
	return res, err
}

func (f *fakeResolver) Diagnose(ctx context.Context, cfg picker.SelectionConfig) (picker.Result, error) {
	res, err := f.Resolve(ctx, cfg)
	if errors.Is(err, picker.ErrNoSuitableImage) {
		return res, nil
	}
	return res, err
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestServer(res *fakeResolver, opts Options) *Server {
	return NewServer(res, token.NewCodec(testDefaults), testDefaults, opts, zap.NewNop())
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func mintToken(t *testing.T, s *Server, query string) makeResponse {
	t.Helper()
	rec := serve(t, s, "/make?"+query)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[makeResponse](t, rec)
}

func assertNoCache(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
}

func TestMakeReturnsLinks(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	s := newTestServer(res, Options{})

	q := url.Values{"url": {"https://example.com/gallery"}, "exclude": {"thumb, Ad "}, "require_person": {"0"}}
	resp := mintToken(t, s, q.Encode())

	assert.Equal(t, "https://example.com/gallery", resp.SourceURL)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "http://example.com/r/"+resp.Token, resp.ShareableLink)
	assert.Equal(t, "http://example.com/j/"+resp.Token, resp.JSONLink)
	assert.Zero(t, res.callCount())

	cfg, err := token.NewCodec(testDefaults).Decode(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"thumb", "Ad"}, cfg.Exclude)
	assert.False(t, cfg.RequirePerson)
	assert.True(t, cfg.SmartFallback)
	assert.Equal(t, 300, cfg.MinWidth)
}

func TestMakeNumericOverrides(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{}, Options{})

	resp := mintToken(t, s, "url=https://example.com/&min_w=640&min_h=480&min_bytes=1&max_ar=2.5&disable_filters=on")

	cfg, err := token.NewCodec(testDefaults).Decode(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.MinWidth)
	assert.Equal(t, 480, cfg.MinHeight)
	assert.Equal(t, 1, cfg.MinBytes)
	assert.InDelta(t, 2.5, cfg.MaxAspect, 1e-9)
	assert.True(t, cfg.DisableFilters)
}

func TestMakeRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{}, Options{})

	for _, target := range []string{
		"/make",
		"/make?url=",
		"/make?url=ftp://example.com/",
		"/make?url=example.com",
		"/make?url=https://example.com/&min_w=wide",
		"/make?url=https://example.com/&max_ar=tall",
		"/make?url=https://example.com/&max_ar=0.5",
		"/make?url=https://example.com/&max_ar=NaN",
		"/make?url=https://example.com/&max_ar=Inf",
		"/make?url=https://example.com/&max_ar=-Inf",
	} {
		rec := serve(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "error", target)
	}
}

func TestDebugRejectsNonFiniteAspectWithoutResolving(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	s := newTestServer(res, Options{})

	rec := serve(t, s, "/debug?url=https://example.com/&max_ar=NaN")

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Zero(t, res.callCount())
}

func TestPublicBase(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeResolver{}, Options{PublicBaseURL: "https://img.example/"})
	resp := mintToken(t, s, "url=https://example.com/")
	assert.Equal(t, "https://img.example/r/"+resp.Token, resp.ShareableLink)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "randimg.internal:8080"
	req.Header.Set("X-Forwarded-Proto", "https, http")
	assert.Equal(t, "https://randimg.internal:8080", publicBase(req, ""))
}

func TestRedirectToChosenImage(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{result: picker.Result{ImageURL: "https://cdn.example/a.jpg", Width: 800, Height: 600}}
	s := newTestServer(res, Options{})
	link := mintToken(t, s, "url=https://example.com/")

	rec := serve(t, s, "/r/"+link.Token)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example/a.jpg", rec.Header().Get("Location"))
	assertNoCache(t, rec)
	require.Equal(t, 1, res.callCount())
	assert.Equal(t, "https://example.com/", res.calls[0].PageURL)
}

func TestJSONImage(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{result: picker.Result{
		ImageURL: "https://cdn.example/a.jpg",
		Width:    800,
		Height:   600,
		Tier:     picker.Tier{Number: 3, Name: "person-dropped"},
	}}
	s := newTestServer(res, Options{})
	link := mintToken(t, s, "url=https://example.com/&exclude=thumb")

	rec := serve(t, s, "/j/"+link.Token)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertNoCache(t, rec)
	got := decodeBody[imageResponse](t, rec)
	assert.Equal(t, "https://example.com/", got.SourceURL)
	assert.Equal(t, "https://cdn.example/a.jpg", got.RandomImageURL)
	assert.Equal(t, 800, got.Width)
	assert.Equal(t, 3, got.Tier)
	assert.Equal(t, "person-dropped", got.TierName)
	assert.Equal(t, []string{"thumb"}, got.Filters.Exclude)
	assert.True(t, got.Filters.RequirePerson)
	assert.Equal(t, link.ShareableLink, got.ShareableLink)
}

func TestTokenErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "source failure", err: &picker.SourceError{URL: "https://example.com/", StatusCode: 503}, want: http.StatusBadGateway},
		{name: "no image", err: picker.ErrNoSuitableImage, want: http.StatusNotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeResolver{err: tt.err}, Options{})
			link := mintToken(t, s, "url=https://example.com/")

			for _, prefix := range []string{"/r/", "/j/"} {
				rec := serve(t, s, prefix+link.Token)
				assert.Equal(t, tt.want, rec.Code, prefix)
				assertNoCache(t, rec)
			}
		})
	}
}

func TestBadTokenIsRejectedWithoutResolving(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	s := newTestServer(res, Options{})

	for _, target := range []string{"/r/not-a-token", "/j/%21%21%21"} {
		rec := serve(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "bad token")
	}
	assert.Zero(t, res.callCount())
}

func TestRequestTimeoutMapsTo504(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{block: true}, Options{RequestTimeout: 20 * time.Millisecond})
	link := mintToken(t, s, "url=https://example.com/")

	rec := serve(t, s, "/r/"+link.Token)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestDebugReport(t *testing.T) {
	t.Parallel()
	outcomes := make([]picker.Outcome, 80)
	for i := range outcomes {
		outcomes[i] = picker.Outcome{URL: "https://cdn.example/x.jpg", Reason: picker.ReasonDimsFailed, Tier: 1}
	}
	res := &fakeResolver{
		result: picker.Result{
			ID:         "res-1",
			Candidates: []string{"a", "b"},
			Report: picker.Report{
				Candidates: 2,
				Tiers:      []picker.TierReport{{Tier: picker.Tier{Number: 1, Name: "strict"}, GetsUsed: 2, Outcomes: outcomes}},
			},
		},
		err: picker.ErrNoSuitableImage,
	}
	s := newTestServer(res, Options{})

	rec := serve(t, s, "/debug?url=https://example.com/&require_person=0")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertNoCache(t, rec)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 2, got["candidates"], 0)
	assert.Nil(t, got["accepted"])
	assert.Len(t, got["trace"], DefaultTraceLimit)
	assert.Len(t, got["tiers"], 1)
	assert.False(t, res.calls[0].RequirePerson)
}

func TestDebugTraceLimitAndAccepted(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{result: picker.Result{
		ImageURL: "https://cdn.example/a.jpg",
		Report: picker.Report{Tiers: []picker.TierReport{{Outcomes: []picker.Outcome{
			{URL: "https://cdn.example/b.jpg", Reason: picker.ReasonFetchFailed},
			{URL: "https://cdn.example/a.jpg", Accepted: true},
		}}}},
	}}
	s := newTestServer(res, Options{TraceLimit: 1})

	rec := serve(t, s, "/debug?url=https://example.com/")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[debugResponse](t, rec)
	require.NotNil(t, got.Accepted)
	assert.Equal(t, "https://cdn.example/a.jpg", *got.Accepted)
	assert.Len(t, got.Trace, 1)
}

func TestDebugSourceFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{err: &picker.SourceError{URL: "https://example.com/", StatusCode: 500}}, Options{})

	rec := serve(t, s, "/debug?url=https://example.com/")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to fetch page")
}

func TestProbesAndIndex(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{}, Options{})

	rec := serve(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	for _, target := range []string{"/healthz", "/readyz", "/"} {
		rec := serve(t, s, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), target)
	}

	rec = serve(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeResolver{}, Options{})

	rec := serve(t, s, "/healthz")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteJSONLogsThroughGivenLogger(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.ErrorLevel)
	rec := httptest.NewRecorder()

	writeJSON(zap.New(core), rec, http.StatusOK, map[string]float64{"ratio": math.NaN()})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "write JSON failed", entry.Message)
	assert.EqualValues(t, http.StatusOK, entry.ContextMap()["status"])
}

func TestParseFlag(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"1", "true", "True", "on", " on "} {
		got := parseFlag(raw)
		require.NotNil(t, got, raw)
		assert.True(t, *got, raw)
	}
	for _, raw := range []string{"0", "false", "TRUE", "yes", "off"} {
		got := parseFlag(raw)
		require.NotNil(t, got, raw)
		assert.False(t, *got, raw)
	}
	assert.Nil(t, parseFlag(""))
}

func TestStatusForCanceled(t *testing.T) {
	t.Parallel()

	status, _ := statusFor(context.Canceled)
	assert.Zero(t, status)
	status, _ = statusFor(token.ErrInvalidToken)
	assert.Equal(t, http.StatusBadRequest, status)
}
