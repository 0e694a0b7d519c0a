package picker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPage = "https://example.com/gallery/"

func newTestResolver(web *fakeWeb, doc Markup, renderer Fetcher, promoter HeadlessDetector) *Resolver {
	selector := newTestSelector(web, nil, SelectorConfig{})
	return NewResolver(
		web,
		renderer,
		promoter,
		fakeParser{doc: doc},
		Extractor{},
		selector,
		fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		fixedIDs{id: "res-1"},
		ResolverConfig{UserAgent: "test-agent"},
		zap.NewNop(),
	)
}

func TestResolveReturnsOneOfThePageImages(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add(testPage, fakeResource{body: []byte("<html></html>")})
	web.add("https://example.com/gallery/one.jpg", fakeResource{body: fakeImage(400, 400, 20000)})
	web.add("https://example.com/two.jpg", fakeResource{body: fakeImage(400, 400, 20000)})
	doc := fakeMarkup{img("src", "one.jpg"), img("data-src", "/two.jpg")}
	r := newTestResolver(web, doc, nil, nil)
	cfg := baseConfig()
	cfg.PageURL = testPage
	cfg.RequirePerson = false

	res, err := r.Resolve(context.Background(), cfg)

	require.NoError(t, err)
	assert.Contains(t, []string{"https://example.com/gallery/one.jpg", "https://example.com/two.jpg"}, res.ImageURL)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, 1, res.Tier.Number)
	assert.Equal(t, 400, res.Width)
	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), res.StartedAt)

	require.NotEmpty(t, web.headers)
	pageHeaders := web.headers[0]
	assert.Equal(t, "test-agent", pageHeaders.Get("User-Agent"))
	assert.Contains(t, pageHeaders.Get("Accept"), "text/html")
}

func TestResolveSourceFailures(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	web.add(testPage, fakeResource{status: http.StatusServiceUnavailable})
	r := newTestResolver(web, fakeMarkup{}, nil, nil)
	cfg := baseConfig()
	cfg.PageURL = testPage

	_, err := r.Resolve(context.Background(), cfg)

	require.ErrorIs(t, err, ErrSourceFetch)
	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, http.StatusServiceUnavailable, srcErr.StatusCode)
}

func TestResolveNoSuitableImage(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add(testPage, fakeResource{body: []byte("<html></html>")})
	web.add("https://example.com/gallery/tiny.jpg", fakeResource{body: fakeImage(10, 10, 20000)})
	r := newTestResolver(web, fakeMarkup{img("src", "tiny.jpg")}, nil, nil)
	cfg := baseConfig()
	cfg.PageURL = testPage

	res, err := r.Resolve(context.Background(), cfg)
	require.ErrorIs(t, err, ErrNoSuitableImage)
	assert.Len(t, res.Report.Tiers, 4)

	diag, err := r.Diagnose(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, diag.ImageURL)
	assert.NotEmpty(t, diag.Report.Trace(60))
}

func TestResolveRejectsInvalidConfigWithoutIO(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	r := newTestResolver(web, fakeMarkup{}, nil, nil)
	cfg := baseConfig()
	cfg.PageURL = "ftp://example.com/"

	_, err := r.Resolve(context.Background(), cfg)

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, web.getCount())
}

func TestResolvePromotesToHeadless(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add(testPage, fakeResource{body: []byte(`<div id="root"></div>`)})
	web.add("https://example.com/gallery/rendered.jpg", fakeResource{body: fakeImage(400, 400, 20000)})
	renderer := newFakeWeb()
	renderer.add(testPage, fakeResource{body: []byte(`<img src="rendered.jpg">`)})
	r := newTestResolver(web, fakeMarkup{img("src", "rendered.jpg")}, renderer, promoteAlways{})
	cfg := baseConfig()
	cfg.PageURL = testPage
	cfg.RequirePerson = false

	res, err := r.Resolve(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, res.UsedHeadless)
	assert.Equal(t, 1, renderer.getCount())
}

func TestResolveKeepsStaticPageWhenRendererFails(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add(testPage, fakeResource{body: []byte("<html></html>")})
	web.add("https://example.com/gallery/a.jpg", fakeResource{body: fakeImage(400, 400, 20000)})
	renderer := newFakeWeb()
	r := newTestResolver(web, fakeMarkup{img("src", "a.jpg")}, renderer, promoteAlways{})
	cfg := baseConfig()
	cfg.PageURL = testPage
	cfg.RequirePerson = false

	res, err := r.Resolve(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, res.UsedHeadless)
	assert.Equal(t, "https://example.com/gallery/a.jpg", res.ImageURL)
}

func TestResolveParseFailureIsSourceError(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add(testPage, fakeResource{body: []byte("<html></html>")})
	selector := newTestSelector(web, nil, SelectorConfig{})
	r := NewResolver(web, nil, nil, fakeParser{err: errors.New("bad charset")}, Extractor{}, selector,
		nil, nil, ResolverConfig{}, nil)
	cfg := baseConfig()
	cfg.PageURL = testPage

	_, err := r.Resolve(context.Background(), cfg)

	require.ErrorIs(t, err, ErrSourceFetch)
}

func TestOutcomeLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accepted", outcomeLabel(nil))
	assert.Equal(t, "no_image", outcomeLabel(ErrNoSuitableImage))
	assert.Equal(t, "source_failed", outcomeLabel(&SourceError{URL: testPage, StatusCode: 500}))
	assert.Equal(t, "invalid", outcomeLabel(invalidInput("x")))
	assert.Equal(t, "canceled", outcomeLabel(context.DeadlineExceeded))
	assert.Equal(t, "error", outcomeLabel(errors.New("boom")))
}
