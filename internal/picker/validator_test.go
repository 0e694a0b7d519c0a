package picker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var strictThresholds = Thresholds{MinWidth: 300, MinHeight: 300, MinBytes: 12000, MaxAspect: 3.8, RequirePerson: true}

func newTestValidator(web *fakeWeb, detector PersonDetector) *Validator {
	return NewValidator(web, web, fakeDecoder{}, detector, ValidatorConfig{UserAgent: "test-agent"}, zap.NewNop())
}

func TestValidatorRejectionOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		res      fakeResource
		detector PersonDetector
		want     Reason
		wantGets int
	}{
		{
			name:     "accepted",
			res:      fakeResource{body: fakeImage(800, 600, 20000)},
			detector: staticPerson{has: true},
			want:     ReasonNone,
			wantGets: 1,
		},
		{
			name:     "declared length too small skips get",
			res:      fakeResource{body: fakeImage(800, 600, 20000), declared: 900},
			want:     ReasonProbeTooSmall,
			wantGets: 0,
		},
		{
			name:     "head error status ignored",
			res:      fakeResource{body: fakeImage(800, 600, 20000), declared: 18, headStatus: http.StatusMethodNotAllowed, headType: "text/plain"},
			detector: staticPerson{has: true},
			want:     ReasonNone,
			wantGets: 1,
		},
		{
			name:     "head error status with image type ignored",
			res:      fakeResource{body: fakeImage(800, 600, 20000), declared: 18, headStatus: http.StatusMethodNotAllowed},
			detector: staticPerson{has: true},
			want:     ReasonNone,
			wantGets: 1,
		},
		{
			name:     "small non-image head ignored",
			res:      fakeResource{body: fakeImage(800, 600, 20000), declared: 900, headType: "text/html; charset=utf-8"},
			detector: staticPerson{has: true},
			want:     ReasonNone,
			wantGets: 1,
		},
		{
			name:     "head failure tolerated",
			res:      fakeResource{body: fakeImage(800, 600, 20000), declared: -1},
			detector: staticPerson{has: true},
			want:     ReasonNone,
			wantGets: 1,
		},
		{
			name:     "non success status",
			res:      fakeResource{status: http.StatusForbidden, body: fakeImage(800, 600, 20000)},
			want:     ReasonFetchFailed,
			wantGets: 1,
		},
		{
			name:     "not an image",
			res:      fakeResource{body: []byte("<html>" + string(make([]byte, 13000)))},
			want:     ReasonDecodeFailed,
			wantGets: 1,
		},
		{
			name:     "body below min bytes",
			res:      fakeResource{body: fakeImage(800, 600, 4000), declared: -1},
			want:     ReasonBytesFailed,
			wantGets: 1,
		},
		{
			name:     "too narrow",
			res:      fakeResource{body: fakeImage(299, 600, 20000)},
			want:     ReasonDimsFailed,
			wantGets: 1,
		},
		{
			name:     "banner aspect",
			res:      fakeResource{body: fakeImage(1600, 400, 20000)},
			want:     ReasonAspectFailed,
			wantGets: 1,
		},
		{
			name:     "no person",
			res:      fakeResource{body: fakeImage(800, 600, 20000)},
			detector: staticPerson{has: false},
			want:     ReasonNoPerson,
			wantGets: 1,
		},
		{
			name:     "detector error counts as no person",
			res:      fakeResource{body: fakeImage(800, 600, 20000)},
			detector: staticPerson{err: errors.New("model unavailable")},
			want:     ReasonNoPerson,
			wantGets: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			web := newFakeWeb()
			web.add("https://img.example/a.jpg", tt.res)
			v := newTestValidator(web, tt.detector)

			out := v.Validate(context.Background(), Check{
				URL:        "https://img.example/a.jpg",
				Referer:    "https://example.com/",
				Thresholds: strictThresholds,
				Budget:     NewBudget(5),
			})

			assert.Equal(t, tt.want, out.Reason, out.Detail)
			assert.Equal(t, tt.want == ReasonNone, out.Accepted)
			assert.Equal(t, "https://img.example/a.jpg", out.URL)
			assert.Equal(t, tt.wantGets, web.getCount())
		})
	}
}

func TestValidatorSendsImageHeaders(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add("https://img.example/a.jpg", fakeResource{body: fakeImage(800, 600, 20000)})
	v := newTestValidator(web, nil)

	out := v.Validate(context.Background(), Check{
		URL:        "https://img.example/a.jpg",
		Referer:    "https://example.com/page",
		Thresholds: strictThresholds,
	})

	require.True(t, out.Accepted, out.Detail)
	require.Len(t, web.headers, 1)
	h := web.headers[0]
	assert.Equal(t, "test-agent", h.Get("User-Agent"))
	assert.Equal(t, "https://example.com/page", h.Get("Referer"))
	assert.Contains(t, h.Get("Accept"), "image/webp")
	assert.Equal(t, 800, out.Width)
	assert.Equal(t, 600, out.Height)
	assert.Equal(t, 20000, out.Bytes)
}

func TestValidatorBudgetExhaustedDoesNoIO(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add("https://img.example/a.jpg", fakeResource{body: fakeImage(800, 600, 20000)})
	v := newTestValidator(web, nil)

	out := v.Validate(context.Background(), Check{
		URL:        "https://img.example/a.jpg",
		Thresholds: strictThresholds,
		Budget:     NewBudget(0),
	})

	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Zero(t, web.getCount())
	assert.Zero(t, web.headCount())
}

func TestValidatorHeadProbesAreCapped(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add("https://img.example/a.jpg", fakeResource{body: fakeImage(800, 600, 20000)})
	v := newTestValidator(web, nil)
	probes := NewBudget(1)

	for range 3 {
		v.Validate(context.Background(), Check{
			URL:        "https://img.example/a.jpg",
			Thresholds: strictThresholds,
			Probes:     probes,
		})
	}

	assert.Equal(t, 1, web.headCount())
	assert.Equal(t, 3, web.getCount())
}

func TestValidatorMinimalMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w, h int
		want bool
	}{
		{name: "too small", w: 50, h: 50, want: false},
		{name: "large enough", w: 150, h: 150, want: true},
		{name: "one side short", w: 500, h: 119, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			web := newFakeWeb()
			web.add("https://img.example/logo.png", fakeResource{body: fakeImage(tt.w, tt.h, 100)})
			v := newTestValidator(web, staticPerson{has: false})

			out := v.Validate(context.Background(), Check{
				URL:     "https://img.example/logo.png",
				Minimal: true,
				Budget:  NewBudget(1),
			})

			assert.Equal(t, tt.want, out.Accepted, out.Detail)
			assert.Zero(t, web.headCount())
		})
	}
}

func TestValidatorCanceledContext(t *testing.T) {
	t.Parallel()
	web := newFakeWeb()
	web.add("https://img.example/slow.jpg", fakeResource{body: fakeImage(800, 600, 20000), delay: 1 << 40})
	v := newTestValidator(web, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := v.Validate(ctx, Check{URL: "https://img.example/slow.jpg", Thresholds: strictThresholds})

	assert.Equal(t, ReasonCanceled, out.Reason)
}

func TestAspectRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 4.0, AspectRatio(400, 100), 1e-9)
	assert.InDelta(t, 4.0, AspectRatio(100, 400), 1e-9)
	assert.InDelta(t, 50.0, AspectRatio(50, 0), 1e-9)
	assert.InDelta(t, 1.0, AspectRatio(10, 10), 1e-9)
}
