package picker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"
)

// fakeImage is a body the fakeDecoder understands: "img WxH" padded to size bytes.
func fakeImage(w, h, size int) []byte {
	head := []byte(fmt.Sprintf("img %dx%d;", w, h))
	if size > len(head) {
		head = append(head, bytes.Repeat([]byte{'.'}, size-len(head))...)
	}
	return head
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) (DecodedImage, error) {
	var w, h int
	if _, err := fmt.Sscanf(string(data), "img %dx%d;", &w, &h); err != nil {
		return DecodedImage{}, errors.New("image: unknown format")
	}
	return DecodedImage{Image: image.NewGray(image.Rect(0, 0, 1, 1)), Format: "fake", Width: w, Height: h}, nil
}

type fakeResource struct {
	status int
	body   []byte
	// declared overrides the HEAD content length; -1 makes HEAD fail.
	declared int64
	// headStatus and headType override the HEAD answer; the type defaults to image/jpeg.
	headStatus int
	headType   string
	headDelay  time.Duration
	delay      time.Duration
}

type fakeWeb struct {
	mu        sync.Mutex
	resources map[string]fakeResource
	gets      []string
	heads     []string
	headers   []http.Header
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{resources: make(map[string]fakeResource)}
}

func (w *fakeWeb) add(url string, res fakeResource) {
	if res.status == 0 {
		res.status = http.StatusOK
	}
	w.resources[url] = res
}

func (w *fakeWeb) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	w.mu.Lock()
	w.gets = append(w.gets, req.URL)
	w.headers = append(w.headers, req.Headers)
	res, ok := w.resources[req.URL]
	w.mu.Unlock()
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if res.delay > 0 {
		select {
		case <-time.After(res.delay):
		case <-ctx.Done():
			return FetchResponse{}, ctx.Err()
		}
	}
	body := res.body
	if req.MaxBytes > 0 && len(body) > req.MaxBytes {
		body = body[:req.MaxBytes]
	}
	return FetchResponse{
		URL:        req.URL,
		StatusCode: res.status,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       body,
	}, nil
}

func (w *fakeWeb) Head(ctx context.Context, req FetchRequest) (ProbeResult, error) {
	w.mu.Lock()
	w.heads = append(w.heads, req.URL)
	res, ok := w.resources[req.URL]
	w.mu.Unlock()
	if !ok {
		return ProbeResult{StatusCode: http.StatusNotFound}, nil
	}
	if res.headDelay > 0 {
		select {
		case <-time.After(res.headDelay):
		case <-ctx.Done():
			return ProbeResult{}, ctx.Err()
		}
	}
	if res.declared < 0 {
		return ProbeResult{}, errors.New("head not allowed")
	}
	length := res.declared
	if length == 0 {
		length = int64(len(res.body))
	}
	status := res.status
	if res.headStatus != 0 {
		status = res.headStatus
	}
	contentType := res.headType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return ProbeResult{StatusCode: status, ContentType: contentType, ContentLength: length}, nil
}

func (w *fakeWeb) getURLs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.gets...)
}

func (w *fakeWeb) getCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.gets)
}

func (w *fakeWeb) headCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heads)
}

type staticPerson struct {
	has bool
	err error
}

func (p staticPerson) HasPerson(context.Context, image.Image) (bool, error) {
	return p.has, p.err
}

type fakeElement struct {
	tag   string
	attrs map[string]string
}

func (e fakeElement) Tag() string { return e.tag }

func (e fakeElement) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

type fakeMarkup []Element

func (m fakeMarkup) Walk(fn func(Element)) {
	for _, el := range m {
		fn(el)
	}
}

func img(attrs ...string) fakeElement {
	return element("img", attrs...)
}

func element(tag string, attrs ...string) fakeElement {
	el := fakeElement{tag: tag, attrs: make(map[string]string)}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.attrs[attrs[i]] = attrs[i+1]
	}
	return el
}

type fakeParser struct {
	doc Markup
	err error
}

func (p fakeParser) Parse([]byte, string) (Markup, error) { return p.doc, p.err }

// identityShuffler keeps candidate order, making tier runs deterministic.
type identityShuffler struct{}

func (identityShuffler) Shuffle(int, func(i, j int)) {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() (string, error) { return g.id, nil }

type promoteAlways struct{}

func (promoteAlways) ShouldPromote(FetchResponse) bool { return true }
