package picker

import (
	"context"
	"image"
	"time"
)

// Fetcher performs a GET and returns the (capped) body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Prober issues a HEAD request and reports the declared type and length.
type Prober interface {
	Head(ctx context.Context, request FetchRequest) (ProbeResult, error)
}

// Decoder decodes and structurally verifies image bytes.
type Decoder interface {
	Decode(data []byte) (DecodedImage, error)
}

// PersonDetector reports whether a person is visible in an image.
type PersonDetector interface {
	HasPerson(ctx context.Context, img image.Image) (bool, error)
}

// HeadlessDetector decides whether a page fetch should be re-run in a browser.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Element is the attribute lookup surface the extractor reads.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
}

// Markup walks candidate-bearing elements of a parsed page in document order.
type Markup interface {
	Walk(fn func(Element))
}

// MarkupParser turns a page body into a Markup.
type MarkupParser interface {
	Parse(body []byte, contentType string) (Markup, error)
}

// Shuffler permutes n items in place; *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces report IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
