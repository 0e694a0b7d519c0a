package picker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks requests rejected before any network access.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSourceFetch marks an unreachable or failing source page.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrNoSuitableImage means the page loaded but no candidate passed any tier.
	ErrNoSuitableImage = errors.New("no suitable image found after filtering")
)

// SourceError describes a failed page fetch.
type SourceError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch page %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch page %s: %v", e.URL, e.Err)
}

// Unwrap exposes both the sentinel and the transport error.
func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSourceFetch}
	}
	return []error{ErrSourceFetch, e.Err}
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
