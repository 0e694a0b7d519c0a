package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/randimg/internal/picker"
)

// parseFlag reports the boolean form of a query flag. Only 1, true, True and
// on are truthy; an absent or empty value returns nil so defaults apply.
func parseFlag(raw string) *bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v := false
	switch raw {
	case "1", "true", "True", "on":
		v = true
	}
	return &v
}

func parseConfigInput(q url.Values) (picker.ConfigInput, error) {
	pageURL := strings.TrimSpace(q.Get("url"))
	if pageURL == "" {
		return picker.ConfigInput{}, fmt.Errorf("%w: missing ?url=", picker.ErrInvalidInput)
	}
	in := picker.ConfigInput{
		PageURL:       pageURL,
		Exclude:       picker.SplitKeywords(q.Get("exclude")),
		RequirePerson: parseFlag(q.Get("require_person")),
		SmartFallback: parseFlag(q.Get("smart_fallback")),
	}
	if f := parseFlag(q.Get("disable_filters")); f != nil {
		in.DisableFilters = *f
	}

	var err error
	if in.MinWidth, err = optionalInt(q, "min_w"); err != nil {
		return picker.ConfigInput{}, err
	}
	if in.MinHeight, err = optionalInt(q, "min_h"); err != nil {
		return picker.ConfigInput{}, err
	}
	if in.MinBytes, err = optionalInt(q, "min_bytes"); err != nil {
		return picker.ConfigInput{}, err
	}
	if raw := strings.TrimSpace(q.Get("max_ar")); raw != "" {
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return picker.ConfigInput{}, fmt.Errorf("%w: max_ar must be a number", picker.ErrInvalidInput)
		}
		in.MaxAspect = &v
	}
	return in, nil
}

func optionalInt(q url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", picker.ErrInvalidInput, key)
	}
	return &v, nil
}
