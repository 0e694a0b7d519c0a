// Package token encodes selection configs into opaque, URL-safe link tokens.
//
// A token is the compact JSON form of the config, zlib-compressed and
// base64url-encoded without padding. It is the whole state of a shareable link.
// Decoding only accepts the exact bytes Encode would produce for the payload,
// so an altered token either fails or decodes to a different config.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/JakeFAU/randimg/internal/picker"
)

// ErrInvalidToken is returned for any token that does not decode cleanly.
var ErrInvalidToken = errors.New("invalid token")

// maxPayload bounds the decompressed size of a token.
const maxPayload = 64 << 10

// tokenEncoding rejects tokens with non-zero trailing bits in the last character.
var tokenEncoding = base64.RawURLEncoding.Strict()

// payload is the canonical wire form. Field order is the JSON key order.
type payload struct {
	URL            string   `json:"url"`
	Exclude        []string `json:"exclude"`
	MinWidth       *int     `json:"min_w,omitempty"`
	MinHeight      *int     `json:"min_h,omitempty"`
	MinBytes       *int     `json:"min_bytes,omitempty"`
	MaxAspect      *float64 `json:"max_ar,omitempty"`
	RequirePerson  *bool    `json:"require_person,omitempty"`
	SmartFallback  *bool    `json:"smart_fallback,omitempty"`
	DisableFilters bool     `json:"disable_filters,omitempty"`
}

// Codec converts between SelectionConfig and tokens. Defaults fill fields
// absent from older, shorter tokens.
type Codec struct {
	defaults picker.Defaults
}

// NewCodec returns a Codec using defaults for missing fields.
func NewCodec(defaults picker.Defaults) *Codec {
	return &Codec{defaults: defaults}
}

// Encode serializes cfg. Every threshold is written so the token does not
// depend on the process defaults at decode time.
func (c *Codec) Encode(cfg picker.SelectionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	p := payload{
		URL:            cfg.PageURL,
		Exclude:        cfg.Exclude,
		MinWidth:       &cfg.MinWidth,
		MinHeight:      &cfg.MinHeight,
		MinBytes:       &cfg.MinBytes,
		MaxAspect:      &cfg.MaxAspect,
		RequirePerson:  &cfg.RequirePerson,
		SmartFallback:  &cfg.SmartFallback,
		DisableFilters: cfg.DisableFilters,
	}
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}

	compressed, err := compress(bytes.TrimSuffix(raw.Bytes(), []byte("\n")))
	if err != nil {
		return "", fmt.Errorf("compress token: %w", err)
	}
	return tokenEncoding.EncodeToString(compressed), nil
}

// Decode parses a token. Any structural or semantic failure returns an error
// wrapping ErrInvalidToken; no partially decoded config is ever returned.
func (c *Codec) Decode(token string) (picker.SelectionConfig, error) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return picker.SelectionConfig{}, invalid("empty token")
	}
	compressed, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return picker.SelectionConfig{}, invalid("bad base64")
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return picker.SelectionConfig{}, invalid("bad compression header")
	}
	defer func() { _ = zr.Close() }()
	raw, err := io.ReadAll(io.LimitReader(zr, maxPayload+1))
	if err != nil {
		return picker.SelectionConfig{}, invalid("bad compressed data")
	}
	if len(raw) > maxPayload {
		return picker.SelectionConfig{}, invalid("payload too large")
	}
	// Deflate ignores the padding bits of its last byte; recompressing
	// catches edits there that the checksum cannot see.
	if canonical, err := compress(raw); err != nil || !bytes.Equal(canonical, compressed) {
		return picker.SelectionConfig{}, invalid("non-canonical compression")
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return picker.SelectionConfig{}, invalid("malformed payload")
	}
	if dec.More() {
		return picker.SelectionConfig{}, invalid("trailing data")
	}

	cfg, err := c.defaults.NewConfig(picker.ConfigInput{
		PageURL:        p.URL,
		Exclude:        p.Exclude,
		MinWidth:       p.MinWidth,
		MinHeight:      p.MinHeight,
		MinBytes:       p.MinBytes,
		MaxAspect:      p.MaxAspect,
		RequirePerson:  p.RequirePerson,
		SmartFallback:  p.SmartFallback,
		DisableFilters: p.DisableFilters,
	})
	if err != nil {
		return picker.SelectionConfig{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return cfg, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidToken, reason)
}
