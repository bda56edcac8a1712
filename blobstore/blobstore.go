// Package blobstore stores message media and hands back retrieval URLs.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MediaKind is the message field a blob belongs to.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case KindImage, KindAudio, KindVideo:
		return true
	}
	return false
}

// ErrInvalidDataURL is returned for malformed or mismatched data URLs.
var ErrInvalidDataURL = errors.New("invalid data url")

// Store uploads media bytes and returns a URL that serves them.
type Store interface {
	Upload(ctx context.Context, data []byte, kind MediaKind) (string, error)
}

// Deleter is implemented by stores that can remove an uploaded blob.
type Deleter interface {
	Delete(ctx context.Context, url string) error
}

// ParseDataURL decodes "data:<mime>[;param...];base64,<payload>" and checks
// that the mime type belongs to kind's family (image/*, audio/*, video/*).
func ParseDataURL(raw string, kind MediaKind) ([]byte, string, error) {
	if !kind.Valid() {
		return nil, "", fmt.Errorf("%w: unknown media kind %q", ErrInvalidDataURL, kind)
	}

	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}

	params := strings.Split(header, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if params[len(params)-1] != "base64" {
		return nil, "", fmt.Errorf("%w: only base64 payloads are accepted", ErrInvalidDataURL)
	}

	family, _, ok := strings.Cut(mimeType, "/")
	if !ok || family != string(kind) {
		return nil, "", fmt.Errorf("%w: %q is not a %s type", ErrInvalidDataURL, mimeType, kind)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode base64: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}

	return data, mimeType, nil
}
