package httpserver

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
)

const (
	// DefaultListLimit is the default number of items per KV/blob list page.
	DefaultListLimit = 50
	// MaxListLimit is the maximum allowed KV/blob list page size.
	MaxListLimit = 1000

	// DefaultChannelReadLimit is the default number of events per channel read.
	DefaultChannelReadLimit = 50
	// MaxChannelReadLimit is the maximum number of events per channel read.
	MaxChannelReadLimit = 100
)

// EncodeListCursor turns the last-seen key name into an opaque, URL-safe
// cursor string for KVStore.list / BlobStore.list continuations.
func EncodeListCursor(lastKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeListCursor recovers the last-seen key name from an opaque cursor
// produced by EncodeListCursor.
func DecodeListCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	return string(raw), nil
}

// ParseLimit extracts a bounded "limit" query parameter, falling back to def
// and clamping to max.
func ParseLimit(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
