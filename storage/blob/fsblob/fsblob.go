// Package fsblob is a filesystem-backed BlobStore, the default local
// deployment backend when no S3-compatible service is configured.
package fsblob

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wisbric/gatewayd/internal/storage"
)

// Store is a BlobStore rooted at a directory. Keys are base64url-encoded
// into filenames so arbitrary key strings (including slashes) are safe on
// disk without mirroring a directory tree per namespace.
type Store struct {
	root string
}

// New creates an fsblob Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.root, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (s *Store) metaPathFor(key string) string {
	return s.pathFor(key) + ".meta"
}

func (s *Store) Get(_ context.Context, key string) (*storage.BlobObject, error) {
	f, err := os.Open(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statting blob: %w", err)
	}

	contentType := "application/octet-stream"
	if raw, err := os.ReadFile(s.metaPathFor(key)); err == nil {
		contentType = string(raw)
	}

	return &storage.BlobObject{Body: f, Size: info.Size(), ContentType: contentType}, nil
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, opts storage.PutOptions) error {
	f, err := os.Create(s.pathFor(key))
	if err != nil {
		return fmt.Errorf("creating blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := os.WriteFile(s.metaPathFor(key), []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("writing blob metadata: %w", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	_ = os.Remove(s.metaPathFor(key))
	return nil
}

func (s *Store) List(_ context.Context, opts storage.ListOptions) (storage.BlobListResult, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return storage.BlobListResult{}, fmt.Errorf("listing blobs: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(e.Name())
		if err != nil {
			continue
		}
		key := string(raw)
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if opts.Cursor != "" {
		idx := sort.SearchStrings(keys, opts.Cursor)
		if idx < len(keys) && keys[idx] == opts.Cursor {
			idx++
		}
		keys = keys[idx:]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = len(keys)
	}

	result := storage.BlobListResult{}
	truncated := len(keys) > limit
	if truncated {
		keys = keys[:limit]
	}
	result.Truncated = truncated
	if truncated && len(keys) > 0 {
		result.Cursor = keys[len(keys)-1]
	}

	for _, k := range keys {
		info, err := os.Stat(s.pathFor(k))
		if err != nil {
			continue
		}
		result.Objects = append(result.Objects, storage.BlobListEntry{Key: k, Size: info.Size()})
	}
	return result, nil
}
