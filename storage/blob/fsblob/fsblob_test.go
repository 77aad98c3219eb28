package fsblob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/wisbric/gatewayd/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "ns1/f.txt", bytes.NewReader([]byte("hello")), storage.PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	obj, err := s.Get(ctx, "ns1/f.txt")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer obj.Body.Close()

	body, _ := io.ReadAll(obj.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
	if obj.ContentType != "text/plain" {
		t.Errorf("content type = %q, want text/plain", obj.ContentType)
	}
	if obj.Size != 5 {
		t.Errorf("size = %d, want 5", obj.Size)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s, _ := New(t.TempDir())
	_, err := s.Get(context.Background(), "missing")
	if err != storage.ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	_ = s.Put(ctx, "f", bytes.NewReader([]byte("x")), storage.PutOptions{})

	if err := s.Delete(ctx, "f"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	_, err := s.Get(ctx, "f")
	if err != storage.ErrNotFound {
		t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
	}
}

func TestListPrefixAndCursor(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		_ = s.Put(ctx, k, bytes.NewReader([]byte("x")), storage.PutOptions{})
	}

	res, err := s.List(ctx, storage.ListOptions{Prefix: "a/"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(res.Objects) != 2 {
		t.Errorf("List() objects = %+v, want 2", res.Objects)
	}
}
