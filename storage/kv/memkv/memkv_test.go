package memkv

import (
	"context"
	"testing"

	"github.com/wisbric/gatewayd/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "ns1:a", "hello"); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	v, ok, err := s.Get(ctx, "ns1:a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || v != "hello" {
		t.Errorf("Get() = %q, %v, want hello, true", v, ok)
	}
}

func TestGetReservedOrgPermissionsSynthesized(t *testing.T) {
	s := New()
	v, ok, err := s.Get(context.Background(), "__ORG:permissions")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || v != "{}" {
		t.Errorf("Get() = %q, %v, want {}, true", v, ok)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, "ns1:a", "x")
	if err := s.Delete(ctx, "ns1:a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	_, ok, _ := s.Get(ctx, "ns1:a")
	if ok {
		t.Error("expected key to be gone after Delete()")
	}
}

func TestListPrefixAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"ns1:a", "ns1:b", "ns1:c", "ns2:a"} {
		_ = s.Put(ctx, k, "v")
	}

	res, err := s.List(ctx, storage.ListOptions{Prefix: "ns1:", Limit: 2})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(res.Keys) != 2 || res.ListComplete {
		t.Fatalf("List() = %+v, want 2 keys, incomplete", res)
	}
	if res.Keys[0].Name != "ns1:a" || res.Keys[1].Name != "ns1:b" {
		t.Errorf("List() keys = %+v, want lexicographic order", res.Keys)
	}

	res2, err := s.List(ctx, storage.ListOptions{Prefix: "ns1:", Cursor: res.Cursor})
	if err != nil {
		t.Fatalf("List() continuation error: %v", err)
	}
	if len(res2.Keys) != 1 || res2.Keys[0].Name != "ns1:c" || !res2.ListComplete {
		t.Errorf("List() continuation = %+v, want [ns1:c], complete", res2)
	}
}
