package stateful

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/gatewayd/storage/kv/memkv"
)

func TestClaimRaceExactlyOneWinner(t *testing.T) {
	s := NewService(memkv.New())
	ctx := context.Background()

	tok, err := s.CreateIdentityClaim(ctx, CreateIdentityClaimInput{
		IdentityID: "ident_abc",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateIdentityClaim() error: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, tok.ID); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("successful claims = %d, want exactly 1", count)
	}
}

func TestClaimExpiredRejected(t *testing.T) {
	s := NewService(memkv.New())
	ctx := context.Background()

	tok, _ := s.CreateIdentityClaim(ctx, CreateIdentityClaimInput{IdentityID: "ident_x", TTL: -time.Second})
	_, err := s.Claim(ctx, tok.ID)
	if err != ErrExpiredOrUsed {
		t.Errorf("Claim() error = %v, want ErrExpiredOrUsed", err)
	}
}

func TestClaimRevokedRejected(t *testing.T) {
	s := NewService(memkv.New())
	ctx := context.Background()

	tok, _ := s.CreateIdentityClaim(ctx, CreateIdentityClaimInput{IdentityID: "ident_x", TTL: time.Minute})
	if err := s.Revoke(ctx, tok.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	_, err := s.Claim(ctx, tok.ID)
	if err != ErrExpiredOrUsed {
		t.Errorf("Claim() after Revoke() error = %v, want ErrExpiredOrUsed", err)
	}
}

func TestBlobAccessLookup(t *testing.T) {
	s := NewService(memkv.New())
	ctx := context.Background()

	tok, err := s.CreateBlobAccess(ctx, CreateBlobAccessInput{
		Blob: BlobAccessPayload{Bucket: "b", Key: "k", ContentType: "text/plain", ContentLength: 5},
		TTL:  time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateBlobAccess() error: %v", err)
	}

	got, err := s.Lookup(ctx, tok.ID)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if got.Blob == nil || got.Blob.Key != "k" {
		t.Errorf("Lookup() blob = %+v, want key k", got.Blob)
	}
}
