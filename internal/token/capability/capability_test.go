package capability

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("channel-secret-at-least-32-bytes!!"))

	raw, err := issuer.Issue(IssueInput{
		ChannelID:   "abc123",
		Permissions: []Permission{PermRead, PermAppend},
		AuthorID:    "alice",
		TTL:         time.Minute,
	})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if !strings.HasPrefix(raw, "v1.") {
		t.Fatalf("Issue() = %q, want v1. prefix", raw)
	}

	claims, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.ChannelID != "abc123" || claims.AuthorID != "alice" {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.Has(PermRead) || !claims.Has(PermAppend) || claims.Has(PermDeleteAny) {
		t.Errorf("claims.Has() mismatched: %+v", claims)
	}
}

func TestIssueDefaultsAuthorIDWhenEmpty(t *testing.T) {
	issuer := NewIssuer([]byte("channel-secret-at-least-32-bytes!!"))
	raw, err := issuer.Issue(IssueInput{ChannelID: "x", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	claims, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if len(claims.AuthorID) != 4 {
		t.Errorf("AuthorID = %q, want 4-hex nonce", claims.AuthorID)
	}
}

func TestVerifyRejectsUnknownVersion(t *testing.T) {
	issuer := NewIssuer([]byte("channel-secret-at-least-32-bytes!!"))
	raw, _ := issuer.Issue(IssueInput{ChannelID: "x", TTL: time.Minute})
	tampered := "v2." + strings.TrimPrefix(raw, "v1.")

	_, err := issuer.Verify(tampered)
	if err == nil {
		t.Error("Verify() should reject unknown version prefix")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuerA := NewIssuer([]byte("secret-a-at-least-32-bytes-long!!!"))
	issuerB := NewIssuer([]byte("secret-b-at-least-32-bytes-long!!!"))

	raw, _ := issuerA.Issue(IssueInput{ChannelID: "x", TTL: time.Minute})
	_, err := issuerB.Verify(raw)
	if err == nil {
		t.Error("Verify() should reject a token signed with a different channel secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer([]byte("channel-secret-at-least-32-bytes!!"))
	raw, _ := issuer.Issue(IssueInput{ChannelID: "x", TTL: -time.Second})

	_, err := issuer.Verify(raw)
	if err == nil {
		t.Error("Verify() should reject an expired token")
	}
}
