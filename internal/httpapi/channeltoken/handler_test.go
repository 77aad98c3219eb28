package channeltoken

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/token/stateful"
	"github.com/wisbric/gatewayd/storage/kv/memkv"
)

func newFixture(t *testing.T) (http.Handler, *stateful.Service, string) {
	t.Helper()
	kv := memkv.New()
	identities := identity.NewService(kv)
	tokens := stateful.NewService(kv)
	h := NewHandler(nil, tokens, identities)

	created, err := identities.CreateIdentity(context.Background(), identity.CreateIdentityInput{DisplayName: "owner"})
	if err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}

	mw := auth.OptionalMiddleware(identities, "", nil)
	return mw(h.Routes()), tokens, created.Secret
}

func TestSecondClaimOfUsedTokenConflicts(t *testing.T) {
	mux, tokens, secret := newFixture(t)

	tok, err := tokens.CreateIdentityClaim(context.Background(), stateful.CreateIdentityClaimInput{
		IdentityID: "ident_abc",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateIdentityClaim() error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/claim", bytes.NewReader(mustJSON(t, map[string]string{"tokenId": tok.ID})))
	r.Header.Set("Authorization", "ApiKey "+secret)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body = %s", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodPost, "/claim", bytes.NewReader(mustJSON(t, map[string]string{"tokenId": tok.ID})))
	r.Header.Set("Authorization", "ApiKey "+secret)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusConflict {
		t.Errorf("second claim status = %d, want 409", w.Code)
	}
}

func TestClaimActivatesInvitedIdentity(t *testing.T) {
	kv := memkv.New()
	identities := identity.NewService(kv)
	tokens := stateful.NewService(kv)
	h := NewHandler(nil, tokens, identities)

	owner, err := identities.CreateIdentity(context.Background(), identity.CreateIdentityInput{DisplayName: "owner"})
	if err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}
	mux := auth.OptionalMiddleware(identities, "", nil)(h.Routes())

	claimable, err := identities.CreateClaimable(context.Background(), identity.CreateClaimableInput{DisplayName: "invitee", CreatedBy: owner.Identity.ID})
	if err != nil {
		t.Fatalf("CreateClaimable() error: %v", err)
	}
	tok, err := tokens.CreateIdentityClaim(context.Background(), stateful.CreateIdentityClaimInput{
		IdentityID: claimable.ID,
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateIdentityClaim() error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/claim", bytes.NewReader(mustJSON(t, map[string]string{"tokenId": tok.ID})))
	r.Header.Set("Authorization", "ApiKey "+owner.Secret)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp tokenResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Identity == nil || resp.Identity.Secret == "" {
		t.Fatalf("expected activated identity with secret, got %+v", resp)
	}

	activated, err := identities.GetIdentity(context.Background(), claimable.ID)
	if err != nil {
		t.Fatalf("GetIdentity() error: %v", err)
	}
	if activated.Status != identity.StatusActive {
		t.Errorf("status = %s, want active", activated.Status)
	}
}

func TestClaimRequiresNoAuthorizationHeader(t *testing.T) {
	mux, tokens, _ := newFixture(t)

	tok, err := tokens.CreateIdentityClaim(context.Background(), stateful.CreateIdentityClaimInput{
		IdentityID: "ident_abc",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateIdentityClaim() error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/claim", bytes.NewReader(mustJSON(t, map[string]string{"tokenId": tok.ID})))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
