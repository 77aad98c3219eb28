package shortlink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/storage/kv/memkv"
	"github.com/wisbric/gatewayd/storage/shortlink/memshortlink"
)

func TestCreateThenRedirect(t *testing.T) {
	kv := memkv.New()
	identities := identity.NewService(kv)
	links := memshortlink.New()
	h := NewHandler(nil, links)

	created, err := identities.CreateIdentity(context.Background(), identity.CreateIdentityInput{DisplayName: "owner"})
	if err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}
	mw := auth.Middleware(identities, "", nil)
	mux := mw(h.Routes())

	body, _ := json.Marshal(createRequest{TargetURL: "https://example.com/widgets"})
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	r.Header.Set("Authorization", "ApiKey "+created.Secret)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp createResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	redirectMux := h.RedirectRoutes()
	r = httptest.NewRequest(http.MethodGet, "/"+resp.ID, nil)
	w = httptest.NewRecorder()
	redirectMux.ServeHTTP(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("redirect status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://example.com/widgets" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRedirectUnknownIDNotFound(t *testing.T) {
	h := NewHandler(nil, memshortlink.New())
	redirectMux := h.RedirectRoutes()
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	redirectMux.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
