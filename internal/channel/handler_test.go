package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/storage/channel/memchannel"
	"github.com/wisbric/gatewayd/storage/kv/memkv"
)

type testFixture struct {
	mux        http.Handler
	identities *identity.Service
	secret     string
}

func newTestFixture(t *testing.T) testFixture {
	t.Helper()
	kv := memkv.New()
	identities := identity.NewService(kv)
	engine := NewEngine(memchannel.New(), kv)
	h := NewHandler(nil, engine, identities)

	created, err := identities.CreateIdentity(context.Background(), identity.CreateIdentityInput{DisplayName: "owner"})
	if err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}

	mw := auth.OptionalMiddleware(identities, "", nil)
	return testFixture{mux: mw(h.Routes()), identities: identities, secret: created.Secret}
}

func (f testFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	r.Header.Set("Authorization", "ApiKey "+f.secret)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func TestHandlerCreateAndAppendAndRead(t *testing.T) {
	f := newTestFixture(t)

	w := f.post(t, "/create", map[string]string{"namespace": "ns1", "name": "room"})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created channelMetaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = f.post(t, "/append", map[string]any{"channelId": created.ChannelID, "content": "hello", "authorId": "owner"})
	if w.Code != http.StatusOK {
		t.Fatalf("append status = %d, body = %s", w.Code, w.Body.String())
	}

	w = f.post(t, "/read", map[string]any{"channelId": created.ChannelID, "limit": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, body = %s", w.Code, w.Body.String())
	}
	var readResp struct {
		Events []eventResp `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &readResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(readResp.Events) != 1 || readResp.Events[0].Content != "hello" {
		t.Errorf("events = %+v", readResp.Events)
	}
}

func TestHandlerCreateRejectsForeignNamespace(t *testing.T) {
	f := newTestFixture(t)

	// A second identity (not the first-created admin-equivalent) without any
	// grant may not address ns1.
	second, err := f.identities.CreateIdentity(context.Background(), identity.CreateIdentityInput{DisplayName: "second"})
	if err != nil {
		t.Fatalf("CreateIdentity() error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/create", bytes.NewReader(mustJSON(t, map[string]string{"namespace": "ns1", "name": "room"})))
	r.Header.Set("Authorization", "ApiKey "+second.Secret)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestHandlerTokenScopedAppendAndDeleteEvent(t *testing.T) {
	f := newTestFixture(t)

	w := f.post(t, "/create", map[string]string{"namespace": "ns1", "name": "room"})
	var created channelMetaResponse
	json.Unmarshal(w.Body.Bytes(), &created)

	w = f.post(t, "/token/create", map[string]any{
		"channelId":        created.ChannelID,
		"namespace":        "ns1",
		"permissions":      []string{"read", "append"},
		"authorId":         "guest",
		"expiresInSeconds": 60,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token/create status = %d, body = %s", w.Code, w.Body.String())
	}
	var tokenResp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &tokenResp)

	r := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(mustJSON(t, map[string]string{
		"channelId": created.ChannelID,
		"content":   "hi from guest",
	})))
	r.Header.Set("X-Channel-Token", tokenResp.Token)
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("token append status = %d, body = %s", w.Code, w.Body.String())
	}
	var ev eventResp
	json.Unmarshal(w.Body.Bytes(), &ev)
	if ev.AuthorID != "guest" {
		t.Errorf("authorId = %q, want guest", ev.AuthorID)
	}

	// The guest token was issued without delete permissions, so deleting its
	// own event must be forbidden.
	r = httptest.NewRequest(http.MethodPost, "/delete-event", bytes.NewReader(mustJSON(t, map[string]any{
		"channelId": created.ChannelID,
		"targetSeq": ev.Seq,
	})))
	r.Header.Set("X-Channel-Token", tokenResp.Token)
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("delete-event status = %d, want 403, body = %s", w.Code, w.Body.String())
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
