// Package kv provides the HTTP surface for namespaced key-value operations:
// get, set, delete, keys, bulk/get, bulk/set, namespaces, dump.
package kv

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/storage"
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// Handler serves /kv/{get,set,delete,keys,bulk/get,bulk/set,namespaces,dump}.
type Handler struct {
	kv         storage.KVStore
	identities *identity.Service
}

// NewHandler creates a kv Handler.
func NewHandler(kv storage.KVStore, identities *identity.Service) *Handler {
	return &Handler{kv: kv, identities: identities}
}

// Routes mounts the kv routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/get", h.handleGet)
	r.Post("/set", h.handleSet)
	r.Post("/delete", h.handleDelete)
	r.Post("/keys", h.handleKeys)
	r.Post("/bulk/get", h.handleBulkGet)
	r.Post("/bulk/set", h.handleBulkSet)
	r.Post("/namespaces", h.handleNamespaces)
	r.Post("/dump", h.handleDump)
	return r
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

// checkWriteNamespace enforces the namespace format and ownership for
// mutating operations; reserved-prefix namespaces (leading "__") may still
// be read via get/keys, matching the store's own __ORG quirk (dump and
// namespaces leave them out), but may never be written through the raw
// endpoint.
func (h *Handler) checkWriteNamespace(r *http.Request, namespace string) *apierr.Error {
	if !namespacePattern.MatchString(namespace) || strings.HasPrefix(namespace, "__") {
		return apierr.InvalidRequest("namespace must match ^[A-Za-z0-9._~:-]+$ and may not start with __")
	}
	ident := auth.FromContext(r.Context())
	if ident == nil {
		return apierr.Unauthorized("identity-bound credential required")
	}
	ok, err := h.identities.CanAddressNamespace(r.Context(), *ident, namespace)
	if err != nil {
		return apierr.Upstream("checking namespace ownership")
	}
	if !ok {
		return apierr.Forbidden("identity may not address this namespace")
	}
	return nil
}

type getRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Key       string `json:"key" validate:"required"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req getRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	value, ok, err := h.kv.Get(r.Context(), namespacedKey(req.Namespace, req.Key))
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("reading key"))
		return
	}
	if !ok {
		apierr.RespondError(w, nil, apierr.NotFound("key not found"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"value": value})
}

type setRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Key       string `json:"key" validate:"required"`
	Value     string `json:"value"`
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.checkWriteNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	if err := h.kv.Put(r.Context(), namespacedKey(req.Namespace, req.Key), req.Value); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("writing key"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.checkWriteNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	if err := h.kv.Delete(r.Context(), namespacedKey(req.Namespace, req.Key)); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("deleting key"))
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type keysRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Cursor    string `json:"cursor"`
	Limit     int    `json:"limit"`
}

func (h *Handler) handleKeys(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req keysRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	prefix := req.Namespace + ":"
	result, err := h.kv.List(r.Context(), storage.ListOptions{Prefix: prefix, Cursor: req.Cursor, Limit: req.Limit})
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("listing keys"))
		return
	}
	keys := make([]string, 0, len(result.Keys))
	for _, k := range result.Keys {
		keys = append(keys, strings.TrimPrefix(k.Name, prefix))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"keys":         keys,
		"cursor":       result.Cursor,
		"listComplete": result.ListComplete,
	})
}

type bulkGetRequest struct {
	Namespace string   `json:"namespace" validate:"required"`
	Keys      []string `json:"keys" validate:"required,min=1"`
}

func (h *Handler) handleBulkGet(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req bulkGetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	values := make(map[string]string, len(req.Keys))
	for _, k := range req.Keys {
		if v, ok, err := h.kv.Get(r.Context(), namespacedKey(req.Namespace, k)); err == nil && ok {
			values[k] = v
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"values": values})
}

type bulkSetRequest struct {
	Namespace string            `json:"namespace" validate:"required"`
	Entries   map[string]string `json:"entries" validate:"required,min=1"`
}

func (h *Handler) handleBulkSet(w http.ResponseWriter, r *http.Request) {
	var req bulkSetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.checkWriteNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	for k, v := range req.Entries {
		if err := h.kv.Put(r.Context(), namespacedKey(req.Namespace, k), v); err != nil {
			apierr.RespondError(w, nil, apierr.Upstream("writing entries"))
			return
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	result, err := h.kv.List(r.Context(), storage.ListOptions{})
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("listing keys"))
		return
	}
	seen := map[string]struct{}{}
	var namespaces []string
	for _, k := range result.Keys {
		if strings.HasPrefix(k.Name, "__") {
			continue
		}
		ns, _, ok := strings.Cut(k.Name, ":")
		if !ok {
			continue
		}
		if _, dup := seen[ns]; dup {
			continue
		}
		seen[ns] = struct{}{}
		namespaces = append(namespaces, ns)
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

func (h *Handler) handleDump(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	result, err := h.kv.List(r.Context(), storage.ListOptions{})
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("listing keys"))
		return
	}
	byNamespace := map[string]map[string]string{}
	for _, k := range result.Keys {
		if strings.HasPrefix(k.Name, "__") {
			continue
		}
		ns, key, ok := strings.Cut(k.Name, ":")
		if !ok {
			continue
		}
		v, found, err := h.kv.Get(r.Context(), k.Name)
		if err != nil || !found {
			continue
		}
		if byNamespace[ns] == nil {
			byNamespace[ns] = map[string]string{}
		}
		byNamespace[ns][key] = v
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"namespaces": byNamespace})
}
