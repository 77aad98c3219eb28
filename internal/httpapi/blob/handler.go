// Package blob provides the HTTP surface for blob operations: authenticated
// upload/get/delete/list/presign-upload/visibility, plus the pre-auth
// public, signed-download, and gateway-terminated presigned routes.
package blob

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/presign"
	"github.com/wisbric/gatewayd/internal/storage"
	"github.com/wisbric/gatewayd/internal/token/stateful"
)

// Visibility enumerates who may fetch a blob without an identity credential.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityPresign Visibility = "presigned"
)

const visibilityPrefix = "__BLOB_VIS:"

// Handler serves the blob routes.
type Handler struct {
	blobs      storage.BlobStore
	kv         storage.KVStore
	identities *identity.Service
	presigner  presign.Presigner
	tokens     *stateful.Service
	bucket     string
	presignTTL time.Duration
}

// NewHandler creates a blob Handler.
func NewHandler(blobs storage.BlobStore, kv storage.KVStore, identities *identity.Service, presigner presign.Presigner, tokens *stateful.Service, bucket string, presignTTL time.Duration) *Handler {
	return &Handler{
		blobs:      blobs,
		kv:         kv,
		identities: identities,
		presigner:  presigner,
		tokens:     tokens,
		bucket:     bucket,
		presignTTL: presignTTL,
	}
}

func blobKey(namespace, key string) string {
	return namespace + "/" + key
}

// Routes mounts the authenticated /blob/{upload,get,delete,list,
// presign-upload,visibility} routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/upload", h.handleUpload)
	r.Post("/get", h.handleGet)
	r.Post("/delete", h.handleDelete)
	r.Post("/list", h.handleList)
	r.Post("/presign-upload", h.handlePresignUpload)
	r.Post("/visibility", h.handleVisibility)
	return r
}

// PublicRoutes mounts the pre-auth /blob/public/* and /blob/download/*
// routes.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/public/*", h.handlePublicDownload)
	r.Get("/download/*", h.handleSignedDownload)
	return r
}

// PresignedRoutes mounts the pre-auth gateway-terminated presigned routes.
func (h *Handler) PresignedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Put("/presigned-put", h.handlePresignedPut)
	r.Get("/presigned-get", h.handlePresignedGet)
	return r
}

// Mount wires all /blob routes onto parent under a single prefix: the
// public, signed-download, and gateway-terminated presigned routes run
// ahead of authMW, and the upload/get/delete/list/presign-upload/visibility
// routes run behind it.
func (h *Handler) Mount(parent chi.Router, authMW func(http.Handler) http.Handler) {
	parent.Route("/blob", func(r chi.Router) {
		r.Get("/public/*", h.handlePublicDownload)
		r.Get("/download/*", h.handleSignedDownload)
		r.Put("/presigned-put", h.handlePresignedPut)
		r.Get("/presigned-get", h.handlePresignedGet)
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Mount("/", h.Routes())
		})
	})
}

func (h *Handler) requireNamespace(r *http.Request, namespace string) *apierr.Error {
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

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	namespace := r.Header.Get("X-Blob-Namespace")
	key := r.Header.Get("X-Blob-Key")
	if namespace == "" || key == "" {
		apierr.RespondError(w, nil, apierr.InvalidRequest("X-Blob-Namespace and X-Blob-Key headers are required"))
		return
	}
	if apiErr := h.requireNamespace(r, namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.blobs.Put(r.Context(), blobKey(namespace, key), r.Body, storage.PutOptions{ContentType: contentType}); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("writing blob"))
		return
	}

	if vis := r.Header.Get("X-Blob-Visibility"); vis != "" {
		_ = h.kv.Put(r.Context(), visibilityPrefix+blobKey(namespace, key), vis)
	} else if r.Header.Get("X-Blob-Public") == "true" {
		_ = h.kv.Put(r.Context(), visibilityPrefix+blobKey(namespace, key), string(VisibilityPublic))
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

type blobRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Key       string `json:"key" validate:"required"`
}

type getResponse struct {
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	var req blobRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.requireNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}

	obj, err := h.blobs.Get(r.Context(), blobKey(req.Namespace, req.Key))
	if err != nil {
		respondBlobError(w, err)
		return
	}
	defer obj.Body.Close()

	url, err := h.presigner.PresignDownload(r.Context(), h.bucket, blobKey(req.Namespace, req.Key), h.presignTTL)
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("presigning download"))
		return
	}
	httpserver.Respond(w, http.StatusOK, getResponse{ContentType: obj.ContentType, Size: obj.Size, DownloadURL: url})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req blobRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.requireNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	if err := h.blobs.Delete(r.Context(), blobKey(req.Namespace, req.Key)); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("deleting blob"))
		return
	}
	_ = h.kv.Delete(r.Context(), visibilityPrefix+blobKey(req.Namespace, req.Key))
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type listRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Cursor    string `json:"cursor"`
	Limit     int    `json:"limit"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.requireNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	prefix := req.Namespace + "/"
	result, err := h.blobs.List(r.Context(), storage.ListOptions{Prefix: prefix, Cursor: req.Cursor, Limit: req.Limit})
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("listing blobs"))
		return
	}
	entries := make([]map[string]any, 0, len(result.Objects))
	for _, o := range result.Objects {
		entries = append(entries, map[string]any{"key": strings.TrimPrefix(o.Key, prefix), "size": o.Size})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"objects": entries, "cursor": result.Cursor, "truncated": result.Truncated})
}

type presignUploadRequest struct {
	Namespace     string `json:"namespace" validate:"required"`
	Key           string `json:"key" validate:"required"`
	ContentType   string `json:"contentType"`
	Size          int64  `json:"size" validate:"required,gt=0"`
}

type presignUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
}

func (h *Handler) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	var req presignUploadRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.requireNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	url, err := h.presigner.PresignUpload(r.Context(), h.bucket, blobKey(req.Namespace, req.Key), req.ContentType, req.Size, h.presignTTL)
	if err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("presigning upload"))
		return
	}
	httpserver.Respond(w, http.StatusOK, presignUploadResponse{UploadURL: url})
}

type visibilityRequest struct {
	Namespace  string `json:"namespace" validate:"required"`
	Key        string `json:"key" validate:"required"`
	Visibility string `json:"visibility" validate:"required,oneof=public private presigned"`
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if apiErr := h.requireNamespace(r, req.Namespace); apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	if err := h.kv.Put(r.Context(), visibilityPrefix+blobKey(req.Namespace, req.Key), req.Visibility); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("setting visibility"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePublicDownload serves GET /blob/public/{namespace}/{key...} without
// any credential, gated purely on the stored visibility flag.
func (h *Handler) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
	namespace, key, ok := splitPublicPath(chi.URLParam(r, "*"))
	if !ok {
		apierr.RespondError(w, nil, apierr.InvalidRequest("path must be /public/{namespace}/{key}"))
		return
	}
	vis, _, _ := h.kv.Get(r.Context(), visibilityPrefix+blobKey(namespace, key))
	if vis != string(VisibilityPublic) {
		apierr.RespondError(w, nil, apierr.NotFound("object not found"))
		return
	}
	h.streamBlob(w, r, blobKey(namespace, key))
}

// handleSignedDownload serves GET /blob/download/{namespace}/{key...}?token=
// by claiming the token and checking it authorizes exactly this object.
func (h *Handler) handleSignedDownload(w http.ResponseWriter, r *http.Request) {
	namespace, key, ok := splitPublicPath(chi.URLParam(r, "*"))
	if !ok {
		apierr.RespondError(w, nil, apierr.InvalidRequest("path must be /download/{namespace}/{key}"))
		return
	}
	tok, apiErr := h.claimBlobToken(r, blobKey(namespace, key))
	if apiErr != nil {
		apierr.RespondError(w, nil, apiErr)
		return
	}
	_ = tok
	h.streamBlob(w, r, blobKey(namespace, key))
}

func (h *Handler) handlePresignedPut(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		apierr.RespondError(w, nil, apierr.Unauthorized("missing token"))
		return
	}
	tok, err := h.tokens.Claim(r.Context(), tokenID)
	if err != nil {
		respondTokenClaimError(w, err)
		return
	}
	if tok.Action != stateful.ActionBlobAccess || tok.Blob == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("token does not authorize blob access"))
		return
	}

	contentLength, _ := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64)
	if r.Header.Get("Content-Type") != tok.Blob.ContentType || contentLength != tok.Blob.ContentLength {
		apierr.RespondError(w, nil, apierr.InvalidRequest("content-type or content-length does not match the presigned token"))
		return
	}

	if err := h.blobs.Put(r.Context(), tok.Blob.Key, r.Body, storage.PutOptions{ContentType: tok.Blob.ContentType}); err != nil {
		apierr.RespondError(w, nil, apierr.Upstream("writing blob"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handlePresignedGet(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		apierr.RespondError(w, nil, apierr.Unauthorized("missing token"))
		return
	}
	tok, err := h.tokens.Claim(r.Context(), tokenID)
	if err != nil {
		respondTokenClaimError(w, err)
		return
	}
	if tok.Action != stateful.ActionBlobAccess || tok.Blob == nil {
		apierr.RespondError(w, nil, apierr.Unauthorized("token does not authorize blob access"))
		return
	}
	h.streamBlob(w, r, tok.Blob.Key)
}

func (h *Handler) claimBlobToken(r *http.Request, wantKey string) (stateful.Token, *apierr.Error) {
	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		return stateful.Token{}, apierr.Unauthorized("missing token")
	}
	tok, err := h.tokens.Claim(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, stateful.ErrClaimLost) {
			return stateful.Token{}, apierr.Conflict("token already claimed")
		}
		return stateful.Token{}, apierr.Unauthorized("token expired, used, or revoked")
	}
	if tok.Action != stateful.ActionBlobAccess || tok.Blob == nil || tok.Blob.Key != wantKey {
		return stateful.Token{}, apierr.Unauthorized("token does not authorize this object")
	}
	return tok, nil
}

func (h *Handler) streamBlob(w http.ResponseWriter, r *http.Request, key string) {
	obj, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		respondBlobError(w, err)
		return
	}
	defer obj.Body.Close()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	io.Copy(w, obj.Body)
}

func splitPublicPath(path string) (namespace, key string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	namespace, key, found := strings.Cut(path, "/")
	if !found || namespace == "" || key == "" {
		return "", "", false
	}
	return namespace, key, true
}

func respondBlobError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		apierr.RespondError(w, nil, apierr.NotFound("object not found"))
		return
	}
	apierr.RespondError(w, nil, apierr.Upstream("blob store error"))
}

func respondTokenClaimError(w http.ResponseWriter, err error) {
	if errors.Is(err, stateful.ErrClaimLost) {
		apierr.RespondError(w, nil, apierr.Conflict("token already claimed"))
		return
	}
	apierr.RespondError(w, nil, apierr.Unauthorized("token expired, used, or revoked"))
}
