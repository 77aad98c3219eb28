package channel

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/telemetry"
	"github.com/wisbric/gatewayd/internal/token/capability"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Handler provides the HTTP surface for channel operations: create, list,
// append, read, delete, delete-event, token issuance, and SSE subscribe.
type Handler struct {
	logger     *slog.Logger
	engine     *Engine
	identities *identity.Service
}

// NewHandler creates a channel Handler.
func NewHandler(logger *slog.Logger, engine *Engine, identities *identity.Service) *Handler {
	return &Handler{logger: logger, engine: engine, identities: identities}
}

// Routes mounts the channel REST and SSE endpoints. Append, read, and
// delete-event also accept X-Channel-Token and so are reachable without an
// identity-bound credential; subscribe is reachable with only a token. Used
// directly by tests; production wiring goes through Mount instead, since
// these routes need optional rather than unconditional auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/create", h.handleCreate)
	r.Post("/list", h.handleList)
	r.Post("/append", h.handleAppend)
	r.Post("/read", h.handleRead)
	r.Post("/delete", h.handleDelete)
	r.Post("/delete-event", h.handleDeleteEvent)
	r.Post("/token/create", h.handleTokenCreate)
	r.Get("/subscribe", h.handleSubscribe)
	return r
}

// Mount wires all /channel routes onto parent: subscribe runs ahead of
// authMW since it authenticates via its own query/header capability token,
// not an identity credential. The rest run behind authMW, which must be an
// optional middleware (auth.OptionalMiddleware) rather than a rejecting one
// — append, read, and delete-event accept a bare X-Channel-Token with no
// Authorization header at all, and resolveActor is what actually gates them.
func (h *Handler) Mount(parent chi.Router, authMW func(http.Handler) http.Handler) {
	parent.Route("/channel", func(r chi.Router) {
		r.Get("/subscribe", h.handleSubscribe)
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Post("/create", h.handleCreate)
			r.Post("/list", h.handleList)
			r.Post("/append", h.handleAppend)
			r.Post("/read", h.handleRead)
			r.Post("/delete", h.handleDelete)
			r.Post("/delete-event", h.handleDeleteEvent)
			r.Post("/token/create", h.handleTokenCreate)
		})
	})
}

// actor resolves the caller's permission set and author id from either a
// capability token (X-Channel-Token) or an authenticated identity.
type actor struct {
	authorID    string
	permissions map[capability.Permission]bool
	viaToken    bool
}

func (a actor) has(p capability.Permission) bool {
	return a.permissions[p]
}

func (h *Handler) resolveActor(r *http.Request, channelID string) (actor, error) {
	if raw := r.Header.Get("X-Channel-Token"); raw != "" {
		claims, err := h.engine.VerifyToken(r.Context(), channelID, raw)
		if err != nil {
			return actor{}, apierr.Unauthorized("invalid or expired channel token")
		}
		perms := make(map[capability.Permission]bool, len(claims.Permissions))
		for _, p := range claims.Permissions {
			perms[p] = true
		}
		return actor{authorID: claims.AuthorID, permissions: perms, viaToken: true}, nil
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		return actor{}, apierr.Unauthorized("missing channel token or identity credential")
	}
	// An API-key-authenticated caller addressing their own channel has the
	// full permission set; ownership is checked per-operation below.
	return actor{
		authorID: ident.ID,
		permissions: map[capability.Permission]bool{
			capability.PermRead:        true,
			capability.PermAppend:      true,
			capability.PermReadDeleted: true,
			capability.PermDeleteOwn:   true,
			capability.PermDeleteAny:   true,
		},
	}, nil
}

type createRequest struct {
	Namespace string `json:"namespace" validate:"required"`
	Name      string `json:"name" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	if ok, err := h.identities.CanAddressNamespace(r.Context(), *ident, req.Namespace); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("checking namespace ownership"))
		return
	} else if !ok {
		apierr.RespondError(w, h.logger, apierr.Forbidden("identity may not address this namespace"))
		return
	}

	meta, err := h.engine.Create(r.Context(), req.Namespace, req.Name)
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("creating channel"))
		return
	}
	httpserver.Respond(w, http.StatusOK, metaResponse(meta))
}

type listRequest struct {
	Namespace string `json:"namespace" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	if ok, err := h.identities.CanAddressNamespace(r.Context(), *ident, req.Namespace); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("checking namespace ownership"))
		return
	} else if !ok {
		apierr.RespondError(w, h.logger, apierr.Forbidden("identity may not address this namespace"))
		return
	}

	metas, err := h.engine.List(r.Context(), req.Namespace)
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("listing channels"))
		return
	}
	resp := make([]channelMetaResponse, 0, len(metas))
	for _, m := range metas {
		resp = append(resp, metaResponse(m))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"channels": resp})
}

type appendRequest struct {
	ChannelID string `json:"channelId" validate:"required"`
	Content   string `json:"content" validate:"required"`
	AuthorID  string `json:"authorId"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	act, err := h.resolveActor(r, req.ChannelID)
	if err != nil {
		apierr.RespondError(w, h.logger, err)
		return
	}
	if !act.has(capability.PermAppend) {
		apierr.RespondError(w, h.logger, apierr.Forbidden("token lacks append permission"))
		return
	}

	authorID := act.authorID
	if !act.viaToken && req.AuthorID != "" {
		authorID = req.AuthorID
	}

	ev, err := h.engine.Append(r.Context(), req.ChannelID, authorID, req.Content)
	if err != nil {
		respondChannelError(w, h.logger, err)
		return
	}
	telemetry.ChannelEventsAppendedTotal.WithLabelValues(string(ev.Type)).Inc()
	httpserver.Respond(w, http.StatusOK, eventResponse(ev))
}

type readRequest struct {
	ChannelID      string `json:"channelId" validate:"required"`
	AfterSeq       int64  `json:"afterSeq"`
	Limit          int    `json:"limit"`
	IncludeDeleted bool   `json:"includeDeleted"`
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	act, err := h.resolveActor(r, req.ChannelID)
	if err != nil {
		apierr.RespondError(w, h.logger, err)
		return
	}
	if !act.has(capability.PermRead) {
		apierr.RespondError(w, h.logger, apierr.Forbidden("token lacks read permission"))
		return
	}
	includeDeleted := req.IncludeDeleted && act.has(capability.PermReadDeleted)

	limit := req.Limit
	if limit <= 0 {
		limit = httpserver.DefaultChannelReadLimit
	}
	if limit > httpserver.MaxChannelReadLimit {
		limit = httpserver.MaxChannelReadLimit
	}

	res, err := h.engine.Read(r.Context(), req.ChannelID, storage.ReadOptions{
		AfterSeq:       req.AfterSeq,
		Limit:          limit,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		respondChannelError(w, h.logger, err)
		return
	}
	events := make([]eventResp, 0, len(res.Events))
	for _, ev := range res.Events {
		events = append(events, eventResponse(ev))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"events": events, "hasMore": res.HasMore})
}

type deleteRequest struct {
	ChannelID string `json:"channelId" validate:"required"`
	Namespace string `json:"namespace" validate:"required"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	if ok, err := h.identities.CanAddressNamespace(r.Context(), *ident, req.Namespace); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("checking namespace ownership"))
		return
	} else if !ok {
		apierr.RespondError(w, h.logger, apierr.Forbidden("identity may not address this namespace"))
		return
	}

	if err := h.engine.Delete(r.Context(), req.ChannelID, req.Namespace); err != nil {
		respondChannelError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type deleteEventRequest struct {
	ChannelID string `json:"channelId" validate:"required"`
	TargetSeq int64  `json:"targetSeq" validate:"required"`
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	var req deleteEventRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	act, err := h.resolveActor(r, req.ChannelID)
	if err != nil {
		apierr.RespondError(w, h.logger, err)
		return
	}
	allowAny := act.has(capability.PermDeleteAny)
	if !allowAny && !act.has(capability.PermDeleteOwn) {
		apierr.RespondError(w, h.logger, apierr.Forbidden("token lacks delete permission"))
		return
	}

	ev, err := h.engine.AppendDeletion(r.Context(), req.ChannelID, act.authorID, req.TargetSeq, allowAny)
	if errors.Is(err, ErrForbidden) {
		apierr.RespondError(w, h.logger, apierr.Forbidden("may not delete another author's event"))
		return
	}
	if err != nil {
		respondChannelError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, eventResponse(ev))
}

type tokenCreateRequest struct {
	ChannelID        string   `json:"channelId" validate:"required"`
	Namespace        string   `json:"namespace" validate:"required"`
	Permissions      []string `json:"permissions" validate:"required,min=1"`
	AuthorID         string   `json:"authorId"`
	ExpiresInSeconds int      `json:"expiresInSeconds" validate:"required,min=1"`
}

func (h *Handler) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	if ok, err := h.identities.CanAddressNamespace(r.Context(), *ident, req.Namespace); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("checking namespace ownership"))
		return
	} else if !ok {
		apierr.RespondError(w, h.logger, apierr.Forbidden("identity may not address this namespace"))
		return
	}

	perms := make([]capability.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perms = append(perms, capability.Permission(p))
	}

	raw, err := h.engine.IssueToken(r.Context(), req.ChannelID, perms, req.AuthorID, time.Duration(req.ExpiresInSeconds)*time.Second)
	if err != nil {
		respondChannelError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"token": raw})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		apierr.RespondError(w, h.logger, apierr.InvalidRequest("channelId is required"))
		return
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = r.Header.Get("X-Channel-Token")
	}
	if raw == "" {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("token is required"))
		return
	}

	claims, err := h.engine.VerifyToken(r.Context(), channelID, raw)
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("invalid or expired channel token"))
		return
	}
	if !claims.Has(capability.PermRead) {
		apierr.RespondError(w, h.logger, apierr.Forbidden("token lacks read permission"))
		return
	}

	var afterSeq int64
	if v := r.URL.Query().Get("afterSeq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierr.RespondError(w, h.logger, apierr.InvalidRequest("afterSeq must be an integer"))
			return
		}
		afterSeq = parsed
	}

	telemetry.ChannelSubscribersActive.Inc()
	defer telemetry.ChannelSubscribersActive.Dec()

	h.engine.Subscribe(r.Context(), w, h.logger, channelID, afterSeq, claims.Has(capability.PermReadDeleted))
}

type channelMetaResponse struct {
	ChannelID      string `json:"channelId"`
	Name           string `json:"name"`
	OwnerNamespace string `json:"ownerNamespace"`
	CreatedAt      string `json:"createdAt"`
}

func metaResponse(m storage.ChannelMeta) channelMetaResponse {
	return channelMetaResponse{
		ChannelID:      m.ChannelID,
		Name:           m.Name,
		OwnerNamespace: m.OwnerNamespace,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339Nano),
	}
}

type eventResp struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	AuthorID  string `json:"authorId"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	TargetSeq int64  `json:"targetSeq,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func eventResponse(ev storage.ChannelEvent) eventResp {
	return eventResp{
		ID:        ev.ID,
		Seq:       ev.Seq,
		AuthorID:  ev.AuthorID,
		Type:      string(ev.Type),
		Content:   ev.Content,
		TargetSeq: ev.TargetSeq,
		Deleted:   ev.Deleted,
		CreatedAt: ev.CreatedAt.Format(time.RFC3339Nano),
	}
}

func respondChannelError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apierr.RespondError(w, logger, apierr.NotFound("channel or event not found"))
	case errors.Is(err, ErrContentTooLong):
		apierr.RespondError(w, logger, apierr.InvalidRequest("content exceeds maximum length"))
	case errors.Is(err, ErrForbidden):
		apierr.RespondError(w, logger, apierr.Forbidden("operation not permitted on this event"))
	default:
		apierr.RespondError(w, logger, apierr.Upstream("channel store error"))
	}
}
