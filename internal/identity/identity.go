// Package identity implements the identity/credential/grant model: identity
// and credential lifecycle, capability grants, and the claimable-identity
// invite flow. Entities are persisted in the KV store under reserved
// prefixes, per the gateway's single-realm data model.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wisbric/gatewayd/internal/idgen"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Type enumerates identity kinds.
type Type string

const (
	TypeUser      Type = "user"
	TypeService   Type = "service"
	TypeAgent     Type = "agent"
	TypeApp       Type = "app"
	TypeAnonymous Type = "anonymous"
)

// Status enumerates identity lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
	StatusClaimable Status = "claimable"
)

// AppConfig holds the additional fields an app-type identity carries.
type AppConfig struct {
	Origin              string   `json:"origin"`
	Namespace           string   `json:"namespace"`
	GrantedCapabilities []string `json:"grantedCapabilities"`
	FrameAccess         bool     `json:"frameAccess"`
}

// Identity is the principal entity. A Credential authenticates to one.
type Identity struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	DisplayName string     `json:"displayName"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
	AppConfig   *AppConfig `json:"appConfig,omitempty"`
}

// CredentialType enumerates credential kinds. api_key is the only kind this
// gateway mints; the field exists for forward compatibility.
type CredentialType string

const CredentialTypeAPIKey CredentialType = "api_key"

// CredentialStatus enumerates credential lifecycle states.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is a bearer secret whose hash, not the secret, is stored.
type Credential struct {
	ID         string           `json:"id"`
	IdentityID string           `json:"identityId"`
	Type       CredentialType   `json:"type"`
	SecretHash string           `json:"secretHash"`
	Status     CredentialStatus `json:"status"`
	Label      string           `json:"label,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	ExpiresAt  *time.Time       `json:"expiresAt,omitempty"`
}

// ResourceRef scopes a grant to one addressed resource.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Grant restricts a capability to a resource set.
type Grant struct {
	GrantID    string        `json:"grantId"`
	IdentityID string        `json:"identityId"`
	Capability string        `json:"capability"`
	Source     string        `json:"source"`
	SourceID   string        `json:"sourceId"`
	Resources  []ResourceRef `json:"resources"`
	GrantedBy  string        `json:"grantedBy"`
	GrantedAt  time.Time     `json:"grantedAt"`
}

const (
	prefixIdentity     = "__IDENTITY:"
	prefixCredential   = "__CREDENTIAL:"
	prefixCredentialID = "__CREDENTIAL_ID:"
	prefixGrant        = "__GRANT:"
	prefixAppOrigin    = "__APP_ORIGIN:"
)

// HashSecret returns the hex-encoded SHA-256 hash of a plaintext secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Service implements identity/credential/grant operations over a KVStore.
type Service struct {
	kv storage.KVStore
}

// NewService creates an identity Service backed by kv.
func NewService(kv storage.KVStore) *Service {
	return &Service{kv: kv}
}

func (s *Service) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, string(raw))
}

func (s *Service) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return true, nil
}

// GetIdentity loads an identity by ID.
func (s *Service) GetIdentity(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	ok, err := s.getJSON(ctx, prefixIdentity+id, &ident)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, storage.ErrNotFound
	}
	return ident, nil
}

// GetCredentialByHash loads a credential by its secret hash.
func (s *Service) GetCredentialByHash(ctx context.Context, hash string) (Credential, error) {
	var cred Credential
	ok, err := s.getJSON(ctx, prefixCredential+hash, &cred)
	if err != nil {
		return Credential{}, err
	}
	if !ok {
		return Credential{}, storage.ErrNotFound
	}
	return cred, nil
}

// CreateIdentityInput is the payload for CreateIdentity.
type CreateIdentityInput struct {
	DisplayName string
	Type        Type
	CreatedBy   string
	Label       string
}

// CreatedIdentity carries the identity, its first credential, and the
// plaintext secret, which is returned to the caller exactly once.
type CreatedIdentity struct {
	Identity   Identity
	Credential Credential
	Secret     string
}

// CreateIdentity creates an identity and its first credential atomically
// from the caller's perspective: both entities are written, and the
// plaintext secret is handed back only on this call.
func (s *Service) CreateIdentity(ctx context.Context, in CreateIdentityInput) (CreatedIdentity, error) {
	typ := in.Type
	if typ == "" {
		typ = TypeUser
	}

	ident := Identity{
		ID:          idgen.Identity(),
		Type:        typ,
		DisplayName: in.DisplayName,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   in.CreatedBy,
	}
	if err := s.putJSON(ctx, prefixIdentity+ident.ID, ident); err != nil {
		return CreatedIdentity{}, err
	}

	cred, secret, err := s.mintCredential(ctx, ident.ID, in.Label)
	if err != nil {
		return CreatedIdentity{}, err
	}
	return CreatedIdentity{Identity: ident, Credential: cred, Secret: secret}, nil
}

// CreateClaimableInput is the payload for CreateClaimable.
type CreateClaimableInput struct {
	DisplayName string
	CreatedBy   string
}

// CreateClaimable creates an identity with status=claimable and no
// credential; a credential is minted only when a matching identity-claim
// token is later redeemed via ActivateClaimed.
func (s *Service) CreateClaimable(ctx context.Context, in CreateClaimableInput) (Identity, error) {
	ident := Identity{
		ID:          idgen.Identity(),
		Type:        TypeUser,
		DisplayName: in.DisplayName,
		Status:      StatusClaimable,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   in.CreatedBy,
	}
	if err := s.putJSON(ctx, prefixIdentity+ident.ID, ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// ActivateClaimed transitions a claimable identity to active and mints its
// first credential, called after a matching identity-claim token wins its
// claim race.
func (s *Service) ActivateClaimed(ctx context.Context, identityID string) (CreatedIdentity, error) {
	ident, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return CreatedIdentity{}, err
	}
	if ident.Status != StatusClaimable {
		return CreatedIdentity{}, fmt.Errorf("identity %s is not claimable", identityID)
	}
	ident.Status = StatusActive
	if err := s.putJSON(ctx, prefixIdentity+ident.ID, ident); err != nil {
		return CreatedIdentity{}, err
	}

	cred, secret, err := s.mintCredential(ctx, ident.ID, "")
	if err != nil {
		return CreatedIdentity{}, err
	}
	return CreatedIdentity{Identity: ident, Credential: cred, Secret: secret}, nil
}

// mintCredential creates and persists a fresh api_key credential for an
// identity, returning the plaintext secret exactly once.
func (s *Service) mintCredential(ctx context.Context, identityID, label string) (Credential, string, error) {
	secret := idgen.StatefulToken()
	cred := Credential{
		ID:         idgen.StatefulToken(),
		IdentityID: identityID,
		Type:       CredentialTypeAPIKey,
		SecretHash: HashSecret(secret),
		Status:     CredentialActive,
		Label:      label,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.putJSON(ctx, prefixCredential+cred.SecretHash, cred); err != nil {
		return Credential{}, "", err
	}
	if err := s.kv.Put(ctx, prefixCredentialID+cred.ID, cred.SecretHash); err != nil {
		return Credential{}, "", err
	}
	return cred, secret, nil
}

// deriveAppNamespace mirrors the source's origin→namespace transform:
// lowercase, strip scheme, '.'→'_', ':'→'_'.
func deriveAppNamespace(origin string) string {
	ns := strings.ToLower(origin)
	if idx := strings.Index(ns, "://"); idx >= 0 {
		ns = ns[idx+3:]
	}
	ns = strings.ReplaceAll(ns, ".", "_")
	ns = strings.ReplaceAll(ns, ":", "_")
	return ns
}

// RegisterAppInput is the payload for RegisterApp.
type RegisterAppInput struct {
	Origin       string
	Capabilities []string
}

// RegisterApp idempotently upserts an APP identity keyed by derived
// namespace, merging new capabilities into the existing set (set union).
func (s *Service) RegisterApp(ctx context.Context, in RegisterAppInput) (Identity, error) {
	namespace := deriveAppNamespace(in.Origin)
	key := prefixAppOrigin + namespace

	identID, exists, err := s.kv.Get(ctx, key)
	if err != nil {
		return Identity{}, err
	}

	if exists {
		ident, err := s.GetIdentity(ctx, identID)
		if err != nil {
			return Identity{}, err
		}
		ident.AppConfig.GrantedCapabilities = unionStrings(ident.AppConfig.GrantedCapabilities, in.Capabilities)
		if err := s.putJSON(ctx, prefixIdentity+ident.ID, ident); err != nil {
			return Identity{}, err
		}
		return ident, nil
	}

	ident := Identity{
		ID:          idgen.Identity(),
		Type:        TypeApp,
		DisplayName: in.Origin,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
		AppConfig: &AppConfig{
			Origin:              in.Origin,
			Namespace:           namespace,
			GrantedCapabilities: dedupeStrings(in.Capabilities),
		},
	}
	if err := s.putJSON(ctx, prefixIdentity+ident.ID, ident); err != nil {
		return Identity{}, err
	}
	if err := s.kv.Put(ctx, key, ident.ID); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

func unionStrings(a, b []string) []string {
	return dedupeStrings(append(append([]string{}, a...), b...))
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DeleteIdentity flips status to deleted, revokes every credential owned by
// the identity, and drops its grants. Deletion is terminal apart from GC.
func (s *Service) DeleteIdentity(ctx context.Context, id string) error {
	ident, err := s.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	ident.Status = StatusDeleted
	if err := s.putJSON(ctx, prefixIdentity+id, ident); err != nil {
		return err
	}

	list, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixCredential})
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}
	for _, k := range list.Keys {
		var cred Credential
		ok, err := s.getJSON(ctx, k.Name, &cred)
		if err != nil || !ok || cred.IdentityID != id {
			continue
		}
		cred.Status = CredentialRevoked
		if err := s.putJSON(ctx, k.Name, cred); err != nil {
			return err
		}
		_ = s.kv.Delete(ctx, prefixCredentialID+cred.ID)
	}

	grants, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixGrant})
	if err != nil {
		return fmt.Errorf("listing grants: %w", err)
	}
	for _, k := range grants.Keys {
		var g Grant
		ok, err := s.getJSON(ctx, k.Name, &g)
		if err != nil || !ok || g.IdentityID != id {
			continue
		}
		_ = s.kv.Delete(ctx, k.Name)
	}

	return nil
}

// ListIdentities returns every non-reserved identity record.
func (s *Service) ListIdentities(ctx context.Context) ([]Identity, error) {
	list, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixIdentity})
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	idents := make([]Identity, 0, len(list.Keys))
	for _, k := range list.Keys {
		var ident Identity
		ok, err := s.getJSON(ctx, k.Name, &ident)
		if err != nil || !ok {
			continue
		}
		idents = append(idents, ident)
	}
	return idents, nil
}

// HasAnyIdentity reports whether at least one identity has ever been
// created, used to gate the bootstrap-key escape hatch.
func (s *Service) HasAnyIdentity(ctx context.Context) (bool, error) {
	list, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixIdentity, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(list.Keys) > 0, nil
}

// GrantsForIdentity returns every grant recorded for an identity.
func (s *Service) GrantsForIdentity(ctx context.Context, identityID string) ([]Grant, error) {
	list, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixGrant})
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	var grants []Grant
	for _, k := range list.Keys {
		var g Grant
		ok, err := s.getJSON(ctx, k.Name, &g)
		if err != nil || !ok || g.IdentityID != identityID {
			continue
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// CreateGrant persists a new grant.
func (s *Service) CreateGrant(ctx context.Context, g Grant) error {
	if g.GrantID == "" {
		g.GrantID = idgen.StatefulToken()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	return s.putJSON(ctx, prefixGrant+g.GrantID, g)
}

// IsFirstIdentity reports whether id names the oldest user-type identity —
// the implicit admin-equivalent that may address any namespace without a
// grant.
func (s *Service) IsFirstIdentity(ctx context.Context, id string) (bool, error) {
	idents, err := s.ListIdentities(ctx)
	if err != nil {
		return false, err
	}
	var first Identity
	var found bool
	for _, i := range idents {
		if !found || i.CreatedAt.Before(first.CreatedAt) {
			first = i
			found = true
		}
	}
	return found && first.ID == id && first.Type == TypeUser, nil
}

// CanAddressNamespace reports whether ident may act as the owner of
// namespace: it is an app identity whose derived namespace matches, it holds
// a grant scoped to that namespace resource, or it is the first identity
// ever created (the implicit admin-equivalent).
func (s *Service) CanAddressNamespace(ctx context.Context, ident Identity, namespace string) (bool, error) {
	if ident.Type == TypeApp && ident.AppConfig != nil && ident.AppConfig.Namespace == namespace {
		return true, nil
	}

	grants, err := s.GrantsForIdentity(ctx, ident.ID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		for _, r := range g.Resources {
			if r.Type == "namespace" && r.ID == namespace {
				return true, nil
			}
		}
	}

	return s.IsFirstIdentity(ctx, ident.ID)
}

// HasCapability reports whether identity carries capability over a
// resource, either via its type-intrinsic app namespace power or via a
// matching grant.
func (s *Service) HasCapability(ctx context.Context, ident Identity, capability string, resource ResourceRef) (bool, error) {
	if ident.Type == TypeApp && ident.AppConfig != nil && resource.Type == "namespace" && resource.ID == ident.AppConfig.Namespace {
		for _, c := range ident.AppConfig.GrantedCapabilities {
			if c == capability {
				return true, nil
			}
		}
	}

	grants, err := s.GrantsForIdentity(ctx, ident.ID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.Capability != capability {
			continue
		}
		for _, r := range g.Resources {
			if r.Type == resource.Type && r.ID == resource.ID {
				return true, nil
			}
		}
	}
	return false, nil
}
