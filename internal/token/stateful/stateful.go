// Package stateful implements opaque, KV-persisted tokens for the
// identity-claim and blob-access one-shot flows.
package stateful

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/wisbric/gatewayd/internal/idgen"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Action enumerates the flows a stateful token can drive.
type Action string

const (
	ActionIdentityClaim Action = "identity_claim"
	ActionBlobAccess    Action = "blob_access"
)

// State enumerates a token's lifecycle state.
type State string

const (
	StateUnused  State = "unused"
	StateUsed    State = "used"
	StateRevoked State = "revoked"
)

// BlobAccessPayload names the blob a blob_access token authorizes.
type BlobAccessPayload struct {
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
}

// Token is the persisted record for one stateful token.
type Token struct {
	ID         string             `json:"id"`
	Action     Action             `json:"action"`
	State      State              `json:"state"`
	CreatedBy  string             `json:"createdBy"`
	CreatedAt  time.Time          `json:"createdAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	Label      string             `json:"label,omitempty"`
	IdentityID string             `json:"identityId,omitempty"`
	Blob       *BlobAccessPayload `json:"blob,omitempty"`
}

const prefixToken = "__TOKEN:"

// ErrExpiredOrUsed is returned when a token fails the unused/not-expired/
// not-revoked precondition.
var ErrExpiredOrUsed = fmt.Errorf("token expired, used, or revoked")

// ErrClaimLost is returned when a concurrent claim won the race.
var ErrClaimLost = fmt.Errorf("token already claimed")

// Service manages stateful tokens over a KVStore.
type Service struct {
	kv storage.KVStore
}

// NewService creates a stateful token Service backed by kv.
func NewService(kv storage.KVStore) *Service {
	return &Service{kv: kv}
}

// CreateIdentityClaimInput is the payload for CreateIdentityClaim.
type CreateIdentityClaimInput struct {
	IdentityID string
	CreatedBy  string
	Label      string
	TTL        time.Duration
}

// CreateIdentityClaim issues a single-use token naming a claimable identity.
func (s *Service) CreateIdentityClaim(ctx context.Context, in CreateIdentityClaimInput) (Token, error) {
	tok := Token{
		ID:         idgen.StatefulToken(),
		Action:     ActionIdentityClaim,
		State:      StateUnused,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(in.TTL),
		Label:      in.Label,
		IdentityID: in.IdentityID,
	}
	return tok, s.put(ctx, tok)
}

// CreateBlobAccessInput is the payload for CreateBlobAccess.
type CreateBlobAccessInput struct {
	Blob      BlobAccessPayload
	CreatedBy string
	Label     string
	TTL       time.Duration
}

// CreateBlobAccess issues a token naming a bucket/key/constraint set.
func (s *Service) CreateBlobAccess(ctx context.Context, in CreateBlobAccessInput) (Token, error) {
	blob := in.Blob
	tok := Token{
		ID:        idgen.StatefulToken(),
		Action:    ActionBlobAccess,
		State:     StateUnused,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(in.TTL),
		Label:     in.Label,
		Blob:      &blob,
	}
	return tok, s.put(ctx, tok)
}

func (s *Service) put(ctx context.Context, tok Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	return s.kv.Put(ctx, prefixToken+tok.ID, string(raw))
}

// Lookup returns a token's safe metadata without mutating its state.
func (s *Service) Lookup(ctx context.Context, id string) (Token, error) {
	raw, ok, err := s.kv.Get(ctx, prefixToken+id)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, storage.ErrNotFound
	}
	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return Token{}, fmt.Errorf("unmarshaling token: %w", err)
	}
	return tok, nil
}

// ListCreatedBy returns every token recorded as created by createdBy,
// newest first.
func (s *Service) ListCreatedBy(ctx context.Context, createdBy string) ([]Token, error) {
	list, err := s.kv.List(ctx, storage.ListOptions{Prefix: prefixToken})
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	var toks []Token
	for _, k := range list.Keys {
		raw, ok, err := s.kv.Get(ctx, k.Name)
		if err != nil || !ok {
			continue
		}
		var tok Token
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			continue
		}
		if tok.CreatedBy == createdBy {
			toks = append(toks, tok)
		}
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].CreatedAt.After(toks[j].CreatedAt) })
	return toks, nil
}

func (tok Token) validForClaim(now time.Time) bool {
	return tok.State == StateUnused && now.Before(tok.ExpiresAt)
}

// Claim atomically transitions an unused, unexpired token to used and
// returns it. The transition is a compare-and-swap loop against the
// underlying KVStore (storage.KVStore.CompareAndSwap): each attempt reads
// the current row, builds the used-state row, and writes it back only if
// nobody else changed the row in between. Against pgkv this CAS is a single
// `UPDATE ... WHERE value = $old` statement, so two gateway replicas racing
// to claim the same token can never both see their swap succeed — of any
// two racing claims, exactly one wins and the other retries onto an
// already-used row and returns ErrClaimLost/ErrExpiredOrUsed. Callers
// perform the claim's side effect (activating an identity, minting a
// presigned URL) only after this call succeeds.
func (s *Service) Claim(ctx context.Context, id string) (Token, error) {
	key := prefixToken + id
	for {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return Token{}, err
		}
		if !ok {
			return Token{}, storage.ErrNotFound
		}
		var tok Token
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return Token{}, fmt.Errorf("unmarshaling token: %w", err)
		}

		now := time.Now().UTC()
		if tok.State == StateRevoked {
			return Token{}, ErrExpiredOrUsed
		}
		if tok.State == StateUsed {
			return Token{}, ErrClaimLost
		}
		if !tok.validForClaim(now) {
			return Token{}, ErrExpiredOrUsed
		}

		claimed := tok
		claimed.State = StateUsed
		newRaw, err := json.Marshal(claimed)
		if err != nil {
			return Token{}, fmt.Errorf("marshaling token: %w", err)
		}

		swapped, err := s.kv.CompareAndSwap(ctx, key, raw, string(newRaw))
		if err != nil {
			return Token{}, err
		}
		if swapped {
			return claimed, nil
		}
		// Lost the race: someone else claimed or revoked the token between
		// our read and our write. Re-read and re-evaluate its new state.
	}
}

// Revoke marks a token unusable without consuming it as a successful claim.
func (s *Service) Revoke(ctx context.Context, id string) error {
	tok, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	tok.State = StateRevoked
	return s.put(ctx, tok)
}
