// Package channel implements the append-only event channel engine: channel
// lifecycle, content-bound appends, tombstone deletions, and capability
// token issuance/verification for third-party access.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/gatewayd/internal/idgen"
	"github.com/wisbric/gatewayd/internal/token/capability"
	"github.com/wisbric/gatewayd/internal/storage"
)

// notifyChannel returns the Redis pub/sub channel name Subscribe listens on
// and Append/AppendDeletion publish to, for fast wake-up of SSE streamers.
func notifyChannel(channelID string) string {
	return "channel:notify:" + channelID
}

// MaxContentLength bounds a single appended message's content, per the
// channel engine's content contract.
const MaxContentLength = 10_000

var (
	// ErrContentTooLong is returned when append content exceeds MaxContentLength.
	ErrContentTooLong = errors.New("channel: content exceeds maximum length")
	// ErrForbidden is returned when a delete:own caller targets another author's event.
	ErrForbidden = errors.New("channel: caller may not delete this event")
	// ErrWrongChannel is returned when a token is presented against a channel it was not issued for.
	ErrWrongChannel = errors.New("channel: token not valid for this channel")
)

const channelIndexPrefix = "__CHANNEL_INDEX:"

func channelIndexKey(namespace, channelID string) string {
	return channelIndexPrefix + namespace + ":" + channelID
}

// Engine wraps a ChannelStore with the sequencing/tombstone/authorization
// semantics and a KVStore-backed per-namespace index for listing.
type Engine struct {
	store    storage.ChannelStore
	kv       storage.KVStore
	notifier *redis.Client
}

// NewEngine builds an Engine over the given ChannelStore and the KVStore
// used for the namespace-scoped channel index. notifier, if given, is
// published to on every append so Subscribe can wake immediately instead of
// waiting for its poll tick; a nil/absent notifier leaves Subscribe on pure
// polling, which is always correct, just slower to notice new events.
func NewEngine(store storage.ChannelStore, kv storage.KVStore, notifier ...*redis.Client) *Engine {
	e := &Engine{store: store, kv: kv}
	if len(notifier) > 0 {
		e.notifier = notifier[0]
	}
	return e
}

// Create allocates a new channel with a fresh id and HMAC secret, owned by
// the given namespace, and records it in that namespace's channel index.
func (e *Engine) Create(ctx context.Context, ownerNamespace, name string) (storage.ChannelMeta, error) {
	id := idgen.ChannelID()
	secret := idgen.ChannelSecret()

	meta, err := e.store.Create(ctx, id, name, ownerNamespace, secret)
	if err != nil {
		return storage.ChannelMeta{}, fmt.Errorf("creating channel: %w", err)
	}
	if err := e.kv.Put(ctx, channelIndexKey(ownerNamespace, id), name); err != nil {
		return storage.ChannelMeta{}, fmt.Errorf("indexing channel: %w", err)
	}
	return meta, nil
}

// List returns the channels owned by a namespace, resolved through the
// namespace's KV index.
func (e *Engine) List(ctx context.Context, ownerNamespace string) ([]storage.ChannelMeta, error) {
	prefix := channelIndexPrefix + ownerNamespace + ":"
	var metas []storage.ChannelMeta
	cursor := ""
	for {
		res, err := e.kv.List(ctx, storage.ListOptions{Prefix: prefix, Limit: 100, Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("listing channel index: %w", err)
		}
		for _, k := range res.Keys {
			channelID := k.Name[len(prefix):]
			meta, err := e.store.GetMetadata(ctx, channelID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("loading channel metadata: %w", err)
			}
			metas = append(metas, meta)
		}
		if res.ListComplete {
			break
		}
		cursor = res.Cursor
	}
	return metas, nil
}

// GetMetadata returns a channel's metadata, including its HMAC secret — only
// for internal callers that need it (token issuance, authorization checks).
func (e *Engine) GetMetadata(ctx context.Context, channelID string) (storage.ChannelMeta, error) {
	return e.store.GetMetadata(ctx, channelID)
}

// Append assigns the next sequence number and persists a message event.
func (e *Engine) Append(ctx context.Context, channelID, authorID, content string) (storage.ChannelEvent, error) {
	if len(content) > MaxContentLength {
		return storage.ChannelEvent{}, ErrContentTooLong
	}
	ev, err := e.store.Append(ctx, channelID, storage.AppendInput{AuthorID: authorID, Content: content})
	if err == nil {
		e.notify(ctx, channelID)
	}
	return ev, err
}

// AppendDeletion writes a tombstone event naming targetSeq. allowAny permits
// deleting any event in the channel (delete:any); otherwise the caller may
// only tombstone events it authored (delete:own).
func (e *Engine) AppendDeletion(ctx context.Context, channelID, authorID string, targetSeq int64, allowAny bool) (storage.ChannelEvent, error) {
	if !allowAny {
		target, err := e.store.GetEvent(ctx, channelID, targetSeq)
		if err != nil {
			return storage.ChannelEvent{}, fmt.Errorf("loading target event: %w", err)
		}
		if target.AuthorID != authorID {
			return storage.ChannelEvent{}, ErrForbidden
		}
	}
	ev, err := e.store.AppendDeletion(ctx, channelID, storage.AppendDeletionInput{AuthorID: authorID, TargetSeq: targetSeq})
	if err == nil {
		e.notify(ctx, channelID)
	}
	return ev, err
}

// notify publishes a wake-up to channelID's notify channel. Best-effort: a
// missed or failed publish just means subscribers fall back to their next
// poll tick, never a correctness problem.
func (e *Engine) notify(ctx context.Context, channelID string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(ctx, notifyChannel(channelID), "1")
}

// subscribeNotify opens a Redis pub/sub subscription on channelID's notify
// channel, returning the wake-up channel and a cleanup func. Returns a nil
// channel if no notifier is configured; callers must treat a nil channel as
// "never fires" rather than ranging over it.
func (e *Engine) subscribeNotify(ctx context.Context, channelID string) (<-chan *redis.Message, func()) {
	if e.notifier == nil {
		return nil, func() {}
	}
	sub := e.notifier.Subscribe(ctx, notifyChannel(channelID))
	return sub.Channel(), func() { _ = sub.Close() }
}

// Read returns events visible under opts, applying soft-delete filtering.
func (e *Engine) Read(ctx context.Context, channelID string, opts storage.ReadOptions) (storage.ReadResult, error) {
	return e.store.Read(ctx, channelID, opts)
}

// Delete removes a channel, its events, and its namespace index entry.
func (e *Engine) Delete(ctx context.Context, channelID, ownerNamespace string) error {
	if err := e.store.Delete(ctx, channelID); err != nil {
		return err
	}
	return e.kv.Delete(ctx, channelIndexKey(ownerNamespace, channelID))
}

// IssueToken mints an HMAC capability token scoped to channelID, signed with
// that channel's own secret.
func (e *Engine) IssueToken(ctx context.Context, channelID string, permissions []capability.Permission, authorID string, ttl time.Duration) (string, error) {
	meta, err := e.store.GetMetadata(ctx, channelID)
	if err != nil {
		return "", err
	}
	issuer := capability.NewIssuer(meta.Secret)
	return issuer.Issue(capability.IssueInput{
		ChannelID:   channelID,
		Permissions: permissions,
		AuthorID:    authorID,
		TTL:         ttl,
	})
}

// VerifyToken verifies raw against channelID's own secret and confirms the
// token's embedded channel id matches.
func (e *Engine) VerifyToken(ctx context.Context, channelID, raw string) (capability.Claims, error) {
	meta, err := e.store.GetMetadata(ctx, channelID)
	if err != nil {
		return capability.Claims{}, err
	}
	issuer := capability.NewIssuer(meta.Secret)
	claims, err := issuer.Verify(raw)
	if err != nil {
		return capability.Claims{}, err
	}
	if claims.ChannelID != channelID {
		return capability.Claims{}, ErrWrongChannel
	}
	return claims, nil
}
