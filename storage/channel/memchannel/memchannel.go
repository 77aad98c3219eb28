// Package memchannel is an in-memory ChannelStore reference implementation,
// serializing writes per channel with the same keyed-mutex discipline as
// pgchannel.
package memchannel

import (
	"context"

	"github.com/google/uuid"

	"github.com/wisbric/gatewayd/internal/lock"
	"github.com/wisbric/gatewayd/internal/storage"
	"github.com/wisbric/gatewayd/storage/channel/channelutil"
)

type channel struct {
	meta   storage.ChannelMeta
	seq    int64
	events []storage.ChannelEvent
}

// Store is a ChannelStore backed by an in-process map.
type Store struct {
	mu       lock.KeyedMutex
	metaByID map[string]*channel
}

// New creates an empty in-memory ChannelStore.
func New() *Store {
	return &Store{metaByID: make(map[string]*channel)}
}

func (s *Store) Create(_ context.Context, channelID, name, ownerNamespace string, secret []byte) (storage.ChannelMeta, error) {
	unlock := s.mu.Lock(channelID)
	defer unlock()

	meta := storage.ChannelMeta{
		ChannelID:      channelID,
		Name:           name,
		OwnerNamespace: ownerNamespace,
		Secret:         secret,
	}
	s.metaByID[channelID] = &channel{meta: meta}
	return meta, nil
}

func (s *Store) GetMetadata(_ context.Context, channelID string) (storage.ChannelMeta, error) {
	unlock := s.mu.Lock(channelID)
	defer unlock()

	ch, ok := s.metaByID[channelID]
	if !ok {
		return storage.ChannelMeta{}, storage.ErrNotFound
	}
	return ch.meta, nil
}

func (s *Store) Append(ctx context.Context, channelID string, in storage.AppendInput) (storage.ChannelEvent, error) {
	return s.appendEvent(channelID, storage.ChannelEvent{
		AuthorID: in.AuthorID,
		Type:     storage.ChannelEventMessage,
		Content:  in.Content,
	})
}

func (s *Store) AppendDeletion(ctx context.Context, channelID string, in storage.AppendDeletionInput) (storage.ChannelEvent, error) {
	return s.appendEvent(channelID, storage.ChannelEvent{
		AuthorID:  in.AuthorID,
		Type:      storage.ChannelEventDeletion,
		TargetSeq: in.TargetSeq,
	})
}

func (s *Store) appendEvent(channelID string, ev storage.ChannelEvent) (storage.ChannelEvent, error) {
	unlock := s.mu.Lock(channelID)
	defer unlock()

	ch, ok := s.metaByID[channelID]
	if !ok {
		return storage.ChannelEvent{}, storage.ErrNotFound
	}

	ch.seq++
	ev.ID = uuid.New().String()
	ev.Seq = ch.seq
	ch.events = append(ch.events, ev)
	return ev, nil
}

func (s *Store) Read(_ context.Context, channelID string, opts storage.ReadOptions) (storage.ReadResult, error) {
	unlock := s.mu.Lock(channelID)
	defer unlock()

	ch, ok := s.metaByID[channelID]
	if !ok {
		return storage.ReadResult{}, storage.ErrNotFound
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rawLimit := limit*channelutil.ScanMultiplier + 1

	var raw []storage.ChannelEvent
	for _, ev := range ch.events {
		if ev.Seq <= opts.AfterSeq {
			continue
		}
		raw = append(raw, ev)
		if len(raw) >= rawLimit {
			break
		}
	}

	return channelutil.BuildReadResult(raw, limit, rawLimit, opts.IncludeDeleted), nil
}

func (s *Store) GetEvent(_ context.Context, channelID string, seq int64) (storage.ChannelEvent, error) {
	unlock := s.mu.Lock(channelID)
	defer unlock()

	ch, ok := s.metaByID[channelID]
	if !ok {
		return storage.ChannelEvent{}, storage.ErrNotFound
	}
	for _, ev := range ch.events {
		if ev.Seq == seq {
			return ev, nil
		}
	}
	return storage.ChannelEvent{}, storage.ErrNotFound
}

func (s *Store) Delete(_ context.Context, channelID string) error {
	unlock := s.mu.Lock(channelID)
	defer unlock()
	delete(s.metaByID, channelID)
	return nil
}
