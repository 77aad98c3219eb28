// Package pgchannel is a Postgres-backed ChannelStore. Sequence assignment
// is serialized per channel by an in-process keyed mutex, then committed in
// a single transaction that advances channels.seq and inserts the event row,
// the reference discipline for the adapter's atomicity requirement.
package pgchannel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/gatewayd/internal/lock"
	"github.com/wisbric/gatewayd/internal/storage"
	"github.com/wisbric/gatewayd/storage/channel/channelutil"
)

// Store is a ChannelStore backed by the channels/channel_events tables.
type Store struct {
	pool  *pgxpool.Pool
	locks lock.KeyedMutex
}

// New creates a pgchannel Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Create(ctx context.Context, channelID, name, ownerNamespace string, secret []byte) (storage.ChannelMeta, error) {
	var meta storage.ChannelMeta
	err := s.pool.QueryRow(ctx, `
		INSERT INTO channels (channel_id, name, owner_namespace, secret)
		VALUES ($1, $2, $3, $4)
		RETURNING channel_id, name, owner_namespace, secret, created_at
	`, channelID, name, ownerNamespace, secret).Scan(
		&meta.ChannelID, &meta.Name, &meta.OwnerNamespace, &meta.Secret, &meta.CreatedAt,
	)
	if err != nil {
		return storage.ChannelMeta{}, fmt.Errorf("creating channel: %w", err)
	}
	return meta, nil
}

func (s *Store) GetMetadata(ctx context.Context, channelID string) (storage.ChannelMeta, error) {
	var meta storage.ChannelMeta
	err := s.pool.QueryRow(ctx, `
		SELECT channel_id, name, owner_namespace, secret, created_at
		FROM channels WHERE channel_id = $1
	`, channelID).Scan(&meta.ChannelID, &meta.Name, &meta.OwnerNamespace, &meta.Secret, &meta.CreatedAt)
	if err == pgx.ErrNoRows {
		return storage.ChannelMeta{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ChannelMeta{}, fmt.Errorf("getting channel metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) Append(ctx context.Context, channelID string, in storage.AppendInput) (storage.ChannelEvent, error) {
	return s.appendEvent(ctx, channelID, storage.ChannelEvent{
		AuthorID: in.AuthorID,
		Type:     storage.ChannelEventMessage,
		Content:  in.Content,
	})
}

func (s *Store) AppendDeletion(ctx context.Context, channelID string, in storage.AppendDeletionInput) (storage.ChannelEvent, error) {
	return s.appendEvent(ctx, channelID, storage.ChannelEvent{
		AuthorID:  in.AuthorID,
		Type:      storage.ChannelEventDeletion,
		TargetSeq: in.TargetSeq,
	})
}

// appendEvent performs the atomic read-seq/write-seq/write-event sequence
// under the channel's keyed mutex, inside a single transaction so a crash
// mid-write cannot leave seq advanced without its event.
func (s *Store) appendEvent(ctx context.Context, channelID string, ev storage.ChannelEvent) (storage.ChannelEvent, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.ChannelEvent{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newSeq int64
	err = tx.QueryRow(ctx, `
		UPDATE channels SET seq = seq + 1 WHERE channel_id = $1 RETURNING seq
	`, channelID).Scan(&newSeq)
	if err == pgx.ErrNoRows {
		return storage.ChannelEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ChannelEvent{}, fmt.Errorf("assigning sequence: %w", err)
	}

	ev.ID = uuid.New().String()
	ev.Seq = newSeq

	var targetSeq any
	if ev.Type == storage.ChannelEventDeletion {
		targetSeq = ev.TargetSeq
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO channel_events (channel_id, seq, id, author_id, event_type, content, target_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, channelID, ev.Seq, ev.ID, ev.AuthorID, string(ev.Type), ev.Content, targetSeq).Scan(&ev.CreatedAt)
	if err != nil {
		return storage.ChannelEvent{}, fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.ChannelEvent{}, fmt.Errorf("committing event: %w", err)
	}

	return ev, nil
}

func (s *Store) Read(ctx context.Context, channelID string, opts storage.ReadOptions) (storage.ReadResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	// Tombstones are interleaved with messages, so scan a wider raw window
	// than the visible limit and stop once enough visible events accumulate.
	rawLimit := limit*channelutil.ScanMultiplier + 1

	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, author_id, event_type, content, target_seq, created_at
		FROM channel_events
		WHERE channel_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, channelID, opts.AfterSeq, rawLimit)
	if err != nil {
		return storage.ReadResult{}, fmt.Errorf("reading channel events: %w", err)
	}
	defer rows.Close()

	var raw []storage.ChannelEvent
	for rows.Next() {
		var ev storage.ChannelEvent
		var eventType string
		var targetSeq *int64
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.AuthorID, &eventType, &ev.Content, &targetSeq, &ev.CreatedAt); err != nil {
			return storage.ReadResult{}, fmt.Errorf("scanning channel event: %w", err)
		}
		ev.Type = storage.ChannelEventType(eventType)
		if targetSeq != nil {
			ev.TargetSeq = *targetSeq
		}
		raw = append(raw, ev)
	}
	if err := rows.Err(); err != nil {
		return storage.ReadResult{}, fmt.Errorf("iterating channel events: %w", err)
	}

	return channelutil.BuildReadResult(raw, limit, rawLimit, opts.IncludeDeleted), nil
}

func (s *Store) GetEvent(ctx context.Context, channelID string, seq int64) (storage.ChannelEvent, error) {
	var ev storage.ChannelEvent
	var eventType string
	var targetSeq *int64
	err := s.pool.QueryRow(ctx, `
		SELECT seq, id, author_id, event_type, content, target_seq, created_at
		FROM channel_events WHERE channel_id = $1 AND seq = $2
	`, channelID, seq).Scan(&ev.Seq, &ev.ID, &ev.AuthorID, &eventType, &ev.Content, &targetSeq, &ev.CreatedAt)
	if err == pgx.ErrNoRows {
		return storage.ChannelEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ChannelEvent{}, fmt.Errorf("getting channel event: %w", err)
	}
	ev.Type = storage.ChannelEventType(eventType)
	if targetSeq != nil {
		ev.TargetSeq = *targetSeq
	}
	return ev, nil
}

func (s *Store) Delete(ctx context.Context, channelID string) error {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	_, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}
