// Package pgshortlink is a Postgres-backed ShortLinkStore, the production
// reference adapter for redirect links.
package pgshortlink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/gatewayd/internal/storage"
)

// Store is a ShortLinkStore backed by a single short_links table keyed by
// its opaque id column, the way pgkv keys rows by their own key column.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pgshortlink Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Create(ctx context.Context, id, targetURL string) (storage.ShortLink, error) {
	link := storage.ShortLink{ID: id, TargetURL: targetURL, CreatedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO short_links (id, target_url, created_at)
		VALUES ($1, $2, $3)
	`, link.ID, link.TargetURL, link.CreatedAt)
	if err != nil {
		return storage.ShortLink{}, fmt.Errorf("creating short link: %w", err)
	}
	return link, nil
}

func (s *Store) Resolve(ctx context.Context, id string) (storage.ShortLink, bool, error) {
	var link storage.ShortLink
	err := s.pool.QueryRow(ctx, `
		SELECT id, target_url, created_at FROM short_links WHERE id = $1
	`, id).Scan(&link.ID, &link.TargetURL, &link.CreatedAt)
	if err == pgx.ErrNoRows {
		return storage.ShortLink{}, false, nil
	}
	if err != nil {
		return storage.ShortLink{}, false, fmt.Errorf("resolving short link: %w", err)
	}
	return link, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM short_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting short link: %w", err)
	}
	return nil
}
