// Package gatewaypresign implements the gateway-terminated Presigner: when
// no S3-compatible backend exists, the gateway itself issues a single-use
// stateful token and resolves the upload/download through its own
// /blob/presigned-{put,get} routes.
package gatewaypresign

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/gatewayd/internal/token/stateful"
)

// Presigner mints single-use stateful tokens and resolves them against the
// gateway's own base URL rather than delegating to a backing bucket.
type Presigner struct {
	tokens  *stateful.Service
	baseURL string
}

// New creates a Presigner that issues tokens via tokens and resolves URLs
// against baseURL (e.g. "https://gateway.example.com").
func New(tokens *stateful.Service, baseURL string) *Presigner {
	return &Presigner{tokens: tokens, baseURL: baseURL}
}

func (p *Presigner) PresignUpload(ctx context.Context, bucket, key, contentType string, contentLength int64, ttl time.Duration) (string, error) {
	tok, err := p.tokens.CreateBlobAccess(ctx, stateful.CreateBlobAccessInput{
		Blob: stateful.BlobAccessPayload{
			Bucket:        bucket,
			Key:           key,
			ContentType:   contentType,
			ContentLength: contentLength,
		},
		TTL: ttl,
	})
	if err != nil {
		return "", fmt.Errorf("issuing upload token: %w", err)
	}
	return fmt.Sprintf("%s/blob/presigned-put?token=%s", p.baseURL, tok.ID), nil
}

func (p *Presigner) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	tok, err := p.tokens.CreateBlobAccess(ctx, stateful.CreateBlobAccessInput{
		Blob: stateful.BlobAccessPayload{
			Bucket: bucket,
			Key:    key,
		},
		TTL: ttl,
	})
	if err != nil {
		return "", fmt.Errorf("issuing download token: %w", err)
	}
	return fmt.Sprintf("%s/blob/presigned-get?token=%s", p.baseURL, tok.ID), nil
}
