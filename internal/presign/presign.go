// Package presign defines the presigned-URL boundary: a Presigner mints
// time-limited URLs for direct blob transfer, either delegated to an
// S3-compatible backend or resolved by the gateway itself.
package presign

import (
	"context"
	"time"
)

// Presigner mints presigned URLs for direct blob upload/download.
type Presigner interface {
	PresignUpload(ctx context.Context, bucket, key, contentType string, contentLength int64, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
