// Package s3presign implements the delegated, S3-compatible Presigner: the
// gateway hands the browser a URL signed directly against the backing
// bucket, and plays no further part in the transfer.
package s3presign

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client is the subset of *s3.PresignClient this package calls, so tests can
// fake it without a live bucket.
type Client interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Presigner mints presigned S3 URLs via the AWS SDK's presign client.
type Presigner struct {
	client Client
}

// New creates a Presigner over an *s3.PresignClient (or a fake for tests).
func New(client Client) *Presigner {
	return &Presigner{client: client}
}

func (p *Presigner) PresignUpload(ctx context.Context, bucket, key, contentType string, contentLength int64, ttl time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	req, err := p.client.PresignPutObject(ctx, input, withExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning s3 upload: %w", err)
	}
	return req.URL, nil
}

func (p *Presigner) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, withExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning s3 download: %w", err)
	}
	return req.URL, nil
}

func withExpires(ttl time.Duration) func(*s3.PresignOptions) {
	return func(o *s3.PresignOptions) {
		o.Expires = ttl
	}
}
