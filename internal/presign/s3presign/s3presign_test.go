package s3presign

import (
	"context"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeClient struct {
	gotPut *s3.PutObjectInput
	gotGet *s3.GetObjectInput
}

func (f *fakeClient) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.gotPut = in
	return &v4.PresignedHTTPRequest{URL: "https://example-bucket.s3.amazonaws.com/signed-put"}, nil
}

func (f *fakeClient) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.gotGet = in
	return &v4.PresignedHTTPRequest{URL: "https://example-bucket.s3.amazonaws.com/signed-get"}, nil
}

func TestPresignUpload(t *testing.T) {
	fake := &fakeClient{}
	p := New(fake)

	url, err := p.PresignUpload(context.Background(), "bucket", "widgets/1", "image/png", 1024, time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload() error: %v", err)
	}
	if url != "https://example-bucket.s3.amazonaws.com/signed-put" {
		t.Errorf("url = %q", url)
	}
	if fake.gotPut == nil || *fake.gotPut.Bucket != "bucket" || *fake.gotPut.Key != "widgets/1" {
		t.Errorf("input = %+v", fake.gotPut)
	}
}

func TestPresignDownload(t *testing.T) {
	fake := &fakeClient{}
	p := New(fake)

	url, err := p.PresignDownload(context.Background(), "bucket", "widgets/1", time.Minute)
	if err != nil {
		t.Fatalf("PresignDownload() error: %v", err)
	}
	if url != "https://example-bucket.s3.amazonaws.com/signed-get" {
		t.Errorf("url = %q", url)
	}
	if fake.gotGet == nil || *fake.gotGet.Key != "widgets/1" {
		t.Errorf("input = %+v", fake.gotGet)
	}
}
