package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// Writer implements domain.BlobWriter using an S3-compatible backend.
// Archive objects here are small JSON documents; a single PutObject per
// write is the right shape.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer uploading to the client's configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data as one object.
func (w *Writer) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
