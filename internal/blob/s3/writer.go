package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/theatom/atombot/internal/domain"
)

// minPartSize is the smallest part size S3 accepts for multipart uploads
// (5 MiB). Smaller requests are clamped up to it.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter on top of an S3-compatible bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer that uploads into the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

var _ domain.BlobWriter = (*Writer)(nil)

// Put uploads data under key. With opts.PartSize set the payload goes
// through the SDK's multipart upload manager, which splits it into parts
// and uploads them concurrently; otherwise it is a single PutObject call.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, opts domain.PutOptions) error {
	if opts.PartSize > 0 {
		return w.putMultipart(ctx, key, data, opts)
	}

	input := s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := w.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

func (w *Writer) putMultipart(ctx context.Context, key string, data io.Reader, opts domain.PutOptions) error {
	partSize := opts.PartSize
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	input := s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := uploader.Upload(ctx, &input); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}
