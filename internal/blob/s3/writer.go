package s3blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Writer struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewWriter uploads under prefix in the client's bucket.
func NewWriter(c *Client, prefix string) *Writer {
	return &Writer{client: c.s3, bucket: c.bucket, prefix: prefix}
}

func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := path.Join(w.prefix, key)
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(full),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", full, err)
	}
	return nil
}

// PutFile uploads a local file under key.
func (w *Writer) PutFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("s3blob: open %s: %w", file, err)
	}
	defer f.Close()
	return w.Put(ctx, key, f, "application/x-ndjson")
}
