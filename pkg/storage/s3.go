package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend stores objects in an S3-compatible bucket under a key
// prefix. S3 has no partial-write API comparable to WriteAt, so
// WriteAt here buffers the whole object in memory via a read-modify-
// write cycle; this is adequate for temp/quarantine files bounded by
// MaxFileSize, not for arbitrarily large objects.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend builds an S3Backend from the default AWS config chain
// (environment, shared config file, IAM role) per bucket/region/prefix.
func NewS3Backend(ctx context.Context, bucket, region, prefix string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *S3Backend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, backend: b, key: key}, nil
}

// s3Writer buffers writes and flushes a single PutObject on Close,
// since S3 has no streaming append.
type s3Writer struct {
	ctx     context.Context
	backend *S3Backend
	key     string
	buf     bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	_, err := w.backend.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.backend.bucket),
		Key:    aws.String(w.backend.objectKey(w.key)),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", w.key, err)
	}
	return nil
}

func (b *S3Backend) WriteAt(ctx context.Context, key string, offset int64, data []byte) error {
	existing, err := b.readAllTolerant(ctx, key)
	if err != nil {
		return err
	}
	needed := int(offset) + len(data)
	if len(existing) < needed {
		grown := make([]byte, needed)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(existing),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) readAllTolerant(ctx context.Context, key string) ([]byte, error) {
	data, err := b.readAll(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (b *S3Backend) readAll(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) ReadAt(ctx context.Context, key string, offset int64, length int) ([]byte, error) {
	data, err := b.readAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (b *S3Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return out.Body, nil
}

func (b *S3Backend) Stat(ctx context.Context, key string) (int64, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrNotExist
		}
		return 0, fmt.Errorf("storage: head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (b *S3Backend) Remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// SecureDelete on S3 has no in-place overwrite primitive; it issues a
// single delete and relies on bucket versioning/lifecycle policy for
// true destruction of prior versions, which is a deployment-level
// concern outside this backend.
func (b *S3Backend) SecureDelete(ctx context.Context, key string) error {
	return b.Remove(ctx, key)
}
