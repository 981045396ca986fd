package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/flowwatch/pkg/config"
)

// Publisher writes rendered snapshots into the storage backend, next to
// the exports they were derived from.
type Publisher interface {
	PutObject(ctx context.Context, name string, data []byte) error
}

// Compile-time interface checks.
var (
	_ Publisher = (*s3Reader)(nil)
	_ Publisher = (*localReader)(nil)
)

// NewPublisher creates the Publisher for whichever backend is enabled.
func NewPublisher(cfg *config.StorageConfig) (Publisher, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return &s3Reader{
			client: newS3Client(cfg.S3),
			bucket: cfg.S3.Bucket,
			prefix: trimPrefix(cfg.S3.Prefix),
		}, nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return &localReader{dir: cfg.Local.Dir}, nil
	default:
		return nil, fmt.Errorf("no storage backend configured")
	}
}

// PutObject uploads data to {prefix}/{name}.
func (r *s3Reader) PutObject(ctx context.Context, name string, data []byte) error {
	if !isAllowedName(name) {
		return fmt.Errorf("object name %q not allowed", name)
	}

	key := r.objectKey(name)

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(detectContentType(name)),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// PutObject writes data to {dir}/{name}, creating parent directories.
func (r *localReader) PutObject(_ context.Context, name string, data []byte) error {
	if !isAllowedName(name) {
		return fmt.Errorf("object name %q not allowed", name)
	}

	p := filepath.Join(r.dir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", p, err)
	}

	if err := os.WriteFile(p, data, 0o644); err != nil { //nolint:gosec // name is validated above
		return fmt.Errorf("writing file %s: %w", p, err)
	}

	return nil
}

// detectContentType returns a MIME type based on the object extension.
func detectContentType(name string) string {
	switch ext := path.Ext(name); ext {
	case "":
		return "application/octet-stream"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}

		return "application/octet-stream"
	}
}
