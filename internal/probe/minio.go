package probe

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type objectStatter interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinIOChecker checks s3://bucket/key locations against an S3-compatible store.
type MinIOChecker struct {
	client objectStatter
}

// NewMinIOChecker connects to the configured MinIO endpoint.
func NewMinIOChecker(cfg config.StorageConfig) (*MinIOChecker, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &MinIOChecker{client: client}, nil
}

func (c *MinIOChecker) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := splitObjectURL(location)
	if err != nil {
		return false, err
	}

	_, err = c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %v", ErrTransientProbe, location, err)
}

func splitObjectURL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parsing object location %q: %w", location, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object location %q must look like s3://bucket/key", location)
	}
	return u.Host, key, nil
}

var _ Checker = (*MinIOChecker)(nil)
