package blob

import (
	"context"
	"fmt"

	"hlskb/internal/config"
	"hlskb/internal/infra/blob/fs"
	memorystore "hlskb/internal/infra/blob/memory"
	infraS3 "hlskb/internal/infra/blob/s3"
)

// Open selects the manifest blob backend named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg config.Manifests) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store. Credentials come from the default AWS chain.
func NewS3(ctx context.Context, cfg config.S3) (Store, error) {
	return infraS3.New(ctx, infraS3.Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
}
