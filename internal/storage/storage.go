// Package storage provides the object stores generated assets and uploaded
// references are written to.
package storage

import (
	"context"
	"fmt"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// New builds the object store selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *infra.Config) (domain.ObjectStore, error) {
	switch cfg.StorageDriver {
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3PublicBaseURL)
	case "filesystem", "":
		return NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.StorageDriver)
	}
}
