package infra

import (
	"context"
	"fmt"
	"path/filepath"

	"bookforge/internal/storage"
)

// NewBlobStore builds the object store selected by STORAGE_BACKEND: a minio
// client for deployments, a local file tree for development.
func NewBlobStore(ctx context.Context, cfg *Config) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "filesystem":
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		return storage.NewFileStore(path)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}
