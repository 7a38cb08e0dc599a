// Package storage provides the object storage snapshots are exported to.
package storage

import (
	"context"

	"github.com/arkilian/docrune/internal/errors"
)

// Errors returned by every backend. Upload and download failures are
// retryable.
var (
	ErrObjectNotFound = errors.New(errors.ErrCategoryStorage, errors.CodeObjectNotFound, "object not found")
	ErrUploadFailed   = errors.New(errors.ErrCategoryStorage, errors.CodeUploadFailed, "upload failed")
	ErrDownloadFailed = errors.New(errors.ErrCategoryStorage, errors.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts the object store holding snapshot files.
// Implementations are the local filesystem and S3.
type ObjectStorage interface {
	// Upload copies the local file to objectPath and returns the object's
	// ETag. Large files are uploaded in parts where the backend supports it.
	Upload(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to the local file. It returns
	// ErrObjectNotFound when the object does not exist.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	// Used by reconciliation to detect orphaned snapshots.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}

func uploadError(objectPath string, cause error) error {
	return errors.NewStorageError(errors.CodeUploadFailed, "upload "+objectPath+" failed", cause)
}

func downloadError(objectPath string, cause error) error {
	return errors.NewStorageError(errors.CodeDownloadFailed, "download "+objectPath+" failed", cause)
}
