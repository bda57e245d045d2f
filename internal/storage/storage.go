// Package storage persists uploaded files. DiskStore is the authoritative
// store: it moves each upload into its site directory under a sanitised,
// collision-free name. Stored artifacts may additionally be mirrored to
// object storage (Google Cloud Storage or S3) through an Uploader.
package storage

import (
	"context"
	"io"
)

// Uploader writes objects to an object storage backend.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

type UploadRequest struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// Content is the data to be uploaded.
	Content io.Reader

	// ContentType is the MIME type of the content, e.g. "text/csv".
	ContentType string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// URL identifies the object, e.g. gs://bucket/object.
	URL string
}
