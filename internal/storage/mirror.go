package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

// Mirror copies stored artifacts to object storage as
// <prefix>/<site>/<artifact name>.
type Mirror struct {
	uploader Uploader
	backend  string
	prefix   string
}

// NewMirror creates a Mirror around uploader. backend labels the mirror in
// logs and metrics.
func NewMirror(uploader Uploader, backend, prefix string) *Mirror {
	return &Mirror{
		uploader: uploader,
		backend:  backend,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// OpenMirror builds a Mirror from a gs://bucket/prefix, s3://bucket/prefix or
// file:///directory URL. s3cfg carries the region and endpoint settings for
// S3 mirrors; its Bucket is taken from the URL.
func OpenMirror(ctx context.Context, rawURL string, s3cfg S3Config) (*Mirror, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid mirror url %q: %w", rawURL, err)
	}
	if u.Scheme == "file" {
		if u.Path == "" {
			return nil, fmt.Errorf("storage: mirror url %q has no directory", rawURL)
		}
		uploader, err := NewLocalUploader(u.Path)
		if err != nil {
			return nil, err
		}
		return NewMirror(uploader, "local", ""), nil
	}
	if u.Host == "" {
		return nil, fmt.Errorf("storage: mirror url %q has no bucket", rawURL)
	}

	switch u.Scheme {
	case "gs":
		uploader, err := NewGCSUploader(ctx, u.Host)
		if err != nil {
			return nil, err
		}
		return NewMirror(uploader, "gcs", u.Path), nil
	case "s3":
		s3cfg.Bucket = u.Host
		uploader, err := NewS3Uploader(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return NewMirror(uploader, "s3", u.Path), nil
	default:
		return nil, fmt.Errorf("storage: unsupported mirror scheme %q", u.Scheme)
	}
}

// Backend names the object storage behind the mirror.
func (m *Mirror) Backend() string { return m.backend }

// Close releases the uploader's client when it holds one.
func (m *Mirror) Close() error {
	if c, ok := m.uploader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Mirror uploads the artifact's content.
func (m *Mirror) Mirror(ctx context.Context, a *Artifact) (*UploadResult, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open artifact %q: %w", a.Path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("storage: failed to read artifact %q: %w", a.Path, err)
	}
	contentType := http.DetectContentType(head[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage: failed to rewind artifact %q: %w", a.Path, err)
	}

	return m.uploader.Upload(ctx, &UploadRequest{
		ObjectName:  path.Join(m.prefix, a.Tenant, a.Name),
		Content:     f,
		ContentType: contentType,
	})
}
