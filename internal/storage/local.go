package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader writes objects below a directory, typically a second disk or
// a network mount used as an archive.
type LocalUploader struct {
	baseDir string
}

// NewLocalUploader creates a LocalUploader writing below baseDir, creating the
// directory when needed.
func NewLocalUploader(baseDir string) (*LocalUploader, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", abs, err)
	}
	return &LocalUploader{baseDir: abs}, nil
}

// Upload writes content to baseDir/objectName. The object only appears under
// its final name once fully written.
func (u *LocalUploader) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	dest := filepath.Join(u.baseDir, filepath.FromSlash(req.ObjectName))
	if !strings.HasPrefix(dest, u.baseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("storage: object name %q escapes %s", req.ObjectName, u.baseDir)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory for %q: %w", req.ObjectName, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".mirror-*")
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create file for %q: %w", req.ObjectName, err)
	}
	if _, err := io.Copy(tmp, req.Content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: failed to write file %q: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: failed to write file %q: %w", dest, err)
	}
	_ = os.Chmod(tmp.Name(), 0o644)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: failed to move file into %q: %w", dest, err)
	}

	return &UploadResult{
		ObjectName: req.ObjectName,
		URL:        (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(),
	}, nil
}
