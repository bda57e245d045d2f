package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tomasbasham/site-receiver/internal/sanitize"
)

// maxCollisions bounds the numeric suffixes tried for one final name.
const maxCollisions = 1000

// DiskStore persists uploads below <root>/d/<site>. Final names are
//
//	<sanitized name>_<sanitized remote party>_<RFC3339 store time>
//
// with a numeric "_N" suffix added when that name is already taken, so an
// existing artifact is never overwritten.
type DiskStore struct {
	root    string
	dirPerm os.FileMode
	now     func() time.Time
}

// DiskOption configures a DiskStore.
type DiskOption func(*DiskStore)

// WithStoreClock overrides the time embedded in artifact names.
func WithStoreClock(now func() time.Time) DiskOption {
	return func(s *DiskStore) { s.now = now }
}

// WithDirPerm sets the mode site directories are created with.
func WithDirPerm(perm os.FileMode) DiskOption {
	return func(s *DiskStore) { s.dirPerm = perm }
}

// NewDiskStore creates a DiskStore below root. Site directories are created
// on demand with mode 0777 (subject to umask).
func NewDiskStore(root string, opts ...DiskOption) *DiskStore {
	s := &DiskStore{
		root:    root,
		dirPerm: 0o777,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TenantDir returns the directory uploads for tenant are stored in.
func (s *DiskStore) TenantDir(tenant string) string {
	return filepath.Join(s.root, "d", tenant)
}

// Store moves file into the tenant directory. The source is consumed whatever
// the outcome. A failure is returned as a *StoreError; a site directory
// created along the way is left in place.
func (s *DiskStore) Store(_ context.Context, tenant string, file UploadedFile, remoteParty string) (*Artifact, error) {
	if file.Status != TransferOK || file.Source == nil {
		return nil, &StoreError{
			Kind: ErrTransferFailed,
			Name: file.Name,
			Err:  fmt.Errorf("transfer status: %s", file.Status),
		}
	}

	dir := s.TenantDir(tenant)
	if err := s.ensureDir(dir); err != nil {
		return nil, &StoreError{Kind: ErrDirectoryCreateFailed, Path: dir, Err: err}
	}

	storedAt := s.now()
	base := sanitize.Name(file.Name) + "_" + sanitize.Name(remoteParty) + "_" + storedAt.Format(time.RFC3339)

	staging, err := stage(dir, file.Source)
	if err != nil {
		return nil, &StoreError{Kind: ErrMoveFailed, Path: filepath.Join(dir, base), Err: err}
	}

	final, err := publish(staging, dir, base)
	if err != nil {
		_ = os.Remove(staging)
		return nil, &StoreError{Kind: ErrMoveFailed, Path: filepath.Join(dir, base), Err: err}
	}

	var size int64
	if info, err := os.Stat(final); err == nil {
		size = info.Size()
	}

	return &Artifact{
		Tenant:   tenant,
		Name:     filepath.Base(final),
		Path:     final,
		Size:     size,
		StoredAt: storedAt,
	}, nil
}

func (s *DiskStore) ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
	return os.MkdirAll(dir, s.dirPerm)
}

// stage places the source content in a hidden staging file inside dir. A
// temporary upload is renamed when possible; anything else is copied.
func stage(dir string, src Source) (string, error) {
	staging := filepath.Join(dir, ".upload-"+uuid.NewString()+".part")

	if tf, ok := src.(TempFile); ok {
		if tmp, ok := tf.TempPath(); ok {
			if err := os.Rename(tmp, staging); err == nil {
				_ = os.Chmod(staging, 0o644)
				return staging, nil
			}
			// Different filesystem: fall through to a copy.
		}
	}

	rc, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return staging, nil
}

// publish gives the staged file its final name without replacing an existing
// file. A hard link fails with fs.ErrExist instead of clobbering; filesystems
// without hard links fall back to a checked rename.
func publish(staging, dir, base string) (string, error) {
	for i := 0; i < maxCollisions; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		final := filepath.Join(dir, name)

		err := os.Link(staging, final)
		if err == nil {
			_ = os.Remove(staging)
			return final, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		if _, statErr := os.Lstat(final); statErr == nil {
			continue
		}
		if err := os.Rename(staging, final); err != nil {
			return "", fmt.Errorf("move into place: %w", err)
		}
		return final, nil
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxCollisions)
}
