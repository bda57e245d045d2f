package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/site-receiver/internal/storage"
)

// stepClock returns a clock advancing by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

var epoch = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.tmp")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// tempSource is a source backed by a temporary file the store may move.
type tempSource string

func (s tempSource) Open() (io.ReadCloser, error) { return os.Open(string(s)) }

func (s tempSource) TempPath() (string, bool) { return string(s), true }

type failingSource struct{}

func (failingSource) Open() (io.ReadCloser, error) { return nil, errors.New("handle gone") }

func TestDiskStoreStoreCopiesSource(t *testing.T) {
	root := t.TempDir()
	src := writeFile(t, "1,2,3,4\n")
	s := storage.NewDiskStore(root, storage.WithStoreClock(stepClock(epoch, 0)))

	a, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name:   "a.csv",
		Source: storage.FileSource(src),
		Status: storage.TransferOK,
	}, "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "siteA", a.Tenant)
	assert.Equal(t, "a.csv_10.0.0.5_2024-03-01T12:30:00Z", a.Name)
	assert.Equal(t, filepath.Join(root, "d", "siteA", a.Name), a.Path)
	assert.Equal(t, int64(8), a.Size)
	assert.Equal(t, epoch, a.StoredAt)

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "1,2,3,4\n", string(data))

	assert.FileExists(t, src, "copied sources are left alone")
	assertNoStagingFiles(t, filepath.Join(root, "d", "siteA"))
}

func TestDiskStoreStoreMovesTempFile(t *testing.T) {
	root := t.TempDir()
	src := writeFile(t, "payload")
	s := storage.NewDiskStore(root, storage.WithStoreClock(stepClock(epoch, 0)))

	a, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name:   "b.json",
		Source: tempSource(src),
		Status: storage.TransferOK,
	}, "10.0.0.5")
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assertNoStagingFiles(t, filepath.Join(root, "d", "siteA"))
}

func TestDiskStoreSanitizesNames(t *testing.T) {
	root := t.TempDir()
	s := storage.NewDiskStore(root, storage.WithStoreClock(stepClock(epoch, 0)))

	a, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name:   "../../etc/passwd",
		Source: storage.FileSource(writeFile(t, "x")),
		Status: storage.TransferOK,
	}, "10.0.0.5/../")
	require.NoError(t, err)

	assert.Equal(t, "etcpasswd_10.0.0.5_2024-03-01T12:30:00Z", a.Name)
	assert.Equal(t, filepath.Join(root, "d", "siteA"), filepath.Dir(a.Path))
}

func TestDiskStoreDistinctSecondsProduceDistinctArtifacts(t *testing.T) {
	root := t.TempDir()
	s := storage.NewDiskStore(root, storage.WithStoreClock(stepClock(epoch, time.Second)))

	first, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name: "a.csv", Source: storage.FileSource(writeFile(t, "one")), Status: storage.TransferOK,
	}, "10.0.0.5")
	require.NoError(t, err)

	second, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name: "a.csv", Source: storage.FileSource(writeFile(t, "two")), Status: storage.TransferOK,
	}, "10.0.0.5")
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.FileExists(t, first.Path)
	assert.FileExists(t, second.Path)
	assert.Equal(t, "a.csv_10.0.0.5_2024-03-01T12:30:01Z", second.Name)
}

func TestDiskStoreSameSecondDoesNotClobber(t *testing.T) {
	root := t.TempDir()
	s := storage.NewDiskStore(root, storage.WithStoreClock(stepClock(epoch, 0)))

	var paths []string
	for _, content := range []string{"one", "two", "three"} {
		a, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
			Name: "a.csv", Source: storage.FileSource(writeFile(t, content)), Status: storage.TransferOK,
		}, "10.0.0.5")
		require.NoError(t, err)
		paths = append(paths, a.Path)
	}

	base := filepath.Join(root, "d", "siteA", "a.csv_10.0.0.5_2024-03-01T12:30:00Z")
	assert.Equal(t, []string{base, base + "_1", base + "_2"}, paths)
	for i, content := range []string{"one", "two", "three"} {
		data, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestDiskStoreTransferFailedTouchesNothing(t *testing.T) {
	root := t.TempDir()
	s := storage.NewDiskStore(root)

	for _, status := range []storage.TransferStatus{
		storage.TransferSizeExceeded,
		storage.TransferPartialWrite,
		storage.TransferNoFile,
		storage.TransferOtherError,
	} {
		_, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
			Name: "a.csv", Source: storage.FileSource(writeFile(t, "x")), Status: status,
		}, "10.0.0.5")
		require.Error(t, err, status.String())
		assert.ErrorIs(t, err, storage.ErrTransferFailed)

		var storeErr *storage.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "a.csv", storeErr.Name)
	}

	assert.NoDirExists(t, filepath.Join(root, "d"))
}

func TestDiskStoreDirectoryCreateFailed(t *testing.T) {
	root := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(root, nil, 0o644))

	_, err := storage.NewDiskStore(root).Store(context.Background(), "siteA", storage.UploadedFile{
		Name: "a.csv", Source: storage.FileSource(writeFile(t, "x")), Status: storage.TransferOK,
	}, "10.0.0.5")
	assert.ErrorIs(t, err, storage.ErrDirectoryCreateFailed)
}

func TestDiskStoreMoveFailedKeepsDirectory(t *testing.T) {
	root := t.TempDir()
	s := storage.NewDiskStore(root)

	_, err := s.Store(context.Background(), "siteA", storage.UploadedFile{
		Name: "a.csv", Source: failingSource{}, Status: storage.TransferOK,
	}, "10.0.0.5")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrMoveFailed)
	assert.Contains(t, err.Error(), "failed storing file")

	dir := filepath.Join(root, "d", "siteA")
	assert.DirExists(t, dir)
	assertNoStagingFiles(t, dir)
}

func assertNoStagingFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".upload-"), "leftover staging file %s", e.Name())
	}
}
