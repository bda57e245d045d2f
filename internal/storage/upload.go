package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// TransferStatus is the per-file status reported by the transport that
// received the upload.
type TransferStatus int

const (
	TransferOK TransferStatus = iota
	TransferSizeExceeded
	TransferPartialWrite
	TransferNoFile
	TransferOtherError
)

func (s TransferStatus) String() string {
	switch s {
	case TransferOK:
		return "ok"
	case TransferSizeExceeded:
		return "size exceeded"
	case TransferPartialWrite:
		return "partial write"
	case TransferNoFile:
		return "no file"
	default:
		return "transport error"
	}
}

// Source is the transient handle of an uploaded file's content.
type Source interface {
	Open() (io.ReadCloser, error)
}

// TempFile is implemented by sources whose content already sits in a
// temporary file the store may take ownership of by renaming it.
type TempFile interface {
	TempPath() (string, bool)
}

// UploadedFile is one file part of a request. It is consumed exactly once by
// the store.
type UploadedFile struct {
	// Name is the file name declared by the client. It is untrusted.
	Name   string
	Source Source
	Status TransferStatus
}

// Artifact is an uploaded file persisted under its site directory.
type Artifact struct {
	Tenant   string
	Name     string
	Path     string
	Size     int64
	StoredAt time.Time
}

var (
	ErrTransferFailed        = errors.New("upload error")
	ErrDirectoryCreateFailed = errors.New("failed to create site directory for storage")
	ErrMoveFailed            = errors.New("failed storing file")
)

// StoreError describes why a single file could not be stored. Kind is one of
// ErrTransferFailed, ErrDirectoryCreateFailed or ErrMoveFailed, and errors.Is
// matches both Kind and the underlying cause.
type StoreError struct {
	Kind error
	Name string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	target := e.Name
	if e.Path != "" {
		target = e.Path
	}
	if e.Err == nil {
		return fmt.Sprintf("storage: %s %s", e.Kind, target)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Kind, target, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FileSource reads content from a file the store must not take ownership of.
// The store copies it.
type FileSource string

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}
