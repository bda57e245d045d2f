package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/tomasbasham/site-receiver/internal/storage"
)

const (
	actionField = "action"
	uploadField = "upload"

	// maxFieldBytes bounds plain form values such as the action.
	maxFieldBytes = 1 << 10
)

// form is the decoded request body.
type form struct {
	action string
	files  []storage.UploadedFile
	batch  bool

	temps []string
}

// cleanup removes temporary files the store did not take over.
func (f *form) cleanup() {
	if f == nil {
		return
	}
	for _, path := range f.temps {
		_ = os.Remove(path)
	}
}

// tempUpload is a file part spooled to a temporary file. The store renames it
// into place.
type tempUpload string

func (t tempUpload) Open() (io.ReadCloser, error) { return os.Open(string(t)) }

func (t tempUpload) TempPath() (string, bool) { return string(t), true }

// readForm decodes the request body. Multipart bodies are streamed part by
// part so each file gets its own transfer status; other bodies are parsed as
// url-encoded forms. The returned form is never nil and holds everything
// decoded before an error.
func (s *Server) readForm(r *http.Request) (*form, error) {
	f := &form{}

	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return f, err
		}
		f.action = r.PostFormValue(actionField)
		return f, nil
	}
	if err != nil {
		return f, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			return f, err
		}

		name := part.FormName()
		switch {
		case name == actionField:
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				_ = part.Close()
				return f, err
			}
			f.action = string(value)
		case isUploadField(name):
			if name != uploadField {
				f.batch = true
			}
			file, err := s.spool(f, part)
			f.files = append(f.files, file)
			if err != nil {
				_ = part.Close()
				return f, err
			}
		}
		_ = part.Close()
	}
}

// spool copies one file part into a temporary file and classifies the
// transfer. A non-nil error means the body can not be read any further.
func (s *Server) spool(f *form, part *multipart.Part) (storage.UploadedFile, error) {
	file := storage.UploadedFile{Name: part.FileName()}
	if file.Name == "" {
		file.Status = storage.TransferNoFile
		_, err := io.Copy(io.Discard, part)
		return file, err
	}

	tmp, err := os.CreateTemp(s.opts.TempDir, "receiver-upload-*")
	if err != nil {
		file.Status = storage.TransferOtherError
		_, err := io.Copy(io.Discard, part)
		return file, err
	}
	f.temps = append(f.temps, tmp.Name())

	var src io.Reader = part
	if s.opts.MaxFileBytes > 0 {
		src = io.LimitReader(part, s.opts.MaxFileBytes+1)
	}
	n, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(copyErr, &maxErr):
		file.Status = storage.TransferSizeExceeded
		return file, copyErr
	case copyErr != nil:
		file.Status = storage.TransferPartialWrite
		return file, copyErr
	case s.opts.MaxFileBytes > 0 && n > s.opts.MaxFileBytes:
		file.Status = storage.TransferSizeExceeded
		_, err := io.Copy(io.Discard, part)
		return file, err
	case closeErr != nil:
		file.Status = storage.TransferOtherError
		return file, nil
	}

	file.Source = tempUpload(tmp.Name())
	file.Status = storage.TransferOK
	return file, nil
}

// isUploadField matches "upload" and the array forms "upload[]" and
// "upload[<key>]".
func isUploadField(name string) bool {
	if name == uploadField {
		return true
	}
	rest, ok := strings.CutPrefix(name, uploadField+"[")
	return ok && strings.HasSuffix(rest, "]")
}
