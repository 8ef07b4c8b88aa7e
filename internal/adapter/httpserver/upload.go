package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/pkg/textx"
)

// essayField is the multipart field carrying an uploaded essay.
const essayField = "essay"

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

// allowedMIMEFor accepts plain text uploads. Some detectors report text/html
// or similar for prose, so any text/* is accepted for a .txt name.
func allowedMIMEFor(m, filename string) bool {
	if !strings.EqualFold(filepath.Ext(filename), ".txt") {
		return false
	}
	return strings.HasPrefix(strings.ToLower(m), "text/")
}

// readUploadedEssay extracts the essay and optional question id from a
// multipart request. r.Body must already be size limited.
func readUploadedEssay(r *http.Request, maxBytes int64) (essay, questionID string, err error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", "", fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidArgument, maxBytes)
		}
		return "", "", fmt.Errorf("%w: invalid multipart form: %v", domain.ErrInvalidArgument, err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	f, hdr, err := r.FormFile(essayField)
	if err != nil {
		return "", "", fmt.Errorf("%w: missing %q file", domain.ErrInvalidArgument, essayField)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err)
	}
	if int64(len(data)) > maxBytes {
		return "", "", fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidArgument, maxBytes)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("%w: empty file", domain.ErrInvalidArgument)
	}
	mt := mimetype.Detect(data)
	if !allowedMIMEFor(mt.String(), hdr.Filename) {
		return "", "", fmt.Errorf("%w: unsupported file %q (%s), upload a .txt file", domain.ErrInvalidArgument, hdr.Filename, mt.String())
	}
	return textx.SanitizeText(string(data)), strings.TrimSpace(r.FormValue("question_id")), nil
}
