// Package extract pulls raw text out of uploaded documents. Line structure is
// preserved so repeated headers and footers can be recognised downstream.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrUnsupportedType is returned for file extensions with no extractor.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrLegacyFormat is returned for binary .doc and .ppt files.
	ErrLegacyFormat = errors.New("legacy office format")
)

// Result is the raw text of a document and the number of pages or slides it
// had, when the format has such a notion.
type Result struct {
	Text  string
	Pages int
}

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Supported reports whether name has an extension Extract can handle.
func Supported(name string) bool {
	return Check(name) == nil
}

// Check returns ErrLegacyFormat or ErrUnsupportedType when name cannot be
// extracted.
func Check(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf", ".txt", ".docx", ".pptx":
		return nil
	case ".doc", ".ppt":
		return ErrLegacyFormat
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
}

// Extract reads the whole of src and returns its text according to the
// extension of name.
func (e *Extractor) Extract(name string, src io.Reader) (*Result, error) {
	if err := Check(name); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(name))

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var res *Result
	switch ext {
	case ".pdf":
		res, err = extractPDF(data)
	case ".txt":
		res = &Result{Text: string(data)}
	case ".docx":
		res, err = extractDOCX(data)
	case ".pptx":
		res, err = extractPPTX(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	res.Text = sanitize(res.Text)
	return res, nil
}

func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return norm.NFC.String(s)
}

func newReaderAt(data []byte) (*bytes.Reader, int64) {
	return bytes.NewReader(data), int64(len(data))
}
