// Package extract provides text extraction from the document formats a portfolio is kept in.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for extensions with no extractor.
var ErrUnsupported = errors.New("unsupported document format")

// Extractor extracts plain text from document files.
type Extractor struct {
	html *htmlConverter
}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{html: newHTMLConverter()}
}

var extensions = []string{".pdf", ".docx", ".xlsx", ".html", ".htm", ".txt", ".md", ".rst"}

// Extensions returns every extension with an extractor.
func Extensions() []string {
	return append([]string(nil), extensions...)
}

// Supported reports whether ext (with leading dot) has an extractor.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract reads the file at path and returns its raw bytes and text content.
// Returns an error if the file cannot be read, the format is unsupported, or the file is corrupt.
func (e *Extractor) Extract(path string) ([]byte, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	text, err := e.ExtractBytes(content, ext)
	if err != nil {
		return content, "", err
	}
	return content, text, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".html", ".htm":
		return e.html.convert(content)
	case ".txt", ".md", ".rst":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}
