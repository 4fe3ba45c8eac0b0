// Package blob stores uploaded draft files.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultBucket holds every uploaded draft file.
const DefaultBucket = "thesis-documents"

var (
	ErrNotPDF      = errors.New("file is not a PDF")
	ErrInvalidPath = errors.New("invalid object path")
)

type Object struct {
	Bucket      string
	Path        string
	Size        int64
	ContentType string
}

// Store is the object storage surface used by the versioning workflow.
type Store interface {
	Upload(ctx context.Context, bucket, objectPath string, r io.Reader, size int64, contentType string) (Object, error)
	URL(ctx context.Context, bucket, objectPath string) (string, error)
	Delete(ctx context.Context, bucket, objectPath string) error
}

// DraftPath is the object path of a draft file: drafts/<draftID>/<fileName>.
func DraftPath(draftID, fileName string) string {
	return path.Join("drafts", draftID, SanitizeFileName(fileName))
}

// SanitizeFileName keeps the base name and drops characters that would
// escape the draft prefix or break URLs.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			continue
		case strings.ContainsRune(`<>:"|?*#%`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ". ")
	if cleaned == "" || cleaned == "/" {
		return "draft.pdf"
	}
	return cleaned
}

// UniqueFileName returns name, or name with a -vN suffix before the
// extension when name is already taken.
func UniqueFileName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-v%d%s", stem, n, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

func validPath(objectPath string) error {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") {
		return ErrInvalidPath
	}
	for _, part := range strings.Split(objectPath, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}

type PDFInfo struct {
	Pages int `json:"pages"`
}

// InspectPDF checks that data parses as a PDF and reports its page count.
func InspectPDF(data []byte) (PDFInfo, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return PDFInfo{}, ErrNotPDF
	}
	info, err := inspect(data)
	if err != nil {
		return PDFInfo{}, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return info, nil
}

func inspect(data []byte) (info PDFInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFInfo{}, err
	}
	return PDFInfo{Pages: reader.NumPage()}, nil
}
