package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"thesisflow/api/internal/testutil"
)

func TestInspectPDF(t *testing.T) {
	info, err := InspectPDF(testutil.PDF(1))
	if err != nil {
		t.Fatalf("InspectPDF() error = %v", err)
	}
	if info.Pages != 1 {
		t.Fatalf("Pages = %d, want 1", info.Pages)
	}
}

func TestInspectPDFRejectsOtherFiles(t *testing.T) {
	for name, data := range map[string][]byte{
		"text":      []byte("hello world"),
		"empty":     nil,
		"truncated": []byte("%PDF-1.4\ngarbage"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := InspectPDF(data); !errors.Is(err, ErrNotPDF) {
				t.Fatalf("expected ErrNotPDF, got %v", err)
			}
		})
	}
}

func TestDraftPath(t *testing.T) {
	cases := map[string]string{
		"chapter1.pdf":          "drafts/d1/chapter1.pdf",
		"../../etc/passwd":      "drafts/d1/passwd",
		`C:\Users\me\final.pdf`: "drafts/d1/final.pdf",
		"what?.pdf":             "drafts/d1/what_.pdf",
		"  ":                    "drafts/d1/draft.pdf",
	}
	for in, want := range cases {
		if got := DraftPath("d1", in); got != want {
			t.Errorf("DraftPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUniqueFileName(t *testing.T) {
	taken := map[string]bool{"thesis.pdf": true, "thesis-v2.pdf": true}
	if got := UniqueFileName("thesis.pdf", taken); got != "thesis-v3.pdf" {
		t.Fatalf("UniqueFileName() = %q", got)
	}
	if got := UniqueFileName("new.pdf", taken); got != "new.pdf" {
		t.Fatalf("UniqueFileName() = %q", got)
	}
}

func TestLocalStoreLifecycle(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	ctx := context.Background()
	data := testutil.PDF(1)

	obj, err := s.Upload(ctx, DefaultBucket, "drafts/d1/my thesis.pdf", bytes.NewReader(data), int64(len(data)), "application/pdf")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if obj.Size != int64(len(data)) {
		t.Fatalf("Size = %d", obj.Size)
	}

	url, err := s.URL(ctx, DefaultBucket, obj.Path)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if url != "/files/thesis-documents/drafts/d1/my%20thesis.pdf" {
		t.Fatalf("URL() = %q", url)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + url)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, data) {
		t.Fatalf("served status=%d len=%d", resp.StatusCode, len(body))
	}

	if err := s.Delete(ctx, DefaultBucket, obj.Path); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.URL(ctx, DefaultBucket, obj.Path); err == nil {
		t.Fatal("expected URL() to fail after delete")
	}
	if err := s.Delete(ctx, DefaultBucket, obj.Path); err != nil {
		t.Fatalf("second Delete() should be a no-op, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	_, err = s.Upload(context.Background(), DefaultBucket, "drafts/../../escape.pdf", strings.NewReader("x"), 1, "application/pdf")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}
