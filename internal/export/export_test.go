package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"thesisflow/api/internal/store"
)

func seededStore(t *testing.T) (*store.MemoryStore, store.Conversation, store.User) {
	t.Helper()
	ctx := context.Background()
	records := store.NewMemoryStore()
	student, err := records.CreateUser(ctx, "student@example.edu", "h")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	adviser, err := records.CreateUser(ctx, "adviser@example.edu", "h")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := records.UpdateProfile(ctx, adviser.ID, store.Profile{FirstName: "Marie", LastName: "Curie", Role: "adviser", Department: "Physics"}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	conv, _, err := records.CreateConversation(ctx, student.ID, adviser.ID)
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	draft, err := records.CreateDraft(ctx, conv.ID, "Chapter <1>")
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	v1, err := records.CreateVersion(ctx, draft.ID, "drafts/d/ch1.pdf", "ch1.pdf")
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if _, err := records.CreateMessage(ctx, v1.ID, student.ID, "first pass"); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if _, err := records.CreateMessage(ctx, v1.ID, adviser.ID, "needs sources"); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if _, err := records.CloseVersions(ctx, draft.ID); err != nil {
		t.Fatalf("CloseVersions() error = %v", err)
	}
	if _, err := records.CreateVersion(ctx, draft.ID, "drafts/d/ch1-v2.pdf", "ch1.pdf"); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	return records, conv, student
}

func TestExportHTMLTranscript(t *testing.T) {
	records, conv, student := seededStore(t)
	svc := NewService(records)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	result, err := svc.Export(context.Background(), Request{ConversationID: conv.ID, ViewerID: student.ID, Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(result.Data)
	if result.MimeType != "text/html; charset=utf-8" || result.Filename != "Thesis-feedback-with-Marie-Curie.html" {
		t.Fatalf("result = %s %s", result.MimeType, result.Filename)
	}
	for _, want := range []string{"Thesis feedback with Marie Curie", "Chapter &lt;1&gt;", "Version 1: ch1.pdf", "Version 2: ch1.pdf", "needs sources", "student@example.edu", "May 1, 2024"} {
		if !strings.Contains(html, want) {
			t.Errorf("transcript missing %q", want)
		}
	}
	if strings.Index(html, "first pass") > strings.Index(html, "needs sources") {
		t.Error("messages out of order")
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	records, conv, student := seededStore(t)
	svc := NewService(records)
	var gotHTML string
	svc.renderPDF = func(ctx context.Context, html, title string) (*Result, error) {
		gotHTML = html
		return &Result{Data: []byte("%PDF-"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	result, err := svc.Export(context.Background(), Request{ConversationID: conv.ID, ViewerID: student.ID, Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" || !strings.Contains(gotHTML, "<h1>") {
		t.Fatalf("unexpected pdf export %+v", result)
	}
}

func TestExportPDFMissingChrome(t *testing.T) {
	records, conv, student := seededStore(t)
	svc := NewService(records)
	svc.renderPDF = func(ctx context.Context, html, title string) (*Result, error) {
		return nil, ErrPDFDependencyMissing
	}
	_, err := svc.Export(context.Background(), Request{ConversationID: conv.ID, ViewerID: student.ID, Format: FormatPDF})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("Export() error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatHTML, "html": FormatHTML, "pdf": FormatPDF} {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(docx) error = %v", err)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("<p>a b+é</p>")
	if got != "%3Cp%3Ea%20b%2B%C3%A9%3C%2Fp%3E" {
		t.Fatalf("percentEncodeForDataURL() = %s", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Thesis feedback": "Thesis-feedback",
		"../../etc":       "etc",
		"":                "transcript",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeFilename(strings.Repeat("a", 80)); len(got) != 50 {
		t.Errorf("sanitizeFilename(long) len = %d", len(got))
	}
}
