// Package export renders a conversation transcript as HTML or PDF.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts an empty value as HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	ConversationID string
	ViewerID       string
	Format         Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// Transcript is the data rendered into the transcript template.
type Transcript struct {
	Title        string
	Participants []string
	GeneratedAt  time.Time
	Drafts       []TranscriptDraft
}

type TranscriptDraft struct {
	Title    string
	Versions []TranscriptVersion
}

type TranscriptVersion struct {
	Number    int
	FileName  string
	Closed    bool
	CreatedAt time.Time
	Messages  []TranscriptMessage
}

type TranscriptMessage struct {
	Sender    string
	Text      string
	CreatedAt time.Time
}
