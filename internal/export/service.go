package export

import (
	"context"
	"fmt"
	"time"

	"thesisflow/api/internal/store"
)

// DataStore is the read surface a transcript needs.
type DataStore interface {
	ListParticipants(ctx context.Context, conversationID string) ([]store.Participant, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListDrafts(ctx context.Context, conversationID string) ([]store.Draft, error)
	ListVersions(ctx context.Context, draftID string) ([]store.Version, error)
	ListMessages(ctx context.Context, versionID string) ([]store.ChatMessage, error)
}

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	store     DataStore
	renderPDF pdfRenderer
	now       func() time.Time
}

func NewService(store DataStore) *Service {
	return &Service{store: store, renderPDF: exportPDF, now: time.Now}
}

// Export renders every draft, version and message of a conversation.
// Participation is checked by the caller.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	data, err := s.transcript(ctx, req)
	if err != nil {
		return nil, err
	}
	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.renderPDF(ctx, html, data.Title)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func (s *Service) transcript(ctx context.Context, req Request) (Transcript, error) {
	participants, err := s.store.ListParticipants(ctx, req.ConversationID)
	if err != nil {
		return Transcript{}, fmt.Errorf("list participants: %w", err)
	}
	names := make(map[string]string, len(participants))
	data := Transcript{Title: "Thesis feedback", GeneratedAt: s.now().UTC()}
	for _, p := range participants {
		user, err := s.store.GetUserByID(ctx, p.UserID)
		if err != nil {
			return Transcript{}, fmt.Errorf("get participant: %w", err)
		}
		name := user.FullName()
		if name == "" {
			name = user.Email
		}
		names[user.ID] = name
		data.Participants = append(data.Participants, name)
		if user.ID != req.ViewerID {
			data.Title = "Thesis feedback with " + name
		}
	}

	drafts, err := s.store.ListDrafts(ctx, req.ConversationID)
	if err != nil {
		return Transcript{}, fmt.Errorf("list drafts: %w", err)
	}
	for _, draft := range drafts {
		versions, err := s.store.ListVersions(ctx, draft.ID)
		if err != nil {
			return Transcript{}, fmt.Errorf("list versions: %w", err)
		}
		td := TranscriptDraft{Title: draft.Title}
		for i, v := range versions {
			messages, err := s.store.ListMessages(ctx, v.ID)
			if err != nil {
				return Transcript{}, fmt.Errorf("list messages: %w", err)
			}
			tv := TranscriptVersion{Number: i + 1, FileName: v.FileName, Closed: v.IsClosed, CreatedAt: v.CreatedAt}
			for _, m := range messages {
				sender := names[m.SenderID]
				if sender == "" {
					sender = "Former participant"
				}
				tv.Messages = append(tv.Messages, TranscriptMessage{Sender: sender, Text: m.Message, CreatedAt: m.CreatedAt})
			}
			td.Versions = append(td.Versions, tv)
		}
		data.Drafts = append(data.Drafts, td)
	}
	return data, nil
}
