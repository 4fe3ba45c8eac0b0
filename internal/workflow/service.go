// Package workflow implements draft submission and revision. A submission
// writes its draft, blob, version and opening message together or not at all.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/blob"
	"thesisflow/api/internal/metrics"
	"thesisflow/api/internal/rbac"
	"thesisflow/api/internal/store"

	"github.com/rs/zerolog"
)

const (
	kindNew      = "new"
	kindModified = "modified"

	maxTitleLength = 200
)

// Publisher announces a committed message to live viewers.
type Publisher interface {
	Publish(ctx context.Context, msg store.ChatMessage) error
}

// Archiver keeps an append-only history of submitted versions.
type Archiver interface {
	RecordSubmission(ctx context.Context, draft store.Draft, version store.Version, actorID string) error
}

// Notifier tells the recipient of a new draft about it.
type Notifier interface {
	NotifyDraftSubmitted(ctx context.Context, recipientID, senderID string, draft store.Draft, version store.Version) error
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type NewDraftInput struct {
	RecipientID string
	Title       string
	Message     string
	File        File
}

type ModifiedDraftInput struct {
	Message string
	File    File
}

// Submission is everything a successful submission wrote.
type Submission struct {
	Conversation        store.Conversation `json:"conversation"`
	ConversationCreated bool               `json:"conversationCreated"`
	Draft               store.Draft        `json:"draft"`
	Version             store.Version      `json:"version"`
	Message             store.ChatMessage  `json:"message"`
	Closed              int64              `json:"closedVersions"`
	Pages               int                `json:"pages"`
}

type Service struct {
	records  store.Store
	blobs    blob.Store
	bucket   string
	feed     Publisher
	archive  Archiver
	notifier Notifier

	background sync.WaitGroup
}

type Option func(*Service)

func WithBucket(bucket string) Option {
	return func(s *Service) {
		if strings.TrimSpace(bucket) != "" {
			s.bucket = bucket
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.feed = p }
}

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func New(records store.Store, blobs blob.Store, opts ...Option) *Service {
	s := &Service{records: records, blobs: blobs, bucket: blob.DefaultBucket}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) SubmitNewDraft(ctx context.Context, actor auth.Identity, in NewDraftInput) (Submission, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionSubmitDraft) {
		return Submission{}, ErrForbidden
	}
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.RecipientID == "":
		return Submission{}, invalid("recipientId", "recipient is required")
	case in.RecipientID == actor.UserID:
		return Submission{}, invalid("recipientId", "recipient must be another user")
	case in.Title == "":
		return Submission{}, invalid("title", "title is required")
	case len(in.Title) > maxTitleLength:
		return Submission{}, invalid("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	info, err := checkFile(in.File)
	if err != nil {
		return Submission{}, err
	}
	if in.Message == "" {
		return Submission{}, invalid("message", "message is required")
	}

	var (
		sub      Submission
		uploaded *blob.Object
	)
	err = s.records.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetUserByID(ctx, in.RecipientID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("recipientId", "recipient does not exist")
			}
			return err
		}
		conv, created, err := findOrCreate(ctx, q, actor.UserID, in.RecipientID)
		if err != nil {
			return err
		}
		draft, err := q.CreateDraft(ctx, conv.ID, in.Title)
		if err != nil {
			return fmt.Errorf("create draft: %w", err)
		}
		fileName := blob.SanitizeFileName(in.File.Name)
		obj, err := s.upload(ctx, draft.ID, fileName, in.File)
		if err != nil {
			return err
		}
		uploaded = &obj
		version, closed, err := openVersion(ctx, q, draft.ID, obj.Path, fileName)
		if err != nil {
			return err
		}
		msg, err := q.CreateMessage(ctx, version.ID, actor.UserID, newDraftNotice(in.Message, draft.Title, fileName))
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		sub = Submission{
			Conversation:        conv,
			ConversationCreated: created,
			Draft:               draft,
			Version:             version,
			Message:             msg,
			Closed:              closed,
			Pages:               info.Pages,
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, uploaded)
		metrics.SubmissionsTotal.WithLabelValues(kindNew, outcome(err)).Inc()
		return Submission{}, err
	}
	metrics.SubmissionsTotal.WithLabelValues(kindNew, "ok").Inc()
	zerolog.Ctx(ctx).Info().
		Str("component", "workflow").
		Str("draft_id", sub.Draft.ID).
		Str("version_id", sub.Version.ID).
		Bool("conversation_created", sub.ConversationCreated).
		Msg("new draft submitted")

	s.afterCommit(ctx, actor, sub)
	if s.notifier != nil {
		s.notify(ctx, in.RecipientID, actor.UserID, sub)
	}
	return sub, nil
}

func (s *Service) SubmitModifiedDraft(ctx context.Context, actor auth.Identity, draftID string, in ModifiedDraftInput) (Submission, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionReviseDraft) {
		return Submission{}, ErrForbidden
	}
	draftID = strings.TrimSpace(draftID)
	in.Message = strings.TrimSpace(in.Message)
	if draftID == "" {
		return Submission{}, invalid("draftId", "draft is required")
	}
	info, err := checkFile(in.File)
	if err != nil {
		return Submission{}, err
	}
	if in.Message == "" {
		return Submission{}, invalid("message", "message is required")
	}

	var (
		sub      Submission
		uploaded *blob.Object
	)
	err = s.records.InTx(ctx, func(q store.Queries) error {
		draft, err := q.LockDraft(ctx, draftID)
		if err != nil {
			return fmt.Errorf("lock draft: %w", err)
		}
		if err := requireParticipant(ctx, q, draft.ConversationID, actor.UserID); err != nil {
			return err
		}
		conv, err := q.GetConversation(ctx, draft.ConversationID)
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
		existing, err := q.ListVersions(ctx, draft.ID)
		if err != nil {
			return fmt.Errorf("list versions: %w", err)
		}
		taken := make(map[string]bool, len(existing))
		for _, v := range existing {
			taken[pathBase(v.FileURL)] = true
		}
		fileName := blob.SanitizeFileName(in.File.Name)
		obj, err := s.upload(ctx, draft.ID, blob.UniqueFileName(fileName, taken), in.File)
		if err != nil {
			return err
		}
		uploaded = &obj
		version, closed, err := openVersion(ctx, q, draft.ID, obj.Path, fileName)
		if err != nil {
			return err
		}
		msg, err := q.CreateMessage(ctx, version.ID, actor.UserID, in.Message)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		sub = Submission{
			Conversation: conv,
			Draft:        draft,
			Version:      version,
			Message:      msg,
			Closed:       closed,
			Pages:        info.Pages,
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, uploaded)
		metrics.SubmissionsTotal.WithLabelValues(kindModified, outcome(err)).Inc()
		return Submission{}, err
	}
	metrics.SubmissionsTotal.WithLabelValues(kindModified, "ok").Inc()
	zerolog.Ctx(ctx).Info().
		Str("component", "workflow").
		Str("draft_id", sub.Draft.ID).
		Str("version_id", sub.Version.ID).
		Int64("closed_versions", sub.Closed).
		Msg("modified draft submitted")

	s.afterCommit(ctx, actor, sub)
	return sub, nil
}

// CloseOlderVersionsForDraft marks every version of the draft closed and
// reports how many were open.
func (s *Service) CloseOlderVersionsForDraft(ctx context.Context, draftID string) (int64, error) {
	if strings.TrimSpace(draftID) == "" {
		return 0, invalid("draftId", "draft is required")
	}
	closed, err := s.records.CloseVersions(ctx, draftID)
	if err != nil {
		return 0, fmt.Errorf("close versions: %w", err)
	}
	return closed, nil
}

// PostMessage appends a chat message to an open version.
func (s *Service) PostMessage(ctx context.Context, actor auth.Identity, versionID, text string) (store.ChatMessage, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionComment) {
		return store.ChatMessage{}, ErrForbidden
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return store.ChatMessage{}, invalid("message", "message is required")
	}

	var msg store.ChatMessage
	err := s.records.InTx(ctx, func(q store.Queries) error {
		version, err := q.GetVersion(ctx, versionID)
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		// Serialize with submissions that could close this version.
		draft, err := q.LockDraft(ctx, version.DraftID)
		if err != nil {
			return fmt.Errorf("lock draft: %w", err)
		}
		if err := requireParticipant(ctx, q, draft.ConversationID, actor.UserID); err != nil {
			return err
		}
		version, err = q.GetVersion(ctx, versionID)
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		if version.IsClosed {
			return ErrVersionClosed
		}
		msg, err = q.CreateMessage(ctx, versionID, actor.UserID, text)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.ChatMessage{}, err
	}
	s.publish(ctx, msg)
	return msg, nil
}

func checkFile(f File) (blob.PDFInfo, error) {
	if len(f.Data) == 0 {
		return blob.PDFInfo{}, invalid("file", "file is required")
	}
	info, err := blob.InspectPDF(f.Data)
	if err != nil {
		return blob.PDFInfo{}, invalid("file", "file must be a PDF document")
	}
	return info, nil
}

func (s *Service) upload(ctx context.Context, draftID, objectName string, f File) (blob.Object, error) {
	if s.blobs == nil {
		return blob.Object{}, ErrStorageUnavailable
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	obj, err := s.blobs.Upload(ctx, s.bucket, blob.DraftPath(draftID, objectName), bytes.NewReader(f.Data), int64(len(f.Data)), contentType)
	if err != nil {
		return blob.Object{}, fmt.Errorf("upload draft file: %w", err)
	}
	return obj, nil
}

// openVersion closes the draft's open versions and opens a new one.
func openVersion(ctx context.Context, q store.Queries, draftID, objectPath, fileName string) (store.Version, int64, error) {
	closed, err := q.CloseVersions(ctx, draftID)
	if err != nil {
		return store.Version{}, 0, fmt.Errorf("close versions: %w", err)
	}
	version, err := q.CreateVersion(ctx, draftID, objectPath, fileName)
	if err != nil {
		return store.Version{}, 0, fmt.Errorf("create version: %w", err)
	}
	return version, closed, nil
}

// compensate removes a blob uploaded by a submission that did not commit.
func (s *Service) compensate(ctx context.Context, obj *blob.Object) {
	if obj == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, obj.Bucket, obj.Path); err != nil {
		metrics.CompensationsTotal.WithLabelValues("error").Inc()
		zerolog.Ctx(ctx).Error().Err(err).
			Str("component", "workflow").
			Str("object", obj.Path).
			Msg("remove orphaned draft file")
		return
	}
	metrics.CompensationsTotal.WithLabelValues("ok").Inc()
}

func (s *Service) afterCommit(ctx context.Context, actor auth.Identity, sub Submission) {
	s.publish(ctx, sub.Message)
	if s.archive == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.archive.RecordSubmission(ctx, sub.Draft, sub.Version, actor.UserID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("archive").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("component", "workflow").
			Str("draft_id", sub.Draft.ID).
			Msg("archive submission")
	}
}

func (s *Service) publish(ctx context.Context, msg store.ChatMessage) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(context.WithoutCancel(ctx), msg); err != nil {
		metrics.SideEffectFailures.WithLabelValues("feed").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("component", "workflow").
			Str("version_id", msg.VersionID).
			Msg("publish message")
	}
}

func (s *Service) notify(ctx context.Context, recipientID, senderID string, sub Submission) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.notifier.NotifyDraftSubmitted(ctx, recipientID, senderID, sub.Draft, sub.Version); err != nil {
			metrics.SideEffectFailures.WithLabelValues("email").Inc()
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("component", "workflow").
				Str("draft_id", sub.Draft.ID).
				Msg("notify recipient")
		}
	}()
}

func newDraftNotice(message, title, fileName string) string {
	return message + "\n\nDraft: " + title + "\n📄 File: " + fileName
}

func pathBase(objectPath string) string {
	if i := strings.LastIndex(objectPath, "/"); i >= 0 {
		return objectPath[i+1:]
	}
	return objectPath
}

func outcome(err error) string {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrOpenVersionConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
