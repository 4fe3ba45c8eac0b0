package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"thesisflow/api/internal/archive"
	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/authpw"
	"thesisflow/api/internal/blob"
	"thesisflow/api/internal/config"
	"thesisflow/api/internal/export"
	"thesisflow/api/internal/feed"
	"thesisflow/api/internal/feedback"
	"thesisflow/api/internal/rbac"
	"thesisflow/api/internal/search"
	"thesisflow/api/internal/store"
	"thesisflow/api/internal/util"
	"thesisflow/api/internal/workflow"

	"github.com/rs/zerolog"
)

type Session struct {
	Token        string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	User         store.User `json:"user"`
}

type ProfileInput struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// sessionStore keeps refresh tokens. The Record Store implements it; Redis
// replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	records  store.Store
	sessions sessionStore
	blobs    blob.Store
	feed     feed.Feed
	search   *search.Service
	archive  *archive.Archive
	notifier workflow.Notifier
	codes    authpw.CodeSender

	passwords *authpw.Service
	workflow  *workflow.Service
	bundles   *feedback.Aggregator
	exporter  *export.Service
}

type Option func(*Service)

func WithSessionStore(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithBlobStore(blobs blob.Store) Option {
	return func(s *Service) { s.blobs = blobs }
}

func WithFeed(f feed.Feed) Option {
	return func(s *Service) { s.feed = f }
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithArchive(a *archive.Archive) Option {
	return func(s *Service) { s.archive = a }
}

func WithNotifier(n workflow.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCodeSender mails sign-up confirmation codes.
func WithCodeSender(sender authpw.CodeSender) Option {
	return func(s *Service) { s.codes = sender }
}

// New wires the application. Without options it runs on the Record Store
// alone with an in-process feed; without a blob store uploads fail with
// STORAGE_UNAVAILABLE.
func New(cfg config.Config, records store.Store, opts ...Option) *Service {
	s := &Service{cfg: cfg, records: records, sessions: records}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = feed.NewHub()
	}
	if s.search == nil {
		s.search = search.NewService(nil, records)
	}

	wfOpts := []workflow.Option{
		workflow.WithBucket(cfg.BlobBucket),
		workflow.WithPublisher(s.feed),
	}
	if s.archive != nil {
		wfOpts = append(wfOpts, workflow.WithArchiver(s.archive))
	}
	if s.notifier != nil {
		wfOpts = append(wfOpts, workflow.WithNotifier(s.notifier))
	}
	var pwOpts []authpw.Option
	if s.codes != nil {
		pwOpts = append(pwOpts, authpw.WithCodeSender(s.codes))
	}
	s.passwords = authpw.NewService(records, pwOpts...)
	s.workflow = workflow.New(records, s.blobs, wfOpts...)
	s.bundles = feedback.NewAggregator(records, cfg.BundleTimeout)
	s.exporter = export.NewService(records)
	return s
}

// Bootstrap rebuilds the adviser index.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.search.ReindexAll(ctx)
	return nil
}

// Drain waits for background notifications before shutdown.
func (s *Service) Drain() {
	s.workflow.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.records.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, email, password string) (authpw.SignUpResult, error) {
	return s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password})
}

// VerifyEmail confirms the account and signs it in.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (Session, error) {
	user, err := s.passwords.VerifyEmail(ctx, authpw.VerifyRequest{Email: email, Code: code})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) ResendCode(ctx context.Context, email string) (authpw.SignUpResult, error) {
	return s.passwords.ResendCode(ctx, email)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.records.GetUserByID(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	identity := auth.Identity{UserID: user.ID, Role: user.Role}
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), identity, util.NewID("jti"), s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	refresh, err := util.NewToken(32)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}
	return Session{Token: token, RefreshToken: refresh, ExpiresAt: expiresAt, User: user}, nil
}

// Identify resolves a bearer token to the caller. The role comes from the
// user record so a completed profile takes effect without re-signing in.
func (s *Service) Identify(ctx context.Context, token string) (auth.Identity, error) {
	parsed, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return auth.Identity{}, err
	}
	user, err := s.records.GetUserByID(ctx, parsed.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: user.ID, Role: user.Role}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) Profile(ctx context.Context, actor auth.Identity) (store.User, error) {
	return s.records.GetUserByID(ctx, actor.UserID)
}

// UpdateProfile completes or edits the caller's profile. The role is chosen
// once and cannot change afterwards.
func (s *Service) UpdateProfile(ctx context.Context, actor auth.Identity, in ProfileInput) (store.User, error) {
	profile := store.Profile{
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		Role:       strings.TrimSpace(strings.ToLower(in.Role)),
		Department: strings.TrimSpace(in.Department),
	}
	switch {
	case profile.FirstName == "":
		return store.User{}, validationError("firstName", "first name is required")
	case profile.LastName == "":
		return store.User{}, validationError("lastName", "last name is required")
	case !rbac.Valid(profile.Role):
		return store.User{}, validationError("role", "role must be student or adviser")
	case profile.Department == "":
		return store.User{}, validationError("department", "department is required")
	}

	current, err := s.records.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return store.User{}, err
	}
	if current.Role != "" && current.Role != profile.Role {
		return store.User{}, domainError(http.StatusConflict, "ROLE_LOCKED", "Role cannot be changed once set", nil)
	}
	user, err := s.records.UpdateProfile(ctx, actor.UserID, profile)
	if err != nil {
		return store.User{}, err
	}
	s.search.IndexUser(user)
	return user, nil
}

func (s *Service) SearchAdvisers(ctx context.Context, actor auth.Identity, query, department string) (search.Response, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionSearchAdviser) {
		return search.Response{}, workflow.ErrForbidden
	}
	return s.search.Search(ctx, search.Query{Text: query, Department: department, Limit: 50}), nil
}

func (s *Service) Dashboard(ctx context.Context, actor auth.Identity) (store.DashboardCounts, error) {
	return s.bundles.Dashboard(ctx, actor)
}

func (s *Service) ListConversations(ctx context.Context, actor auth.Identity) ([]store.ConversationSummary, error) {
	return s.bundles.ListConversations(ctx, actor)
}

// ConversationBundle runs the participant check under the same deadline as
// the bundle load. A check that runs out of time yields a timed-out bundle.
func (s *Service) ConversationBundle(ctx context.Context, actor auth.Identity, conversationID string) (feedback.Bundle, error) {
	timeout := s.cfg.BundleTimeout
	if timeout <= 0 {
		timeout = feedback.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.workflow.RequireParticipant(ctx, conversationID, actor.UserID); err != nil {
		if ctx.Err() != nil && !errors.Is(err, workflow.ErrForbidden) && !errors.Is(err, store.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("bundle participant check timed out")
			return feedback.TimedOut(), nil
		}
		return feedback.Bundle{}, err
	}
	return s.bundles.LoadConversationBundle(ctx, conversationID, actor, timeout), nil
}

func (s *Service) SubmitNewDraft(ctx context.Context, actor auth.Identity, in workflow.NewDraftInput) (workflow.Submission, error) {
	return s.workflow.SubmitNewDraft(ctx, actor, in)
}

func (s *Service) SubmitModifiedDraft(ctx context.Context, actor auth.Identity, draftID string, in workflow.ModifiedDraftInput) (workflow.Submission, error) {
	return s.workflow.SubmitModifiedDraft(ctx, actor, draftID, in)
}

func (s *Service) PostMessage(ctx context.Context, actor auth.Identity, versionID, text string) (store.ChatMessage, error) {
	return s.workflow.PostMessage(ctx, actor, versionID, text)
}

func (s *Service) draftFor(ctx context.Context, actor auth.Identity, draftID string) (store.Draft, error) {
	draft, err := s.records.GetDraft(ctx, draftID)
	if err != nil {
		return store.Draft{}, err
	}
	if err := s.workflow.RequireParticipant(ctx, draft.ConversationID, actor.UserID); err != nil {
		return store.Draft{}, err
	}
	return draft, nil
}

func (s *Service) versionFor(ctx context.Context, actor auth.Identity, versionID string) (store.Version, error) {
	version, err := s.records.GetVersion(ctx, versionID)
	if err != nil {
		return store.Version{}, err
	}
	if _, err := s.draftFor(ctx, actor, version.DraftID); err != nil {
		return store.Version{}, err
	}
	return version, nil
}

func (s *Service) ListVersions(ctx context.Context, actor auth.Identity, draftID string) ([]store.Version, error) {
	if _, err := s.draftFor(ctx, actor, draftID); err != nil {
		return nil, err
	}
	return s.records.ListVersions(ctx, draftID)
}

func (s *Service) ListMessages(ctx context.Context, actor auth.Identity, versionID string) ([]store.ChatMessage, error) {
	if _, err := s.versionFor(ctx, actor, versionID); err != nil {
		return nil, err
	}
	return s.records.ListMessages(ctx, versionID)
}

// FileURL returns a link the browser can fetch the version's PDF from.
func (s *Service) FileURL(ctx context.Context, actor auth.Identity, versionID string) (string, store.Version, error) {
	version, err := s.versionFor(ctx, actor, versionID)
	if err != nil {
		return "", store.Version{}, err
	}
	if s.blobs == nil {
		return "", store.Version{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	url, err := s.blobs.URL(ctx, s.bucket(), version.FileURL)
	if err != nil {
		return "", store.Version{}, fmt.Errorf("file url: %w", err)
	}
	return url, version, nil
}

func (s *Service) DraftHistory(ctx context.Context, actor auth.Identity, draftID string) ([]archive.Commit, error) {
	if _, err := s.draftFor(ctx, actor, draftID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Submission archive is not configured", nil)
	}
	items, err := s.archive.History(ctx, draftID, 100)
	if errors.Is(err, archive.ErrNoHistory) {
		return []archive.Commit{}, nil
	}
	return items, err
}

// DraftManifest returns the draft's manifest as of a commit hash or a vN tag.
func (s *Service) DraftManifest(ctx context.Context, actor auth.Identity, draftID, revision string) (archive.Manifest, error) {
	if _, err := s.draftFor(ctx, actor, draftID); err != nil {
		return archive.Manifest{}, err
	}
	if s.archive == nil {
		return archive.Manifest{}, domainError(http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Submission archive is not configured", nil)
	}
	manifest, err := s.archive.ManifestAt(ctx, draftID, revision)
	if errors.Is(err, archive.ErrNoHistory) {
		return archive.Manifest{}, store.ErrNotFound
	}
	return manifest, err
}

func (s *Service) Export(ctx context.Context, actor auth.Identity, conversationID, format string) (*export.Result, error) {
	if !rbac.Can(rbac.Normalize(actor.Role), rbac.ActionExport) {
		return nil, workflow.ErrForbidden
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if err := s.workflow.RequireParticipant(ctx, conversationID, actor.UserID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{ConversationID: conversationID, ViewerID: actor.UserID, Format: parsed})
}

// WatchVersion subscribes to new messages on a version and then loads the
// current list, so nothing committed in between is missed. The caller merges
// the two by message id and must Close the subscription.
func (s *Service) WatchVersion(ctx context.Context, actor auth.Identity, versionID string) (*feed.Subscription, []store.ChatMessage, error) {
	if _, err := s.versionFor(ctx, actor, versionID); err != nil {
		return nil, nil, err
	}
	sub, err := s.feed.Subscribe(ctx, versionID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	snapshot, err := s.records.ListMessages(ctx, versionID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("version_id", versionID).Int("snapshot", len(snapshot)).Msg("version watch started")
	return sub, snapshot, nil
}

func (s *Service) bucket() string {
	if s.cfg.BlobBucket != "" {
		return s.cfg.BlobBucket
	}
	return blob.DefaultBucket
}
