package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"thesisflow/api/internal/archive"
	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/authpw"
	"thesisflow/api/internal/blob"
	"thesisflow/api/internal/feed"
	"thesisflow/api/internal/feedback"
	"thesisflow/api/internal/session"
	"thesisflow/api/internal/store"
	"thesisflow/api/internal/testutil"
	"thesisflow/api/internal/workflow"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc := New(testConfig(), store.NewMemoryStore())

	signUpVerified(t, svc, "student@example.edu")
	first, err := svc.SignIn(ctx, "student@example.edu", "correct horse")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.User.ID, second.User.ID)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshWithRedisSessions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	svc := New(testConfig(), store.NewMemoryStore(), WithSessionStore(sessions))
	signUpVerified(t, svc, "student@example.edu")
	first, err := svc.SignIn(ctx, "student@example.edu", "correct horse")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.NotEmpty(t, second.Token)
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := New(testConfig(), store.NewMemoryStore())
	signUpVerified(t, svc, "student@example.edu")

	_, err := svc.SignIn(ctx, "student@example.edu", "wrong horse")
	assert.ErrorIs(t, err, authpw.ErrInvalidCredentials)
}

func TestSignInRequiresConfirmedEmail(t *testing.T) {
	ctx := context.Background()
	svc := New(testConfig(), store.NewMemoryStore())
	result, err := svc.SignUp(ctx, "student@example.edu", "correct horse")
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Len(t, result.Code, 6)

	_, err = svc.SignIn(ctx, "student@example.edu", "correct horse")
	assert.ErrorIs(t, err, authpw.ErrEmailNotVerified)

	_, err = svc.VerifyEmail(ctx, "student@example.edu", "not-it")
	assert.ErrorIs(t, err, authpw.ErrInvalidCode)

	sess, err := svc.VerifyEmail(ctx, "student@example.edu", result.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.User.EmailVerified)

	_, err = svc.SignIn(ctx, "student@example.edu", "correct horse")
	assert.NoError(t, err)
}

type codeOutbox struct {
	codes map[string]string
}

func (o *codeOutbox) SendVerificationCode(_ context.Context, email, code string) error {
	o.codes[email] = code
	return nil
}

func TestSignUpMailsCode(t *testing.T) {
	ctx := context.Background()
	outbox := &codeOutbox{codes: map[string]string{}}
	svc := New(testConfig(), store.NewMemoryStore(), WithCodeSender(outbox))

	result, err := svc.SignUp(ctx, "student@example.edu", "correct horse")
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, result.Code, outbox.codes["student@example.edu"])

	resent, err := svc.ResendCode(ctx, "student@example.edu")
	require.NoError(t, err)
	assert.Equal(t, resent.Code, outbox.codes["student@example.edu"])

	_, err = svc.VerifyEmail(ctx, "student@example.edu", resent.Code)
	require.NoError(t, err)
}

func TestIdentifyReflectsCompletedProfile(t *testing.T) {
	ctx := context.Background()
	svc := New(testConfig(), store.NewMemoryStore())
	signUpVerified(t, svc, "adviser@example.edu")
	sess, err := svc.SignIn(ctx, "adviser@example.edu", "correct horse")
	require.NoError(t, err)

	identity, err := svc.Identify(ctx, sess.Token)
	require.NoError(t, err)
	assert.Empty(t, identity.Role)

	_, err = svc.UpdateProfile(ctx, identity, ProfileInput{FirstName: "Marie", LastName: "Curie", Role: "Adviser", Department: "Physics"})
	require.NoError(t, err)

	identity, err = svc.Identify(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "adviser", identity.Role)
}

func TestUpdateProfileValidatesAndLocksRole(t *testing.T) {
	ctx := context.Background()
	svc := New(testConfig(), store.NewMemoryStore())
	user := signUpVerified(t, svc, "student@example.edu")
	actor := auth.Identity{UserID: user.ID}

	_, err := svc.UpdateProfile(ctx, actor, ProfileInput{FirstName: "A", LastName: "B", Role: "dean", Department: "Physics"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)

	_, err = svc.UpdateProfile(ctx, actor, ProfileInput{FirstName: "A", LastName: "B", Role: "student", Department: "Physics"})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, actor, ProfileInput{FirstName: "Ann", LastName: "B", Role: "student", Department: "Chemistry"})
	require.NoError(t, err)
	assert.Equal(t, "Chemistry", updated.Department)

	_, err = svc.UpdateProfile(ctx, actor, ProfileInput{FirstName: "Ann", LastName: "B", Role: "adviser", Department: "Chemistry"})
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "ROLE_LOCKED", domainErr.Code)
}

func TestSearchAdvisersFallsBackToDirectory(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	svc := New(testConfig(), records)
	adviser, err := records.CreateUser(ctx, "curie@example.edu", "h")
	require.NoError(t, err)
	_, err = records.UpdateProfile(ctx, adviser.ID, store.Profile{FirstName: "Marie", LastName: "Curie", Role: "adviser", Department: "Physics"})
	require.NoError(t, err)

	resp, err := svc.SearchAdvisers(ctx, auth.Identity{UserID: "u", Role: "student"}, "curie", "")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, adviser.ID, resp.Results[0].ID)

	_, err = svc.SearchAdvisers(ctx, auth.Identity{UserID: "u", Role: "adviser"}, "curie", "")
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

func TestWatchVersionSeesSnapshotAndLiveMessages(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	blobs, err := blob.NewLocalStore(t.TempDir(), "/files")
	require.NoError(t, err)
	hub := feed.NewHub()
	svc := New(testConfig(), records, WithBlobStore(blobs), WithFeed(hub))

	student, adviser := profiledPair(t, records)
	sub, err := svc.SubmitNewDraft(ctx, student, workflow.NewDraftInput{
		RecipientID: adviser.UserID,
		Title:       "Chapter 1",
		Message:     "first pass",
		File:        workflow.File{Name: "ch1.pdf", ContentType: "application/pdf", Data: testutil.PDF(1)},
	})
	require.NoError(t, err)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	live, snapshot, err := svc.WatchVersion(watchCtx, adviser, sub.Version.ID)
	require.NoError(t, err)
	defer live.Close()
	require.Len(t, snapshot, 1)

	msg, err := svc.PostMessage(ctx, adviser, sub.Version.ID, "looks good")
	require.NoError(t, err)
	got := <-live.C
	assert.Equal(t, msg.ID, got.ID)
}

func TestDraftHistoryWithArchive(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	blobs, err := blob.NewLocalStore(t.TempDir(), "/files")
	require.NoError(t, err)
	arch, err := archive.New(t.TempDir())
	require.NoError(t, err)
	svc := New(testConfig(), records, WithBlobStore(blobs), WithArchive(arch))

	student, adviser := profiledPair(t, records)
	sub, err := svc.SubmitNewDraft(ctx, student, workflow.NewDraftInput{
		RecipientID: adviser.UserID,
		Title:       "Chapter 1",
		Message:     "first pass",
		File:        workflow.File{Name: "ch1.pdf", ContentType: "application/pdf", Data: testutil.PDF(1)},
	})
	require.NoError(t, err)

	history, err := svc.DraftHistory(ctx, adviser, sub.Draft.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "v1", history[0].Tag)

	manifest, err := svc.DraftManifest(ctx, student, sub.Draft.ID, "v1")
	require.NoError(t, err)
	require.Len(t, manifest.Versions, 1)
	assert.Equal(t, sub.Version.ID, manifest.Versions[0].VersionID)
}

// stalledStore never answers participant lookups until the caller gives up.
type stalledStore struct {
	*store.MemoryStore
}

func (s stalledStore) ListParticipants(ctx context.Context, _ string) ([]store.Participant, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConversationBundleBoundsParticipantCheck(t *testing.T) {
	cfg := testConfig()
	cfg.BundleTimeout = 50 * time.Millisecond
	svc := New(cfg, stalledStore{MemoryStore: store.NewMemoryStore()})

	start := time.Now()
	bundle, err := svc.ConversationBundle(context.Background(), auth.Identity{UserID: "u", Role: "student"}, "conv")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, feedback.StatusTimedOut, bundle.Status)
	assert.True(t, bundle.Degraded)
	assert.Empty(t, bundle.Drafts)
}

func TestConversationBundleRejectsOutsider(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	blobs, err := blob.NewLocalStore(t.TempDir(), "/files")
	require.NoError(t, err)
	svc := New(testConfig(), records, WithBlobStore(blobs))

	student, adviser := profiledPair(t, records)
	sub, err := svc.SubmitNewDraft(ctx, student, workflow.NewDraftInput{
		RecipientID: adviser.UserID,
		Title:       "Chapter 1",
		Message:     "first pass",
		File:        workflow.File{Name: "ch1.pdf", ContentType: "application/pdf", Data: testutil.PDF(1)},
	})
	require.NoError(t, err)

	_, err = svc.ConversationBundle(ctx, auth.Identity{UserID: "outsider", Role: "student"}, sub.Conversation.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	bundle, err := svc.ConversationBundle(ctx, adviser, sub.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusComplete, bundle.Status)
	assert.Len(t, bundle.Drafts, 1)
}

func TestSubmitWithoutBlobStoreIsUnavailable(t *testing.T) {
	records := store.NewMemoryStore()
	svc := New(testConfig(), records)
	student, adviser := profiledPair(t, records)

	_, err := svc.SubmitNewDraft(context.Background(), student, workflow.NewDraftInput{
		RecipientID: adviser.UserID,
		Title:       "Chapter 1",
		Message:     "first pass",
		File:        workflow.File{Name: "ch1.pdf", ContentType: "application/pdf", Data: testutil.PDF(1)},
	})
	require.ErrorIs(t, err, workflow.ErrStorageUnavailable)
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORAGE_UNAVAILABLE", code)
}

func signUpVerified(t *testing.T, svc *Service, email string) store.User {
	t.Helper()
	ctx := context.Background()
	result, err := svc.SignUp(ctx, email, "correct horse")
	require.NoError(t, err)
	sess, err := svc.VerifyEmail(ctx, email, result.Code)
	require.NoError(t, err)
	return sess.User
}

func profiledPair(t *testing.T, records store.Store) (auth.Identity, auth.Identity) {
	t.Helper()
	ctx := context.Background()
	newIdentity := func(email, role string) auth.Identity {
		u, err := records.CreateUser(ctx, email, "h")
		require.NoError(t, err)
		u, err = records.UpdateProfile(ctx, u.ID, store.Profile{FirstName: "T", LastName: "U", Role: role, Department: "Physics"})
		require.NoError(t, err)
		return auth.Identity{UserID: u.ID, Role: u.Role}
	}
	return newIdentity("student@example.edu", "student"), newIdentity("adviser@example.edu", "adviser")
}
