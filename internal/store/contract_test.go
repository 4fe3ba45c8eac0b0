package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runRecordsContract exercises the behaviour every Store implementation must share.
func runRecordsContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("conversation pair is unique and order independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		alice := mustUser(t, s, "alice@example.edu")
		bob := mustUser(t, s, "bob@example.edu")

		first, created, err := s.CreateConversation(ctx, alice.ID, bob.ID)
		if err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}
		if !created {
			t.Fatal("expected first call to create")
		}
		second, created, err := s.CreateConversation(ctx, bob.ID, alice.ID)
		if err != nil {
			t.Fatalf("CreateConversation(reversed) error = %v", err)
		}
		if created || second.ID != first.ID {
			t.Fatalf("expected existing conversation %s, got %s (created=%v)", first.ID, second.ID, created)
		}

		rows, err := s.ParticipantRowsForUsers(ctx, alice.ID, bob.ID)
		if err != nil {
			t.Fatalf("ParticipantRowsForUsers() error = %v", err)
		}
		if id, ok := MatchPair(rows, bob.ID, alice.ID); !ok || id != first.ID {
			t.Fatalf("MatchPair() = %q, %v", id, ok)
		}
		participants, err := s.ListParticipants(ctx, first.ID)
		if err != nil {
			t.Fatalf("ListParticipants() error = %v", err)
		}
		if len(participants) != 2 {
			t.Fatalf("expected 2 participants, got %d", len(participants))
		}
	})

	t.Run("one open version per draft", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		draft := mustDraft(t, s)

		v1, err := s.CreateVersion(ctx, draft.ID, "drafts/"+draft.ID+"/a.pdf", "a.pdf")
		if err != nil {
			t.Fatalf("CreateVersion(v1) error = %v", err)
		}
		if _, err := s.CreateVersion(ctx, draft.ID, "drafts/"+draft.ID+"/b.pdf", "b.pdf"); !errors.Is(err, ErrOpenVersionConflict) {
			t.Fatalf("expected ErrOpenVersionConflict, got %v", err)
		}

		closed, err := s.CloseVersions(ctx, draft.ID)
		if err != nil || closed != 1 {
			t.Fatalf("CloseVersions() = %d, %v", closed, err)
		}
		closed, err = s.CloseVersions(ctx, draft.ID)
		if err != nil || closed != 0 {
			t.Fatalf("CloseVersions(again) = %d, %v", closed, err)
		}

		v2, err := s.CreateVersion(ctx, draft.ID, "drafts/"+draft.ID+"/b.pdf", "b.pdf")
		if err != nil {
			t.Fatalf("CreateVersion(v2) error = %v", err)
		}
		versions, err := s.ListVersions(ctx, draft.ID)
		if err != nil {
			t.Fatalf("ListVersions() error = %v", err)
		}
		if len(versions) != 2 || versions[0].ID != v1.ID || versions[1].ID != v2.ID {
			t.Fatalf("unexpected version order: %+v", versions)
		}
		if !versions[0].IsClosed || versions[1].IsClosed {
			t.Fatalf("expected only the newest version open: %+v", versions)
		}
	})

	t.Run("messages are scoped to their version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		draft := mustDraft(t, s)
		sender := mustUser(t, s, "sender@example.edu")

		v1, _ := s.CreateVersion(ctx, draft.ID, "p1", "one.pdf")
		if _, err := s.CreateMessage(ctx, v1.ID, sender.ID, "first"); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		if _, err := s.CreateMessage(ctx, v1.ID, sender.ID, "second"); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		_, _ = s.CloseVersions(ctx, draft.ID)
		v2, _ := s.CreateVersion(ctx, draft.ID, "p2", "two.pdf")
		if _, err := s.CreateMessage(ctx, v2.ID, sender.ID, "other"); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}

		msgs, err := s.ListMessages(ctx, v1.ID)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(msgs) != 2 || msgs[0].Message != "first" || msgs[1].Message != "second" {
			t.Fatalf("unexpected messages: %+v", msgs)
		}
		for _, m := range msgs {
			if m.VersionID != v1.ID {
				t.Fatalf("message %s leaked from version %s", m.ID, m.VersionID)
			}
		}
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		draft := mustDraft(t, s)
		boom := errors.New("boom")

		err := s.InTx(ctx, func(q Queries) error {
			if _, err := q.CreateDraft(ctx, draft.ConversationID, "Rolled back"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		drafts, err := s.ListDrafts(ctx, draft.ConversationID)
		if err != nil {
			t.Fatalf("ListDrafts() error = %v", err)
		}
		if len(drafts) != 1 {
			t.Fatalf("expected rolled back draft to be absent, got %d drafts", len(drafts))
		}
	})

	t.Run("dashboard and contact list", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		student := mustUser(t, s, "student@example.edu")
		adviser := mustUser(t, s, "adviser@example.edu")
		if _, err := s.UpdateProfile(ctx, adviser.ID, Profile{FirstName: "Ada", LastName: "Lovelace", Role: "adviser", Department: "CS"}); err != nil {
			t.Fatalf("UpdateProfile() error = %v", err)
		}
		conv, _, _ := s.CreateConversation(ctx, student.ID, adviser.ID)
		draft, _ := s.CreateDraft(ctx, conv.ID, "Chapter 1")
		v, _ := s.CreateVersion(ctx, draft.ID, "p", "c1.pdf")
		_, _ = s.CreateMessage(ctx, v.ID, student.ID, "hello")

		counts, err := s.DashboardCounts(ctx, student.ID)
		if err != nil {
			t.Fatalf("DashboardCounts() error = %v", err)
		}
		want := DashboardCounts{Conversations: 1, Drafts: 1, OpenVersions: 1, Messages: 1}
		if counts != want {
			t.Fatalf("DashboardCounts() = %+v, want %+v", counts, want)
		}

		contacts, err := s.ListConversationsForUser(ctx, student.ID)
		if err != nil {
			t.Fatalf("ListConversationsForUser() error = %v", err)
		}
		if len(contacts) != 1 || contacts[0].Counterpart == nil || contacts[0].Counterpart.ID != adviser.ID {
			t.Fatalf("unexpected contacts: %+v", contacts)
		}
		if contacts[0].DraftCount != 1 {
			t.Fatalf("DraftCount = %d", contacts[0].DraftCount)
		}

		found, err := s.SearchAdvisers(ctx, "love", "cs", 10)
		if err != nil {
			t.Fatalf("SearchAdvisers() error = %v", err)
		}
		if len(found) != 1 || found[0].ID != adviser.ID {
			t.Fatalf("unexpected advisers: %+v", found)
		}
	})

	t.Run("refresh sessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := mustUser(t, s, "session@example.edu")

		if err := s.SaveRefreshSession(ctx, "hash-1", user.ID, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveRefreshSession() error = %v", err)
		}
		got, err := s.LookupRefreshSession(ctx, "hash-1")
		if err != nil || got.ID != user.ID {
			t.Fatalf("LookupRefreshSession() = %+v, %v", got, err)
		}
		if err := s.RevokeRefreshSession(ctx, "hash-1"); err != nil {
			t.Fatalf("RevokeRefreshSession() error = %v", err)
		}
		if _, err := s.LookupRefreshSession(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after revoke, got %v", err)
		}
	})

	t.Run("email verification", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := mustUser(t, s, "verify@example.edu")
		if user.EmailVerified {
			t.Fatal("new user should not be verified")
		}
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		if err := s.SetVerificationCode(ctx, user.ID, "code-hash", expires); err != nil {
			t.Fatalf("SetVerificationCode() error = %v", err)
		}
		got, err := s.GetUserByEmail(ctx, "verify@example.edu")
		if err != nil {
			t.Fatalf("GetUserByEmail() error = %v", err)
		}
		if got.VerificationCodeHash != "code-hash" || !got.VerificationExpiresAt.Equal(expires) {
			t.Fatalf("pending code not stored: %+v", got)
		}
		verified, err := s.MarkEmailVerified(ctx, user.ID)
		if err != nil {
			t.Fatalf("MarkEmailVerified() error = %v", err)
		}
		if !verified.EmailVerified || verified.VerificationCodeHash != "" {
			t.Fatalf("unexpected verified user: %+v", verified)
		}
		if err := s.SetVerificationCode(ctx, "missing", "x", expires); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("failed transaction keeps writes made outside it", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")
		done := make(chan error, 1)
		var outside User

		err := s.InTx(ctx, func(q Queries) error {
			if _, err := q.CreateUser(ctx, "inside@example.edu", "h"); err != nil {
				return err
			}
			go func() {
				u, err := s.CreateUser(ctx, "outside@example.edu", "h")
				outside = u
				done <- err
			}()
			time.Sleep(20 * time.Millisecond)
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("CreateUser() outside tx error = %v", err)
		}
		if _, err := s.GetUserByID(ctx, outside.ID); err != nil {
			t.Fatalf("user written outside the failed transaction is gone: %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "inside@example.edu"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected rolled back user to be gone, got %v", err)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		s := newStore(t)
		mustUser(t, s, "dup@example.edu")
		if _, err := s.CreateUser(context.Background(), "dup@example.edu", "x"); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})
}

func mustUser(t *testing.T, s Store, email string) User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), email, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", email, err)
	}
	return user
}

func mustDraft(t *testing.T, s Store) Draft {
	t.Helper()
	ctx := context.Background()
	a := mustUser(t, s, "draft-owner@example.edu")
	b := mustUser(t, s, "draft-reader@example.edu")
	conv, _, err := s.CreateConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	draft, err := s.CreateDraft(ctx, conv.ID, "Thesis")
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	return draft
}
