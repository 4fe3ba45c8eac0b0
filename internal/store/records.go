package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrOpenVersionConflict is returned when a draft would end up with two open versions.
	ErrOpenVersionConflict = errors.New("draft already has an open version")
	ErrEmailTaken          = errors.New("email already registered")
)

// Queries is the record surface shared by the Postgres and in-memory stores.
// Inside InTx the same surface is bound to a single transaction.
type Queries interface {
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateProfile(ctx context.Context, userID string, profile Profile) (User, error)
	// SetVerificationCode replaces the user's pending sign-up code.
	SetVerificationCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	// MarkEmailVerified confirms the address and clears the pending code.
	MarkEmailVerified(ctx context.Context, userID string) (User, error)
	SearchAdvisers(ctx context.Context, query, department string, limit int) ([]User, error)
	ListAdvisers(ctx context.Context) ([]User, error)

	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ParticipantRowsForUsers returns every participant row of every
	// conversation that any of userIDs belongs to, ordered by conversation age.
	ParticipantRowsForUsers(ctx context.Context, userIDs ...string) ([]Participant, error)
	// CreateConversation inserts the conversation for the unordered pair and both
	// participant rows. If the pair already exists the existing row is returned.
	CreateConversation(ctx context.Context, userA, userB string) (Conversation, bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]Participant, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]ConversationSummary, error)

	CreateDraft(ctx context.Context, conversationID, title string) (Draft, error)
	GetDraft(ctx context.Context, id string) (Draft, error)
	// LockDraft reads the draft and holds a row lock until the transaction ends.
	LockDraft(ctx context.Context, id string) (Draft, error)
	ListDrafts(ctx context.Context, conversationID string) ([]Draft, error)

	CreateVersion(ctx context.Context, draftID, fileURL, fileName string) (Version, error)
	GetVersion(ctx context.Context, id string) (Version, error)
	ListVersions(ctx context.Context, draftID string) ([]Version, error)
	CloseVersions(ctx context.Context, draftID string) (int64, error)

	CreateMessage(ctx context.Context, versionID, senderID, text string) (ChatMessage, error)
	ListMessages(ctx context.Context, versionID string) ([]ChatMessage, error)

	DashboardCounts(ctx context.Context, userID string) (DashboardCounts, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Store is a Queries implementation that can open transactions.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
}

// PairKey is the order-independent key of a two-person conversation.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// MatchPair returns the id of the first conversation in rows whose participant
// set is exactly {a, b}. Rows must be grouped in conversation order.
func MatchPair(rows []Participant, a, b string) (string, bool) {
	order := make([]string, 0)
	members := make(map[string]map[string]struct{})
	for _, row := range rows {
		set, ok := members[row.ConversationID]
		if !ok {
			set = make(map[string]struct{})
			members[row.ConversationID] = set
			order = append(order, row.ConversationID)
		}
		set[row.UserID] = struct{}{}
	}
	for _, id := range order {
		set := members[id]
		if len(set) != 2 {
			continue
		}
		_, hasA := set[a]
		_, hasB := set[b]
		if hasA && hasB {
			return id, true
		}
	}
	return "", false
}
