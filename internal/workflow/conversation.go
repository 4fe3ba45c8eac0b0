package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"thesisflow/api/internal/store"
)

// FindOrCreateConversation returns the conversation whose participants are
// exactly {a, b}, creating it when none exists. Argument order does not matter.
func (s *Service) FindOrCreateConversation(ctx context.Context, a, b string) (store.Conversation, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return store.Conversation{}, invalid("participants", "both participants are required")
	}
	if a == b {
		return store.Conversation{}, invalid("participants", "participants must be two different users")
	}
	var conv store.Conversation
	err := s.records.InTx(ctx, func(q store.Queries) error {
		var err error
		conv, _, err = findOrCreate(ctx, q, a, b)
		return err
	})
	return conv, err
}

// RequireParticipant returns ErrForbidden unless userID belongs to the conversation.
func (s *Service) RequireParticipant(ctx context.Context, conversationID, userID string) error {
	return requireParticipant(ctx, s.records, conversationID, userID)
}

func findOrCreate(ctx context.Context, q store.Queries, a, b string) (store.Conversation, bool, error) {
	rows, err := q.ParticipantRowsForUsers(ctx, a, b)
	if err != nil {
		return store.Conversation{}, false, fmt.Errorf("list participant rows: %w", err)
	}
	if id, ok := store.MatchPair(rows, a, b); ok {
		conv, err := q.GetConversation(ctx, id)
		if err != nil {
			return store.Conversation{}, false, fmt.Errorf("get conversation: %w", err)
		}
		return conv, false, nil
	}
	// The pair key constraint resolves a concurrent create to the existing row.
	conv, created, err := q.CreateConversation(ctx, a, b)
	if err != nil {
		return store.Conversation{}, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, created, nil
}

func requireParticipant(ctx context.Context, q store.Queries, conversationID, userID string) error {
	participants, err := q.ListParticipants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if p.UserID == userID {
			return nil
		}
	}
	return ErrForbidden
}
