package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.q.QueryRowContext(ctx, `SELECT id, pair_key, created_at FROM conversations WHERE id=$1`, id).
		Scan(&conv.ID, &conv.PairKey, &conv.CreatedAt)
	if err != nil {
		return Conversation{}, notFound("get conversation", err)
	}
	return conv, nil
}

func (s *PostgresStore) ParticipantRowsForUsers(ctx context.Context, userIDs ...string) ([]Participant, error) {
	if len(userIDs) == 0 {
		return []Participant{}, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.id, p.conversation_id, p.user_id, p.created_at
		FROM conversation_participants p
		JOIN conversations c ON c.id = p.conversation_id
		WHERE p.conversation_id IN (
			SELECT conversation_id FROM conversation_participants WHERE user_id = ANY($1)
		)
		ORDER BY c.created_at ASC, c.id ASC, p.created_at ASC
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list participant rows: %w", err)
	}
	return collectParticipants(rows)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userA, userB string) (Conversation, bool, error) {
	var (
		conv    Conversation
		created bool
	)
	err := s.InTx(ctx, func(q Queries) error {
		tx := q.(*PostgresStore)
		key := PairKey(userA, userB)
		err := tx.q.QueryRowContext(ctx, `
			INSERT INTO conversations (pair_key)
			VALUES ($1)
			ON CONFLICT (pair_key) DO NOTHING
			RETURNING id, pair_key, created_at
		`, key).Scan(&conv.ID, &conv.PairKey, &conv.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.q.QueryRowContext(ctx, `SELECT id, pair_key, created_at FROM conversations WHERE pair_key=$1`, key).
				Scan(&conv.ID, &conv.PairKey, &conv.CreatedAt)
			if err != nil {
				return fmt.Errorf("read existing conversation: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2), ($1, $3)
		`, conv.ID, userA, userB); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, created, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, created_at
		FROM conversation_participants
		WHERE conversation_id=$1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return collectParticipants(rows)
}

func collectParticipants(rows *sql.Rows) ([]Participant, error) {
	defer rows.Close()
	items := make([]Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.pair_key, c.created_at,
		       u.id IS NOT NULL,
		       COALESCE(u.id, ''), COALESCE(u.email, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
		       COALESCE(u.role, ''), COALESCE(u.department, ''),
		       COALESCE(u.created_at, c.created_at), COALESCE(u.updated_at, c.created_at),
		       (SELECT COUNT(*) FROM draft_submissions d WHERE d.conversation_id = c.id)
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN LATERAL (
			SELECT o.user_id
			FROM conversation_participants o
			WHERE o.conversation_id = c.id AND o.user_id <> $1
			ORDER BY o.created_at ASC
			LIMIT 1
		) other ON TRUE
		LEFT JOIN users u ON u.id = other.user_id
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			item     ConversationSummary
			hasOther bool
			other    User
		)
		if err := rows.Scan(
			&item.Conversation.ID,
			&item.Conversation.PairKey,
			&item.Conversation.CreatedAt,
			&hasOther,
			&other.ID,
			&other.Email,
			&other.FirstName,
			&other.LastName,
			&other.Role,
			&other.Department,
			&other.CreatedAt,
			&other.UpdatedAt,
			&item.DraftCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		if hasOther {
			item.Counterpart = &other
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const draftColumns = `id, conversation_id, title, created_at`

func (s *PostgresStore) CreateDraft(ctx context.Context, conversationID, title string) (Draft, error) {
	var d Draft
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO draft_submissions (conversation_id, title)
		VALUES ($1, $2)
		RETURNING `+draftColumns, conversationID, title).
		Scan(&d.ID, &d.ConversationID, &d.Title, &d.CreatedAt)
	if err != nil {
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, id string) (Draft, error) {
	var d Draft
	err := s.q.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM draft_submissions WHERE id=$1`, id).
		Scan(&d.ID, &d.ConversationID, &d.Title, &d.CreatedAt)
	if err != nil {
		return Draft{}, notFound("get draft", err)
	}
	return d, nil
}

func (s *PostgresStore) LockDraft(ctx context.Context, id string) (Draft, error) {
	var d Draft
	err := s.q.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM draft_submissions WHERE id=$1 FOR UPDATE`, id).
		Scan(&d.ID, &d.ConversationID, &d.Title, &d.CreatedAt)
	if err != nil {
		return Draft{}, notFound("lock draft", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context, conversationID string) ([]Draft, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM draft_submissions
		WHERE conversation_id=$1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Title, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const versionColumns = `id, draft_id, file_url, file_name, is_closed, created_at`

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.DraftID, &v.FileURL, &v.FileName, &v.IsClosed, &v.CreatedAt)
	return v, err
}

func (s *PostgresStore) CreateVersion(ctx context.Context, draftID, fileURL, fileName string) (Version, error) {
	v, err := scanVersion(s.q.QueryRowContext(ctx, `
		INSERT INTO version_feedback (draft_id, file_url, file_name, is_closed)
		VALUES ($1, $2, $3, FALSE)
		RETURNING `+versionColumns, draftID, fileURL, fileName))
	if err != nil {
		if isUniqueViolation(err, "version_feedback_one_open_per_draft") {
			return Version{}, ErrOpenVersionConflict
		}
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (Version, error) {
	v, err := scanVersion(s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM version_feedback WHERE id=$1`, id))
	if err != nil {
		return Version{}, notFound("get version", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, draftID string) ([]Version, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM version_feedback
		WHERE draft_id=$1
		ORDER BY created_at ASC, id ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CloseVersions(ctx context.Context, draftID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `UPDATE version_feedback SET is_closed=TRUE WHERE draft_id=$1 AND NOT is_closed`, draftID)
	if err != nil {
		return 0, fmt.Errorf("close versions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close versions rows affected: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, versionID, senderID, text string) (ChatMessage, error) {
	var m ChatMessage
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO messages (version_id, sender_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, version_id, sender_id, message, created_at
	`, versionID, senderID, text).Scan(&m.ID, &m.VersionID, &m.SenderID, &m.Message, &m.CreatedAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, versionID string) ([]ChatMessage, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, version_id, sender_id, message, created_at
		FROM messages
		WHERE version_id=$1
		ORDER BY created_at ASC, id ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.VersionID, &m.SenderID, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DashboardCounts(ctx context.Context, userID string) (DashboardCounts, error) {
	var counts DashboardCounts
	err := s.q.QueryRowContext(ctx, `
		WITH mine AS (
			SELECT conversation_id FROM conversation_participants WHERE user_id=$1
		), drafts AS (
			SELECT d.id FROM draft_submissions d JOIN mine ON mine.conversation_id = d.conversation_id
		), versions AS (
			SELECT v.id, v.is_closed FROM version_feedback v JOIN drafts ON drafts.id = v.draft_id
		)
		SELECT
			(SELECT COUNT(*) FROM mine),
			(SELECT COUNT(*) FROM drafts),
			(SELECT COUNT(*) FROM versions WHERE NOT is_closed),
			(SELECT COUNT(*) FROM messages m JOIN versions ON versions.id = m.version_id)
	`, userID).Scan(&counts.Conversations, &counts.Drafts, &counts.OpenVersions, &counts.Messages)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return counts, nil
}
