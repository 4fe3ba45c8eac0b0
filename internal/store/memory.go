package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memorySession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memoryState struct {
	users         map[string]User
	emails        map[string]string
	conversations map[string]Conversation
	pairs         map[string]string
	participants  []Participant
	drafts        map[string]Draft
	versions      map[string]Version
	messages      []ChatMessage
	sessions      map[string]memorySession
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:         make(map[string]User),
		emails:        make(map[string]string),
		conversations: make(map[string]Conversation),
		pairs:         make(map[string]string),
		drafts:        make(map[string]Draft),
		versions:      make(map[string]Version),
		sessions:      make(map[string]memorySession),
	}
}

func (st *memoryState) clone() *memoryState {
	out := newMemoryState()
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.emails {
		out.emails[k] = v
	}
	for k, v := range st.conversations {
		out.conversations[k] = v
	}
	for k, v := range st.pairs {
		out.pairs[k] = v
	}
	for k, v := range st.drafts {
		out.drafts[k] = v
	}
	for k, v := range st.versions {
		out.versions[k] = v
	}
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	out.participants = append([]Participant(nil), st.participants...)
	out.messages = append([]ChatMessage(nil), st.messages...)
	return out
}

type memoryDB struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memoryState
	last  time.Time
}

// MemoryStore keeps records in-process. It backs tests and single-node
// development runs without Postgres. Transactions and writes are serialized;
// a failed transaction rolls back to the snapshot taken when it began.
type MemoryStore struct {
	db   *memoryDB
	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{db: &memoryDB{state: newMemoryState()}}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Queries) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.db.txMu.Lock()
	defer m.db.txMu.Unlock()

	m.db.mu.RLock()
	snapshot := m.db.state.clone()
	m.db.mu.RUnlock()

	if err := fn(&MemoryStore{db: m.db, inTx: true}); err != nil {
		m.db.mu.Lock()
		m.db.state = snapshot
		m.db.mu.Unlock()
		return err
	}
	return nil
}

// lockWrite takes the write lock for a mutation. Outside a transaction it
// also waits for any running transaction, so a rollback never discards a
// write made meanwhile.
func (m *MemoryStore) lockWrite() func() {
	if !m.inTx {
		m.db.txMu.Lock()
	}
	m.db.mu.Lock()
	return func() {
		m.db.mu.Unlock()
		if !m.inTx {
			m.db.txMu.Unlock()
		}
	}
}

// now returns a strictly increasing timestamp so creation order is total.
// Callers hold db.mu.
func (m *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(m.db.last) {
		t = m.db.last.Add(time.Microsecond)
	}
	m.db.last = t
	return t
}

func (m *MemoryStore) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	defer m.lockWrite()()
	st := m.db.state
	if _, exists := st.emails[email]; exists {
		return User{}, ErrEmailTaken
	}
	now := m.now()
	user := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	st.users[user.ID] = user
	st.emails[email] = user.ID
	return user, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	user, ok := m.db.state.users[id]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	id, ok := m.db.state.emails[email]
	if !ok {
		return User{}, fmt.Errorf("get user by email: %w", ErrNotFound)
	}
	return m.db.state.users[id], nil
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, userID string, profile Profile) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	defer m.lockWrite()()
	user, ok := m.db.state.users[userID]
	if !ok {
		return User{}, fmt.Errorf("update profile: %w", ErrNotFound)
	}
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.Role = profile.Role
	user.Department = profile.Department
	user.UpdatedAt = m.now()
	m.db.state.users[userID] = user
	return user, nil
}

func (m *MemoryStore) SetVerificationCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.lockWrite()()
	user, ok := m.db.state.users[userID]
	if !ok {
		return fmt.Errorf("set verification code: %w", ErrNotFound)
	}
	user.VerificationCodeHash = codeHash
	user.VerificationExpiresAt = expiresAt.UTC()
	user.UpdatedAt = m.now()
	m.db.state.users[userID] = user
	return nil
}

func (m *MemoryStore) MarkEmailVerified(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	defer m.lockWrite()()
	user, ok := m.db.state.users[userID]
	if !ok {
		return User{}, fmt.Errorf("mark email verified: %w", ErrNotFound)
	}
	user.EmailVerified = true
	user.VerificationCodeHash = ""
	user.VerificationExpiresAt = time.Time{}
	user.UpdatedAt = m.now()
	m.db.state.users[userID] = user
	return user, nil
}

func (m *MemoryStore) SearchAdvisers(ctx context.Context, query, department string, limit int) ([]User, error) {
	advisers, err := m.ListAdvisers(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	query = strings.ToLower(strings.TrimSpace(query))
	department = strings.TrimSpace(department)
	items := make([]User, 0)
	for _, user := range advisers {
		if query != "" &&
			!strings.Contains(strings.ToLower(user.FirstName), query) &&
			!strings.Contains(strings.ToLower(user.LastName), query) {
			continue
		}
		if department != "" && !strings.EqualFold(user.Department, department) {
			continue
		}
		items = append(items, user)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (m *MemoryStore) ListAdvisers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	items := make([]User, 0)
	for _, user := range m.db.state.users {
		if user.Role == "adviser" {
			items = append(items, user)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].LastName != items[j].LastName {
			return items[i].LastName < items[j].LastName
		}
		return items[i].FirstName < items[j].FirstName
	})
	return items, nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	conv, ok := m.db.state.conversations[id]
	if !ok {
		return Conversation{}, fmt.Errorf("get conversation: %w", ErrNotFound)
	}
	return conv, nil
}

func (m *MemoryStore) ParticipantRowsForUsers(ctx context.Context, userIDs ...string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	st := m.db.state
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	convs := make(map[string]struct{})
	for _, p := range st.participants {
		if _, ok := wanted[p.UserID]; ok {
			convs[p.ConversationID] = struct{}{}
		}
	}
	items := make([]Participant, 0)
	for _, p := range st.participants {
		if _, ok := convs[p.ConversationID]; ok {
			items = append(items, p)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := st.conversations[items[i].ConversationID], st.conversations[items[j].ConversationID]
		if !ci.CreatedAt.Equal(cj.CreatedAt) {
			return ci.CreatedAt.Before(cj.CreatedAt)
		}
		return ci.ID < cj.ID
	})
	return items, nil
}

func (m *MemoryStore) CreateConversation(ctx context.Context, userA, userB string) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	defer m.lockWrite()()
	st := m.db.state
	key := PairKey(userA, userB)
	if id, ok := st.pairs[key]; ok {
		return st.conversations[id], false, nil
	}
	for _, id := range []string{userA, userB} {
		if _, ok := st.users[id]; !ok {
			return Conversation{}, false, fmt.Errorf("insert participants: user %s: %w", id, ErrNotFound)
		}
	}
	now := m.now()
	conv := Conversation{ID: uuid.NewString(), PairKey: key, CreatedAt: now}
	st.conversations[conv.ID] = conv
	st.pairs[key] = conv.ID
	st.participants = append(st.participants,
		Participant{ID: uuid.NewString(), ConversationID: conv.ID, UserID: userA, CreatedAt: now},
		Participant{ID: uuid.NewString(), ConversationID: conv.ID, UserID: userB, CreatedAt: now},
	)
	return conv, true, nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	items := make([]Participant, 0, 2)
	for _, p := range m.db.state.participants {
		if p.ConversationID == conversationID {
			items = append(items, p)
		}
	}
	return items, nil
}

func (m *MemoryStore) ListConversationsForUser(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	st := m.db.state
	items := make([]ConversationSummary, 0)
	for _, p := range st.participants {
		if p.UserID != userID {
			continue
		}
		summary := ConversationSummary{Conversation: st.conversations[p.ConversationID]}
		for _, other := range st.participants {
			if other.ConversationID == p.ConversationID && other.UserID != userID {
				if user, ok := st.users[other.UserID]; ok {
					summary.Counterpart = &user
				}
				break
			}
		}
		for _, d := range st.drafts {
			if d.ConversationID == p.ConversationID {
				summary.DraftCount++
			}
		}
		items = append(items, summary)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Conversation.CreatedAt.After(items[j].Conversation.CreatedAt)
	})
	return items, nil
}

func (m *MemoryStore) CreateDraft(ctx context.Context, conversationID, title string) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	defer m.lockWrite()()
	if _, ok := m.db.state.conversations[conversationID]; !ok {
		return Draft{}, fmt.Errorf("insert draft: conversation: %w", ErrNotFound)
	}
	d := Draft{ID: uuid.NewString(), ConversationID: conversationID, Title: title, CreatedAt: m.now()}
	m.db.state.drafts[d.ID] = d
	return d, nil
}

func (m *MemoryStore) GetDraft(ctx context.Context, id string) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	d, ok := m.db.state.drafts[id]
	if !ok {
		return Draft{}, fmt.Errorf("get draft: %w", ErrNotFound)
	}
	return d, nil
}

// LockDraft is GetDraft here; transactions already run one at a time.
func (m *MemoryStore) LockDraft(ctx context.Context, id string) (Draft, error) {
	return m.GetDraft(ctx, id)
}

func (m *MemoryStore) ListDrafts(ctx context.Context, conversationID string) ([]Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	items := make([]Draft, 0)
	for _, d := range m.db.state.drafts {
		if d.ConversationID == conversationID {
			items = append(items, d)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *MemoryStore) CreateVersion(ctx context.Context, draftID, fileURL, fileName string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	defer m.lockWrite()()
	st := m.db.state
	if _, ok := st.drafts[draftID]; !ok {
		return Version{}, fmt.Errorf("insert version: draft: %w", ErrNotFound)
	}
	for _, v := range st.versions {
		if v.DraftID == draftID && !v.IsClosed {
			return Version{}, ErrOpenVersionConflict
		}
	}
	v := Version{ID: uuid.NewString(), DraftID: draftID, FileURL: fileURL, FileName: fileName, CreatedAt: m.now()}
	st.versions[v.ID] = v
	return v, nil
}

func (m *MemoryStore) GetVersion(ctx context.Context, id string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	v, ok := m.db.state.versions[id]
	if !ok {
		return Version{}, fmt.Errorf("get version: %w", ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) ListVersions(ctx context.Context, draftID string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	items := make([]Version, 0)
	for _, v := range m.db.state.versions {
		if v.DraftID == draftID {
			items = append(items, v)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *MemoryStore) CloseVersions(ctx context.Context, draftID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer m.lockWrite()()
	var closed int64
	for id, v := range m.db.state.versions {
		if v.DraftID == draftID && !v.IsClosed {
			v.IsClosed = true
			m.db.state.versions[id] = v
			closed++
		}
	}
	return closed, nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, versionID, senderID, text string) (ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ChatMessage{}, err
	}
	defer m.lockWrite()()
	if _, ok := m.db.state.versions[versionID]; !ok {
		return ChatMessage{}, fmt.Errorf("insert message: version: %w", ErrNotFound)
	}
	msg := ChatMessage{ID: uuid.NewString(), VersionID: versionID, SenderID: senderID, Message: text, CreatedAt: m.now()}
	m.db.state.messages = append(m.db.state.messages, msg)
	return msg, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, versionID string) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	items := make([]ChatMessage, 0)
	for _, msg := range m.db.state.messages {
		if msg.VersionID == versionID {
			items = append(items, msg)
		}
	}
	return items, nil
}

func (m *MemoryStore) DashboardCounts(ctx context.Context, userID string) (DashboardCounts, error) {
	if err := ctx.Err(); err != nil {
		return DashboardCounts{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	st := m.db.state
	var counts DashboardCounts
	convs := make(map[string]struct{})
	for _, p := range st.participants {
		if p.UserID == userID {
			convs[p.ConversationID] = struct{}{}
		}
	}
	counts.Conversations = len(convs)
	drafts := make(map[string]struct{})
	for _, d := range st.drafts {
		if _, ok := convs[d.ConversationID]; ok {
			drafts[d.ID] = struct{}{}
		}
	}
	counts.Drafts = len(drafts)
	versions := make(map[string]struct{})
	for _, v := range st.versions {
		if _, ok := drafts[v.DraftID]; !ok {
			continue
		}
		versions[v.ID] = struct{}{}
		if !v.IsClosed {
			counts.OpenVersions++
		}
	}
	for _, msg := range st.messages {
		if _, ok := versions[msg.VersionID]; ok {
			counts.Messages++
		}
	}
	return counts, nil
}

func (m *MemoryStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.lockWrite()()
	m.db.state.sessions[tokenHash] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	sess, ok := m.db.state.sessions[tokenHash]
	if !ok || sess.revoked || !time.Now().Before(sess.expiresAt) {
		return User{}, fmt.Errorf("lookup refresh session: %w", ErrNotFound)
	}
	user, ok := m.db.state.users[sess.userID]
	if !ok {
		return User{}, fmt.Errorf("lookup refresh session: %w", ErrNotFound)
	}
	return user, nil
}

func (m *MemoryStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.lockWrite()()
	if sess, ok := m.db.state.sessions[tokenHash]; ok {
		sess.revoked = true
		m.db.state.sessions[tokenHash] = sess
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
