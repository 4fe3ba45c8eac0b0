package store

import (
	"strings"
	"time"
)

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Role         string `json:"role"`
	Department   string `json:"department"`

	// EmailVerified is set once the sign-up code has been confirmed.
	EmailVerified         bool      `json:"emailVerified"`
	VerificationCodeHash  string    `json:"-"`
	VerificationExpiresAt time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfileComplete reports whether the user finished onboarding.
func (u User) ProfileComplete() bool {
	return strings.TrimSpace(u.FirstName) != "" &&
		strings.TrimSpace(u.LastName) != "" &&
		u.Role != "" &&
		strings.TrimSpace(u.Department) != ""
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Profile struct {
	FirstName  string
	LastName   string
	Role       string
	Department string
}

type Conversation struct {
	ID        string    `json:"id"`
	PairKey   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type Participant struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Draft struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Version struct {
	ID        string    `json:"id"`
	DraftID   string    `json:"draftId"`
	FileURL   string    `json:"fileUrl"`
	FileName  string    `json:"fileName"`
	IsClosed  bool      `json:"isClosed"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	VersionID string    `json:"versionId"`
	SenderID  string    `json:"senderId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary is one entry of a user's contact list.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Counterpart  *User        `json:"counterpart"`
	DraftCount   int          `json:"draftCount"`
}

type DashboardCounts struct {
	Conversations int `json:"conversations"`
	Drafts        int `json:"drafts"`
	OpenVersions  int `json:"openVersions"`
	Messages      int `json:"messages"`
}
