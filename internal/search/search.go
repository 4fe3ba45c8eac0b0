package search

import (
	"context"

	"thesisflow/api/internal/store"
)

const (
	SourceMeili    = "meilisearch"
	SourcePostgres = "postgres"
)

// Query describes an adviser directory lookup.
type Query struct {
	Text       string
	Department string
	Limit      int
}

// Response is the envelope returned by the adviser search endpoint.
type Response struct {
	Results []store.User `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
	Source  string       `json:"source"`
}

// Directory is the Record Store fallback used when Meilisearch is down.
type Directory interface {
	SearchAdvisers(ctx context.Context, query, department string, limit int) ([]store.User, error)
	ListAdvisers(ctx context.Context) ([]store.User, error)
}

// AdviserRecord is the data we index for an adviser.
type AdviserRecord struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Department string `json:"department"`
}

func recordFromUser(u store.User) AdviserRecord {
	return AdviserRecord{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Department: u.Department,
	}
}

func (r AdviserRecord) user() store.User {
	return store.User{
		ID:         r.ID,
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Department: r.Department,
		Role:       "adviser",
	}
}
