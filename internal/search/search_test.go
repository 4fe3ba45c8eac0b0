package search

import (
	"context"
	"errors"
	"testing"

	"thesisflow/api/internal/store"
)

type fakeDirectory struct {
	search func(ctx context.Context, query, department string, limit int) ([]store.User, error)
}

func (f fakeDirectory) SearchAdvisers(ctx context.Context, query, department string, limit int) ([]store.User, error) {
	return f.search(ctx, query, department, limit)
}

func (f fakeDirectory) ListAdvisers(ctx context.Context) ([]store.User, error) {
	return f.search(ctx, "", "", 0)
}

func TestSearchFallsBackToDirectory(t *testing.T) {
	var gotQuery, gotDept string
	svc := NewService(nil, fakeDirectory{search: func(ctx context.Context, query, department string, limit int) ([]store.User, error) {
		gotQuery, gotDept = query, department
		return []store.User{{ID: "a1", LastName: "Curie", Role: "adviser"}}, nil
	}})

	resp := svc.Search(context.Background(), Query{Text: "  cur ", Department: " Physics "})
	if resp.Source != SourcePostgres || resp.Total != 1 || resp.Results[0].ID != "a1" {
		t.Fatalf("Search() = %+v", resp)
	}
	if gotQuery != "cur" || gotDept != "Physics" {
		t.Fatalf("directory called with %q/%q", gotQuery, gotDept)
	}
}

func TestSearchDirectoryErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, fakeDirectory{search: func(ctx context.Context, query, department string, limit int) ([]store.User, error) {
		return nil, errors.New("db down")
	}})
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search() results = %#v", resp.Results)
	}
}

func TestSearchAgainstMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	for _, p := range []store.Profile{
		{FirstName: "Marie", LastName: "Curie", Role: "adviser", Department: "Physics"},
		{FirstName: "Ada", LastName: "Lovelace", Role: "adviser", Department: "Computing"},
		{FirstName: "Pierre", LastName: "Curie", Role: "student", Department: "Physics"},
	} {
		u, err := records.CreateUser(ctx, p.FirstName+"@example.edu", "h")
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		if _, err := records.UpdateProfile(ctx, u.ID, p); err != nil {
			t.Fatalf("UpdateProfile() error = %v", err)
		}
	}
	svc := NewService(nil, records)

	resp := svc.Search(ctx, Query{Text: "curie"})
	if len(resp.Results) != 1 || resp.Results[0].FirstName != "Marie" {
		t.Fatalf("Search(curie) = %+v", resp.Results)
	}
	resp = svc.Search(ctx, Query{Department: "computing"})
	if len(resp.Results) != 1 || resp.Results[0].LastName != "Lovelace" {
		t.Fatalf("Search(department) = %+v", resp.Results)
	}
}

func TestDepartmentFilterQuotes(t *testing.T) {
	if got := departmentFilter(`Arts "and" Design`); got != `department = "Arts \"and\" Design"` {
		t.Fatalf("departmentFilter() = %s", got)
	}
}

func TestRecordRoundTripKeepsAdviserRole(t *testing.T) {
	u := store.User{ID: "a1", Email: "a@example.edu", FirstName: "A", LastName: "B", Department: "D", Role: "adviser"}
	back := recordFromUser(u).user()
	if back.ID != u.ID || back.Role != "adviser" || back.Department != "D" {
		t.Fatalf("user() = %+v", back)
	}
}
