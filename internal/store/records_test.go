package store

import "testing"

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("b", "a") != PairKey("a", "b") {
		t.Fatal("pair key depends on argument order")
	}
	if got := PairKey("u2", "u1"); got != "u1:u2" {
		t.Fatalf("PairKey() = %q", got)
	}
}

func TestMatchPair(t *testing.T) {
	rows := []Participant{
		{ConversationID: "c1", UserID: "a"},
		{ConversationID: "c1", UserID: "x"},
		{ConversationID: "c2", UserID: "a"},
		{ConversationID: "c2", UserID: "b"},
		{ConversationID: "c3", UserID: "b"},
		{ConversationID: "c3", UserID: "a"},
	}

	id, ok := MatchPair(rows, "b", "a")
	if !ok || id != "c2" {
		t.Fatalf("MatchPair() = %q, %v; want c2", id, ok)
	}
	if _, ok := MatchPair(rows, "a", "z"); ok {
		t.Fatal("expected no match for unknown pair")
	}
}

func TestMatchPairIgnoresLargerGroups(t *testing.T) {
	rows := []Participant{
		{ConversationID: "c1", UserID: "a"},
		{ConversationID: "c1", UserID: "b"},
		{ConversationID: "c1", UserID: "c"},
	}
	if _, ok := MatchPair(rows, "a", "b"); ok {
		t.Fatal("three-person conversation must not match a pair")
	}
}

func TestProfileComplete(t *testing.T) {
	user := User{FirstName: "Ada", LastName: "Lovelace", Role: "student"}
	if user.ProfileComplete() {
		t.Fatal("missing department should be incomplete")
	}
	user.Department = "Mathematics"
	if !user.ProfileComplete() {
		t.Fatal("expected complete profile")
	}
	if user.FullName() != "Ada Lovelace" {
		t.Fatalf("FullName() = %q", user.FullName())
	}
}
