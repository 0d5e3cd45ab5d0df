package engine

import (
	"testing"

	"github.com/arenabot/arenabot/internal/model"
)

func testRoster(ids ...string) []model.User {
	users := make([]model.User, len(ids))
	for i, id := range ids {
		users[i] = model.User{ID: model.UserID(id), DisplayName: id}
	}
	return users
}

func TestLedgerPutRejectsDuplicates(t *testing.T) {
	l := NewLedger[string]()

	if !l.Put("alice", "first") {
		t.Fatal("first put rejected")
	}
	if l.Put("alice", "second") {
		t.Fatal("duplicate put accepted")
	}

	got, ok := l.Get("alice")
	if !ok || got != "first" {
		t.Fatalf("entry overwritten: %q", got)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestLedgerValuesKeepArrivalOrder(t *testing.T) {
	l := NewLedger[string]()
	l.Put("c", "third-joiner-first-submit")
	l.Put("a", "second")
	l.Put("b", "last")

	got := l.Values()
	want := []string{"third-joiner-first-submit", "second", "last"}
	if len(got) != len(want) {
		t.Fatalf("values = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLedgerRemainingAndCovers(t *testing.T) {
	roster := testRoster("a", "b", "c")
	l := NewLedger[int]()

	if l.Covers(roster) {
		t.Fatal("empty ledger covers roster")
	}

	l.Put("b", 1)
	remaining := l.Remaining(roster)
	if len(remaining) != 2 || remaining[0].ID != "a" || remaining[1].ID != "c" {
		t.Fatalf("remaining = %+v", remaining)
	}

	l.Put("a", 2)
	l.Put("c", 3)
	if !l.Covers(roster) {
		t.Fatal("full ledger does not cover roster")
	}
	if len(l.Remaining(roster)) != 0 {
		t.Fatalf("remaining after full coverage = %+v", l.Remaining(roster))
	}
}
