package engine

import "github.com/arenabot/arenabot/internal/model"

// Ledger maps each participant to at most one accepted submission. Insertion
// order is preserved so later phases and prompts see submissions in the order
// they arrived. Entries are immutable after insertion; Put rejects duplicates.
//
// Ledger is not safe for concurrent use on its own; the owning Phase
// serializes access.
type Ledger[T any] struct {
	entries map[model.UserID]T
	order   []model.UserID
}

// NewLedger creates an empty ledger.
func NewLedger[T any]() *Ledger[T] {
	return &Ledger[T]{entries: make(map[model.UserID]T)}
}

// Put records a submission for id. It returns false if id already has an
// entry; the existing entry is never overwritten.
func (l *Ledger[T]) Put(id model.UserID, v T) bool {
	if _, dup := l.entries[id]; dup {
		return false
	}
	l.entries[id] = v
	l.order = append(l.order, id)
	return true
}

// Get returns the submission for id, if any.
func (l *Ledger[T]) Get(id model.UserID) (T, bool) {
	v, ok := l.entries[id]
	return v, ok
}

// Len returns the number of accepted submissions.
func (l *Ledger[T]) Len() int { return len(l.entries) }

// Remaining returns the subset of roster that has not submitted yet, in
// roster order.
func (l *Ledger[T]) Remaining(roster []model.User) []model.User {
	var out []model.User
	for _, u := range roster {
		if _, ok := l.entries[u.ID]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// Covers reports whether every roster member has an entry.
func (l *Ledger[T]) Covers(roster []model.User) bool {
	for _, u := range roster {
		if _, ok := l.entries[u.ID]; !ok {
			return false
		}
	}
	return true
}

// Values returns all submissions in insertion order.
func (l *Ledger[T]) Values() []T {
	out := make([]T, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

// Entries returns a copy of the participant→submission mapping.
func (l *Ledger[T]) Entries() map[model.UserID]T {
	out := make(map[model.UserID]T, len(l.entries))
	for id, v := range l.entries {
		out[id] = v
	}
	return out
}
