// Package audit defines the audit trail port of the ledger.
// Closing and reopening of balances rewrite figures that financial reports
// depend on, so every such change is recorded with its before/after values.
package audit

import (
	"context"

	"stockledger/internal/core/id"
)

// Action is the kind of audited change.
type Action string

const (
	ActionClose  Action = "close"
	ActionReopen Action = "reopen"
	ActionLock   Action = "lock"
	ActionUnlock Action = "unlock"
)

// Entry is a single audited change.
type Entry struct {
	EntityType string
	EntityID   id.ID
	Action     Action
	Changes    map[string]any
}

// Recorder persists audit entries within the current transaction.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Change returns the {"old": ..., "new": ...} pair used in Entry.Changes.
func Change(oldValue, newValue any) map[string]any {
	return map[string]any{"old": oldValue, "new": newValue}
}
