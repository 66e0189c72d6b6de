package context

import (
	"context"
)

// LedgerScope identifies the tenant and company a ledger operation runs for.
// It only feeds log enrichment; repositories receive scope explicitly.
type LedgerScope struct {
	TenantID   string
	CompanyID  string
	DocumentID string
}

type ledgerScopeKey struct{}

// WithLedgerScope adds LedgerScope to context.
func WithLedgerScope(ctx context.Context, scope *LedgerScope) context.Context {
	return context.WithValue(ctx, ledgerScopeKey{}, scope)
}

// GetLedgerScope returns LedgerScope from context.
func GetLedgerScope(ctx context.Context) *LedgerScope {
	if v, ok := ctx.Value(ledgerScopeKey{}).(*LedgerScope); ok {
		return v
	}
	return nil
}
