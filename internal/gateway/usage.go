package gateway

import (
	"context"

	"github.com/quillworks/quill/internal/model"
	"github.com/quillworks/quill/internal/store"
)

// Usage is one dispatched request's consumption. Requests always count as
// one; tokens and cost come from the downstream operation when it reports
// them.
type Usage struct {
	RequestID string
	Endpoint  string
	Method    string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// Accountant records per-request consumption against a key. It must be
// invoked only after the downstream operation completed successfully; failed
// or aborted dispatches are never recorded.
type Accountant struct {
	store *store.Store
}

// NewAccountant returns an Accountant backed by the given store.
func NewAccountant(st *store.Store) *Accountant {
	return &Accountant{store: st}
}

// Record writes a usage-log row and atomically bumps the key's totals,
// returning the new totals. A request ID that was already recorded yields
// store.ErrDuplicateRequest and leaves every counter untouched.
func (a *Accountant) Record(ctx context.Context, keyID string, u Usage) (*model.APIKey, error) {
	return a.store.RecordUsage(ctx, keyID, store.UsageDelta{
		RequestID: u.RequestID,
		Endpoint:  u.Endpoint,
		Method:    u.Method,
		TokensIn:  u.TokensIn,
		TokensOut: u.TokensOut,
		CostUSD:   u.CostUSD,
	})
}
