// Package store holds the storage collaborators that receive finalized
// transactions and serve sender history back to the scorer.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/vanshika/upiscope/internal/domain"
)

var (
	// ErrNotFound is returned when a transaction id is unknown.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicate is returned when a transaction id is appended twice.
	ErrDuplicate = errors.New("transaction already exists")
	// ErrNotFinalized is returned when a non-terminal transaction is appended.
	ErrNotFinalized = errors.New("transaction is not in a terminal state")
)

// Appender persists one finalized transaction.
type Appender interface {
	Append(ctx context.Context, tx domain.Transaction) error
}

// HistorySource reads back a sender's transactions inside a window, ordered
// by non-decreasing timestamp.
type HistorySource interface {
	HistoryFor(ctx context.Context, senderID string, window domain.TimeRange) ([]domain.Transaction, error)
}

// Store is the full storage collaborator contract used by the engine.
type Store interface {
	Appender
	HistorySource
}

// Reader is the read-only view handed to the UI layer.
type Reader interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, id string) (domain.Transaction, error)
	All(ctx context.Context) ([]domain.Transaction, error)
}

// ListOptions defines filters and pagination for transaction listing.
type ListOptions struct {
	Offset      int
	Limit       int
	SenderID    string
	State       string
	Category    string
	FlaggedOnly bool
}

// ListResult captures paginated list results.
type ListResult struct {
	Items []domain.Transaction
	Total int64
}

// Normalized clamps pagination to the supported bounds.
func (o ListOptions) Normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.SenderID = strings.TrimSpace(o.SenderID)
	o.State = strings.ToUpper(strings.TrimSpace(o.State))
	o.Category = strings.TrimSpace(o.Category)
	return o
}

// Matches reports whether tx passes the filters.
func (o ListOptions) Matches(tx domain.Transaction) bool {
	if o.SenderID != "" && tx.SenderID != o.SenderID {
		return false
	}
	if o.State != "" && string(tx.State) != o.State {
		return false
	}
	if o.Category != "" && !strings.EqualFold(tx.Category, o.Category) {
		return false
	}
	if o.FlaggedOnly && !tx.AnomalyFlag {
		return false
	}
	return true
}

func checkFinalized(tx domain.Transaction) error {
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}
	if tx.SenderID == "" {
		return errors.New("sender id is required")
	}
	if !tx.State.IsTerminal() {
		return ErrNotFinalized
	}
	return nil
}
