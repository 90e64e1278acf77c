package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vanshika/upiscope/internal/domain"
)

// Memory is a thread-safe in-memory store. Per-sender slices are kept in
// timestamp order so history reads are a binary search plus a copy.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]domain.Transaction
	order    []string
	bySender map[string][]domain.Transaction
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]domain.Transaction),
		bySender: make(map[string][]domain.Transaction),
	}
}

// Append stores a finalized transaction.
func (m *Memory) Append(_ context.Context, tx domain.Transaction) error {
	if err := checkFinalized(tx); err != nil {
		return fmt.Errorf("append %s: %w", tx.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.ID]; exists {
		return fmt.Errorf("append %s: %w", tx.ID, ErrDuplicate)
	}
	tx = tx.Clone()
	m.byID[tx.ID] = tx
	m.order = append(m.order, tx.ID)

	txs := m.bySender[tx.SenderID]
	idx := sort.Search(len(txs), func(i int) bool { return txs[i].Timestamp.After(tx.Timestamp) })
	txs = append(txs, domain.Transaction{})
	copy(txs[idx+1:], txs[idx:])
	txs[idx] = tx
	m.bySender[tx.SenderID] = txs
	return nil
}

// HistoryFor returns the sender's transactions inside window, oldest first.
func (m *Memory) HistoryFor(_ context.Context, senderID string, window domain.TimeRange) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.bySender[senderID]
	lo := sort.Search(len(txs), func(i int) bool { return !txs[i].Timestamp.Before(window.Start) })
	hi := sort.Search(len(txs), func(i int) bool { return txs[i].Timestamp.After(window.End) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]domain.Transaction, 0, hi-lo)
	for _, tx := range txs[lo:hi] {
		out = append(out, tx.Clone())
	}
	return out, nil
}

// Get returns a transaction by id.
func (m *Memory) Get(_ context.Context, id string) (domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byID[id]
	if !ok {
		return domain.Transaction{}, ErrNotFound
	}
	return tx.Clone(), nil
}

// List returns transactions in insertion order, filtered and paginated.
func (m *Memory) List(_ context.Context, opts ListOptions) (ListResult, error) {
	opts = opts.Normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result ListResult
	for _, id := range m.order {
		tx := m.byID[id]
		if !opts.Matches(tx) {
			continue
		}
		if result.Total >= int64(opts.Offset) && len(result.Items) < opts.Limit {
			result.Items = append(result.Items, tx.Clone())
		}
		result.Total++
	}
	return result, nil
}

// All returns every stored transaction in insertion order.
func (m *Memory) All(_ context.Context) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id].Clone())
	}
	return out, nil
}

// Len returns the number of stored transactions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
