package service

import (
	"context"
	"errors"
	"math"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/scoring"
	"github.com/vanshika/upiscope/internal/store"
)

// ErrHistoryUnavailable is returned by Explain when no history source is configured.
var ErrHistoryUnavailable = errors.New("history source not configured")

// TransactionService backs the read-only API: paginated listing, export,
// dashboard summary and on-demand rescoring.
type TransactionService struct {
	reader  store.Reader
	history store.HistorySource
	scorer  *scoring.Scorer
}

// PaginationMeta captures pagination metadata returned to API clients.
type PaginationMeta struct {
	Page       int
	PageSize   int
	TotalItems int64
	TotalPages int
}

// TransactionsPage represents paginated transactions with metadata.
type TransactionsPage struct {
	Items      []domain.Transaction
	Pagination PaginationMeta
}

// ListTransactionsParams defines filters for listing transactions.
type ListTransactionsParams struct {
	Page        int
	PageSize    int
	SenderID    string
	State       string
	Category    string
	FlaggedOnly bool
}

// Explanation is an online rescoring of a stored transaction.
type Explanation struct {
	Transaction  domain.Transaction
	Result       scoring.Result
	HistorySize  int
	MatchesStore bool
}

// NewTransactionService wires the read path. history and scorer may be nil,
// which disables Explain.
func NewTransactionService(reader store.Reader, history store.HistorySource, scorer *scoring.Scorer) *TransactionService {
	return &TransactionService{reader: reader, history: history, scorer: scorer}
}

// ListTransactions retrieves paginated transactions matching filters.
func (s *TransactionService) ListTransactions(ctx context.Context, params ListTransactionsParams) (TransactionsPage, error) {
	page, pageSize := normalizePagination(params.Page, params.PageSize)
	offset := (page - 1) * pageSize

	result, err := s.reader.List(ctx, store.ListOptions{
		Offset:      offset,
		Limit:       pageSize,
		SenderID:    params.SenderID,
		State:       params.State,
		Category:    params.Category,
		FlaggedOnly: params.FlaggedOnly,
	})
	if err != nil {
		return TransactionsPage{}, err
	}

	return TransactionsPage{
		Items:      result.Items,
		Pagination: buildPaginationMeta(page, pageSize, result.Total),
	}, nil
}

// GetTransaction fetches one transaction.
func (s *TransactionService) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.reader.Get(ctx, id)
}

// Export returns every stored transaction.
func (s *TransactionService) Export(ctx context.Context) ([]domain.Transaction, error) {
	return s.reader.All(ctx)
}

// Summary aggregates the stored dataset for the dashboard.
func (s *TransactionService) Summary(ctx context.Context) (scoring.Summary, error) {
	txs, err := s.reader.All(ctx)
	if err != nil {
		return scoring.Summary{}, err
	}
	return scoring.Summarize(txs), nil
}

// Explain rescores a stored transaction against the sender history that
// preceded it and reports every fired rule with its detail.
func (s *TransactionService) Explain(ctx context.Context, id string) (Explanation, error) {
	if s.history == nil || s.scorer == nil {
		return Explanation{}, ErrHistoryUnavailable
	}
	tx, err := s.reader.Get(ctx, id)
	if err != nil {
		return Explanation{}, err
	}
	res, n, err := ScoreOnline(ctx, s.scorer, s.history, tx)
	if err != nil {
		return Explanation{}, err
	}
	return Explanation{
		Transaction:  tx,
		Result:       res,
		HistorySize:  n,
		MatchesStore: res.Flag == tx.AnomalyFlag && math.Abs(res.Score-tx.AnomalyScore) < 1e-9,
	}, nil
}

// ScoreOnline scores tx against the history source instead of an in-memory
// accumulator. Entries at or after tx, and tx itself, are excluded.
func ScoreOnline(ctx context.Context, scorer *scoring.Scorer, source store.HistorySource, tx domain.Transaction) (scoring.Result, int, error) {
	window := domain.Window(tx.Timestamp, scorer.Config().Lookback)
	raw, err := source.HistoryFor(ctx, tx.SenderID, window)
	if err != nil {
		return scoring.Result{}, 0, err
	}
	history := make([]domain.Transaction, 0, len(raw))
	for _, h := range raw {
		if h.ID == tx.ID {
			// Anything stored after tx belongs to its future.
			break
		}
		if h.Timestamp.After(tx.Timestamp) {
			break
		}
		history = append(history, h)
	}
	res, err := scorer.Score(tx, history)
	return res, len(history), err
}

func normalizePagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func buildPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
		if total > 0 && totalPages == 0 {
			totalPages = 1
		}
	}
	return PaginationMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}
