package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/scoring"
	"github.com/vanshika/upiscope/internal/store"
)

var base = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func finalTx(id, sender string, at time.Time, amount float64) domain.Transaction {
	done := at.Add(time.Second)
	return domain.Transaction{
		ID: id, SenderID: sender, ReceiverID: "shop@ybl", Amount: amount,
		Currency: "INR", Timestamp: at, City: "Pune",
		State: domain.StateSettled, SettledAt: &done, AnomalyReasons: []string{},
	}
}

func seqOf(txs []domain.Transaction, tail error) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
		if tail != nil {
			yield(domain.Transaction{}, tail)
		}
	}
}

type recordingSink struct {
	mu    sync.Mutex
	order map[string][]string
	fail  map[string]bool
}

func (r *recordingSink) Append(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[tx.ID] {
		return errors.New("boom")
	}
	if r.order == nil {
		r.order = map[string][]string{}
	}
	r.order[tx.SenderID] = append(r.order[tx.SenderID], tx.ID)
	return nil
}

type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRecorder) ObserveAppend(sink string, _ time.Duration, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[sink]++
}

func TestIngestor_PreservesPerSenderOrder(t *testing.T) {
	var txs []domain.Transaction
	for i := 0; i < 200; i++ {
		sender := fmt.Sprintf("USR-%d", i%7)
		txs = append(txs, finalTx(fmt.Sprintf("tx-%03d", i), sender, base.Add(time.Duration(i)*time.Minute), 100))
	}

	sink := &recordingSink{}
	mem := store.NewMemory()
	rec := &countingRecorder{}
	in := NewIngestor([]Sink{{Name: "record", Appender: sink}, {Name: "memory", Appender: mem}}, 4, rec, nil)

	stats, err := in.Ingest(context.Background(), seqOf(txs, nil))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stats.Received != 200 || stats.Stored != 200 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if mem.Len() != 200 {
		t.Fatalf("expected 200 stored, got %d", mem.Len())
	}
	if rec.calls["memory"] != 200 || rec.calls["record"] != 200 {
		t.Errorf("unexpected recorder calls %v", rec.calls)
	}

	for sender, ids := range sink.order {
		for i := 1; i < len(ids); i++ {
			if ids[i] < ids[i-1] {
				t.Fatalf("sender %s out of order: %v", sender, ids)
			}
		}
	}
}

func TestIngestor_AggregatesErrors(t *testing.T) {
	sink := &recordingSink{fail: map[string]bool{"tx-1": true, "tx-3": true}}
	in := NewIngestor([]Sink{{Name: "record", Appender: sink}}, 2, nil, nil)

	txs := []domain.Transaction{
		finalTx("tx-1", "USR-1", base, 10),
		finalTx("tx-2", "USR-2", base, 10),
		finalTx("tx-3", "USR-3", base, 10),
	}
	stats, err := in.Ingest(context.Background(), seqOf(txs, nil))
	if err == nil {
		t.Fatal("expected aggregated error, got nil")
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError type, got %T", err)
	}
	if len(taskErr.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(taskErr.Errors))
	}
	if stats.Failed != 2 || stats.Stored != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestIngestor_SequenceErrorStops(t *testing.T) {
	mem := store.NewMemory()
	in := NewIngestor([]Sink{{Name: "memory", Appender: mem}}, 2, nil, nil)

	txs := []domain.Transaction{finalTx("tx-1", "USR-1", base, 10)}
	_, err := in.Ingest(context.Background(), seqOf(txs, domain.ErrInvalidProfile))
	if !errors.Is(err, domain.ErrInvalidProfile) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("records before the failure must be kept, got %d", mem.Len())
	}
}

func TestIngestor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := NewIngestor([]Sink{{Name: "memory", Appender: store.NewMemory()}}, 1, nil, nil)
	_, err := in.Ingest(ctx, seqOf([]domain.Transaction{finalTx("tx-1", "USR-1", base, 10)}, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func seededService(t *testing.T) (*TransactionService, *store.Memory, *scoring.Scorer) {
	t.Helper()
	mem := store.NewMemory()
	scorer, err := scoring.New(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	var history []domain.Transaction
	amounts := []float64{400, 420, 460, 440, 9000}
	for i, amount := range amounts {
		tx := finalTx(fmt.Sprintf("tx-%d", i), "USR-1", base.Add(time.Duration(i)*24*time.Hour), amount)
		res, err := scorer.Score(tx, history)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		tx = scoring.Apply(tx, res)
		history = append(history, tx)
		if err := mem.Append(context.Background(), tx); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return NewTransactionService(mem, mem, scorer), mem, scorer
}

func TestTransactionService_ListTransactions(t *testing.T) {
	svc, _, _ := seededService(t)

	page, err := svc.ListTransactions(context.Background(), ListTransactionsParams{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	want := PaginationMeta{Page: 2, PageSize: 2, TotalItems: 5, TotalPages: 3}
	if page.Pagination != want {
		t.Errorf("pagination mismatch: want %+v got %+v", want, page.Pagination)
	}

	flagged, err := svc.ListTransactions(context.Background(), ListTransactionsParams{FlaggedOnly: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(flagged.Items) != 1 || flagged.Items[0].ID != "tx-4" {
		t.Fatalf("expected only tx-4 flagged, got %+v", flagged.Items)
	}
	if flagged.Pagination.PageSize != 50 {
		t.Errorf("expected default page size 50, got %d", flagged.Pagination.PageSize)
	}
}

func TestTransactionService_Summary(t *testing.T) {
	svc, _, _ := seededService(t)
	sum, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sum.Total != 5 || sum.Flagged != 1 || sum.ByReason[scoring.RuleAmountDeviation] != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestTransactionService_Explain(t *testing.T) {
	svc, _, _ := seededService(t)

	exp, err := svc.Explain(context.Background(), "tx-4")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if exp.HistorySize != 4 {
		t.Errorf("expected 4 prior transactions, got %d", exp.HistorySize)
	}
	if !exp.Result.Flag || !exp.MatchesStore {
		t.Errorf("online rescoring must agree with stored score: %+v", exp)
	}
	if len(exp.Result.Factors) == 0 || exp.Result.Factors[0].Detail == "" {
		t.Errorf("expected factor details, got %+v", exp.Result.Factors)
	}

	if _, err := svc.Explain(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bare := NewTransactionService(store.NewMemory(), nil, nil)
	if _, err := bare.Explain(context.Background(), "tx-4"); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("expected ErrHistoryUnavailable, got %v", err)
	}
}
