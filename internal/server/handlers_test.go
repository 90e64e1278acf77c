package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/scoring"
	"github.com/vanshika/upiscope/internal/service"
	"github.com/vanshika/upiscope/internal/store"
)

var base = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func storedTx(i int, sender string, amount float64) domain.Transaction {
	ts := base.Add(time.Duration(i) * time.Hour)
	done := ts.Add(2 * time.Second)
	return domain.Transaction{
		ID:             fmt.Sprintf("TX-%03d", i),
		SenderID:       sender,
		ReceiverID:     "swiggy@okaxis",
		Merchant:       "Swiggy",
		Amount:         amount,
		Currency:       "INR",
		Timestamp:      ts,
		Category:       "Food",
		Channel:        domain.ChannelQR,
		City:           "Pune",
		State:          domain.StateSettled,
		SettledAt:      &done,
		Latency:        2 * time.Second,
		AnomalyReasons: []string{},
	}
}

func newTestRouter(t *testing.T, withHistory bool) (http.Handler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	for i, amount := range []float64{400, 420, 410, 430, 9000} {
		tx := storedTx(i, "USR-000001", amount)
		if i == 4 {
			tx.AnomalyFlag = true
			tx.AnomalyScore = 0.6
			tx.AnomalyReasons = []string{scoring.RuleAmountDeviation}
		}
		if err := mem.Append(context.Background(), tx); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	failed := storedTx(5, "USR-000002", 150)
	failed.State = domain.StateFailed
	failed.SettledAt = nil
	failed.FailureCode = "U30"
	if err := mem.Append(context.Background(), failed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	scorer, err := scoring.New(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	var svc *service.TransactionService
	if withHistory {
		svc = service.NewTransactionService(mem, mem, scorer)
	} else {
		svc = service.NewTransactionService(mem, nil, nil)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(logger, RouterDependencies{API: NewAPIHandlers(logger, svc)}), mem
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListTransactions(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := get(t, h, "/transactions?pageSize=2&page=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload listTransactionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Pagination.TotalItems != 6 || payload.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination %+v", payload.Pagination)
	}
	if len(payload.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.Items))
	}

	rec = get(t, h, "/transactions?flagged=true")
	payload = listTransactionsResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "TX-004" {
		t.Fatalf("expected only the flagged transaction, got %+v", payload.Items)
	}

	rec = get(t, h, "/transactions?state=failed&sender=USR-000002")
	payload = listTransactionsResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].FailureCode != "U30" {
		t.Fatalf("expected the failed transaction, got %+v", payload.Items)
	}
}

func TestListTransactions_BadQuery(t *testing.T) {
	h, _ := newTestRouter(t, false)
	for _, target := range []string{
		"/transactions?flagged=maybe",
		"/transactions?state=LOST",
		"/transactions?page=two",
		"/transactions?pageSize=ten",
		"/transactions?page=0",
		"/transactions?pageSize=-5",
	} {
		if rec := get(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestGetTransaction(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := get(t, h, "/transactions/TX-004")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &tx); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !tx.AnomalyFlag || tx.Amount != 9000 {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	if rec := get(t, h, "/transactions/TX-999"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExplainTransaction(t *testing.T) {
	h, _ := newTestRouter(t, true)

	rec := get(t, h, "/transactions/TX-004/explain")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload explanationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.HistorySize != 4 {
		t.Fatalf("expected 4 prior transactions, got %d", payload.HistorySize)
	}
	if !payload.Flag || len(payload.Reasons) == 0 || payload.Reasons[0] != scoring.RuleAmountDeviation {
		t.Fatalf("expected amount deviation flag, got %+v", payload)
	}
	if len(payload.Factors) != len(payload.Reasons) {
		t.Fatalf("expected one factor per reason, got %+v", payload.Factors)
	}
}

func TestExplainTransaction_NoHistory(t *testing.T) {
	h, _ := newTestRouter(t, false)
	if rec := get(t, h, "/transactions/TX-004/explain"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestExportTransactions_CSV(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := get(t, h, "/export/transactions?format=csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv content type, got %s", ct)
	}
	rows, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected header plus 6 rows, got %d", len(rows))
	}
	if rows[0][0] != domain.RowHeader[0] {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "TX-000" {
		t.Fatalf("expected oldest transaction first, got %s", rows[1][0])
	}
}

func TestExportTransactions_JSONAndBadFormat(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := get(t, h, "/export/transactions?format=json")
	var txs []domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(txs) != 6 {
		t.Fatalf("expected 6 transactions, got %d", len(txs))
	}

	if rec := get(t, h, "/export/transactions?format=xml"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := get(t, h, "/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var s scoring.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if s.Total != 6 || s.Flagged != 1 || s.Failed != 1 || s.Settled != 5 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.ByReason[scoring.RuleAmountDeviation] != 1 {
		t.Fatalf("unexpected reason counts %v", s.ByReason)
	}
}

type failingHealth struct{ err error }

func (f failingHealth) Probe(context.Context) error { return f.err }

type recordedRequests struct{ seen []string }

func (r *recordedRequests) ObserveRequest(route, code string) {
	r.seen = append(r.seen, route+" "+code)
}

func TestHealthzAndObserver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &recordedRequests{}
	h := NewRouter(logger, RouterDependencies{
		Health: CompositeHealth{
			{Name: "graph", Health: GraphHealthService{}},
			{Name: "redis", Health: failingHealth{err: errors.New("connection refused")}},
		},
		Requests: obs,
	})

	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["status"] != "degraded" || payload["error"] != "redis: connection refused" {
		t.Fatalf("unexpected payload %v", payload)
	}

	get(t, h, "/nowhere")
	if len(obs.seen) != 2 || obs.seen[0] != "/healthz 503" || obs.seen[1] != "unmatched 404" {
		t.Fatalf("unexpected observations %v", obs.seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRouter(logger, RouterDependencies{AllowedOrigins: []string{"http://dash.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://dash.local" {
		t.Fatalf("missing allow-origin header")
	}

	req = httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
