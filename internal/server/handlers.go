package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/scoring"
	"github.com/vanshika/upiscope/internal/service"
	"github.com/vanshika/upiscope/internal/store"
)

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger  *slog.Logger
	service *service.TransactionService
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, svc *service.TransactionService) *APIHandlers {
	return &APIHandlers{
		logger:  logger,
		service: svc,
	}
}

func (h *APIHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := parsePositiveInt(query.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := parsePositiveInt(query.Get("pageSize"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pageSize")
		return
	}

	flagged := false
	if v := query.Get("flagged"); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid flagged")
			return
		}
		flagged = val
	}

	state := strings.ToUpper(strings.TrimSpace(query.Get("state")))
	if state != "" && !knownState(state) {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	result, err := h.service.ListTransactions(r.Context(), service.ListTransactionsParams{
		Page:        page,
		PageSize:    pageSize,
		SenderID:    query.Get("sender"),
		State:       state,
		Category:    query.Get("category"),
		FlaggedOnly: flagged,
	})
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	resp := listTransactionsResponse{
		Items: []domain.Transaction{},
		Pagination: paginationResponse{
			Page:       result.Pagination.Page,
			PageSize:   result.Pagination.PageSize,
			TotalItems: result.Pagination.TotalItems,
			TotalPages: result.Pagination.TotalPages,
		},
	}
	resp.Items = append(resp.Items, result.Items...)
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.service.GetTransaction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch transaction", "error", err, "transactionId", id)
		writeError(w, http.StatusInternalServerError, "failed to fetch transaction")
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (h *APIHandlers) explainTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := h.service.Explain(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	case errors.Is(err, service.ErrHistoryUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to explain transaction", "error", err, "transactionId", id)
		writeError(w, http.StatusInternalServerError, "failed to explain transaction")
		return
	}

	respondJSON(w, http.StatusOK, explanationResponse{
		Transaction:  exp.Transaction,
		Score:        exp.Result.Score,
		Flag:         exp.Result.Flag,
		Reasons:      exp.Result.Reasons,
		Factors:      exp.Result.Factors,
		HistorySize:  exp.HistorySize,
		MatchesStore: exp.MatchesStore,
	})
}

func (h *APIHandlers) exportTransactions(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	txs, err := h.service.Export(r.Context())
	if err != nil {
		h.logger.Error("failed to export transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export transactions")
		return
	}

	if format == "json" {
		if txs == nil {
			txs = []domain.Transaction{}
		}
		respondJSON(w, http.StatusOK, txs)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	w.WriteHeader(http.StatusOK)
	sink := store.NewCSVSink(w)
	for _, tx := range txs {
		if err := sink.Write(tx); err != nil {
			h.logger.Error("failed to write csv row", "error", err, "transactionId", tx.ID)
			return
		}
	}
	if err := sink.Flush(); err != nil {
		h.logger.Error("failed to flush csv export", "error", err)
	}
}

func (h *APIHandlers) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to summarize transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to summarize transactions")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

type paginationResponse struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

type listTransactionsResponse struct {
	Items      []domain.Transaction `json:"items"`
	Pagination paginationResponse   `json:"pagination"`
}

type explanationResponse struct {
	Transaction  domain.Transaction `json:"transaction"`
	Score        float64            `json:"score"`
	Flag         bool               `json:"flag"`
	Reasons      []string           `json:"reasons"`
	Factors      []scoring.Factor   `json:"factors"`
	HistorySize  int                `json:"historySize"`
	MatchesStore bool               `json:"matchesStore"`
}

func knownState(s string) bool {
	switch domain.PaymentState(s) {
	case domain.StateInitiated, domain.StateProcessing, domain.StateSettled, domain.StateFailed:
		return true
	}
	return false
}

func parsePositiveInt(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, fmt.Errorf("must be positive, got %d", v)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
