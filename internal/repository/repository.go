package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/graph"
	"github.com/vanshika/upiscope/internal/store"
)

// Repository persists finalized transactions as a payment graph:
// (:Account)-[:SENT]->(:Payment)-[:TO]->(:Payee), with fired rules linked as
// (:Payment)-[:FLAGGED_BY]->(:Rule).
type Repository struct {
	client graph.Client
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client}
}

// UpsertProfile ensures an account node exists with the latest profile metadata.
func (r *Repository) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	params := map[string]any{
		"accountId": p.ID,
		"props":     profileProperties(p),
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertAccountCypher, params); err != nil {
		return fmt.Errorf("upsert account %s: %w", p.ID, err)
	}
	return nil
}

// Append writes the transaction and its edges. Re-appending the same id
// overwrites the payment properties.
func (r *Repository) Append(ctx context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}
	if tx.SenderID == "" || tx.ReceiverID == "" {
		return errors.New("both sender and receiver ids are required")
	}
	if !tx.State.IsTerminal() {
		return store.ErrNotFinalized
	}

	params := map[string]any{
		"transactionId": tx.ID,
		"senderId":      tx.SenderID,
		"receiverId":    tx.ReceiverID,
		"merchant":      tx.Merchant,
		"timestamp":     formatTime(tx.Timestamp),
		"props":         transactionProperties(tx),
		"reasons":       append([]string{}, tx.AnomalyReasons...),
	}
	if _, err := r.client.ExecuteWrite(ctx, appendPaymentCypher, params); err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	return nil
}

// HistoryFor returns the sender's payments inside window, oldest first.
func (r *Repository) HistoryFor(ctx context.Context, senderID string, window domain.TimeRange) ([]domain.Transaction, error) {
	res, err := r.client.ExecuteRead(ctx, historyCypher, map[string]any{
		"senderId": senderID,
		"startNs":  window.Start.UnixNano(),
		"endNs":    window.End.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", senderID, err)
	}
	return decodeTransactions(res.Records), nil
}

// Get fetches a single transaction by id.
func (r *Repository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	res, err := r.client.ExecuteRead(ctx, getPaymentCypher, map[string]any{"transactionId": id})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return domain.Transaction{}, store.ErrNotFound
	}
	return recordToTransaction(res.Records[0]), nil
}

// List returns paginated transactions matching the filters, newest first.
func (r *Repository) List(ctx context.Context, opts store.ListOptions) (store.ListResult, error) {
	opts = opts.Normalized()
	params := map[string]any{
		"senderId":    opts.SenderID,
		"state":       opts.State,
		"category":    opts.Category,
		"flaggedOnly": opts.FlaggedOnly,
		"skip":        opts.Offset,
		"limit":       opts.Limit,
	}

	query := fmt.Sprintf(listPaymentsCypherTemplate, paymentFilterClause)
	res, err := r.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("list transactions query: %w", err)
	}
	items := decodeTransactions(res.Records)

	countQuery := fmt.Sprintf(countPaymentsCypherTemplate, paymentFilterClause)
	countRes, err := r.client.ExecuteRead(ctx, countQuery, params)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("count transactions query: %w", err)
	}
	var total int64
	if len(countRes.Records) > 0 {
		total = toInt64(countRes.Records[0]["total"])
	}

	return store.ListResult{Items: items, Total: total}, nil
}

// All exports every stored transaction in timestamp order.
func (r *Repository) All(ctx context.Context) ([]domain.Transaction, error) {
	res, err := r.client.ExecuteRead(ctx, exportPaymentsCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("export transactions query: %w", err)
	}
	return decodeTransactions(res.Records), nil
}

func profileProperties(p domain.Profile) map[string]any {
	return map[string]any{
		"name":         p.Name,
		"archetype":    p.Archetype,
		"meanAmount":   p.MeanAmount,
		"amountStdDev": p.AmountStdDev,
		"categories":   append([]string{}, p.Categories...),
		"activeStart":  int64(p.ActiveHours.Start),
		"activeEnd":    int64(p.ActiveHours.End),
		"homeRegion":   p.HomeRegion,
	}
}

func transactionProperties(tx domain.Transaction) map[string]any {
	props := map[string]any{
		"senderId":        tx.SenderID,
		"receiverId":      tx.ReceiverID,
		"merchant":        tx.Merchant,
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"timestamp":       formatTime(tx.Timestamp),
		"timestampNs":     tx.Timestamp.UnixNano(),
		"category":        tx.Category,
		"channel":         tx.Channel,
		"city":            tx.City,
		"state":           string(tx.State),
		"latencyMs":       tx.Latency.Milliseconds(),
		"failureCode":     tx.FailureCode,
		"injectedPattern": tx.InjectedPattern,
		"anomalyFlag":     tx.AnomalyFlag,
		"anomalyScore":    tx.AnomalyScore,
		"anomalyReasons":  append([]string{}, tx.AnomalyReasons...),
	}
	if tx.ProcessingStartedAt != nil {
		props["processingStartedAt"] = formatTimePtr(tx.ProcessingStartedAt)
	}
	if tx.SettledAt != nil {
		props["settledAt"] = formatTimePtr(tx.SettledAt)
	}
	if tx.FailedAt != nil {
		props["failedAt"] = formatTimePtr(tx.FailedAt)
	}
	return props
}

func decodeTransactions(records []graph.Record) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, recordToTransaction(record))
	}
	return out
}

func recordToTransaction(record graph.Record) domain.Transaction {
	tx := domain.Transaction{
		ID:                  toString(record["transactionId"]),
		SenderID:            toString(record["senderId"]),
		ReceiverID:          toString(record["receiverId"]),
		Merchant:            toString(record["merchant"]),
		Amount:              toFloat64(record["amount"]),
		Currency:            toString(record["currency"]),
		Category:            toString(record["category"]),
		Channel:             toString(record["channel"]),
		City:                toString(record["city"]),
		State:               domain.PaymentState(toString(record["state"])),
		ProcessingStartedAt: toTimePtr(record["processingStartedAt"]),
		SettledAt:           toTimePtr(record["settledAt"]),
		FailedAt:            toTimePtr(record["failedAt"]),
		Latency:             time.Duration(toInt64(record["latencyMs"])) * time.Millisecond,
		FailureCode:         toString(record["failureCode"]),
		InjectedPattern:     toString(record["injectedPattern"]),
		AnomalyFlag:         toBool(record["anomalyFlag"]),
		AnomalyScore:        toFloat64(record["anomalyScore"]),
		AnomalyReasons:      toStringSlice(record["anomalyReasons"]),
	}
	if ts := toTimePtr(record["timestamp"]); ts != nil {
		tx.Timestamp = *ts
	}
	return tx
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return formatTime(*t)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toBool(val any) bool {
	b, _ := val.(bool)
	return b
}

func toStringSlice(val any) []string {
	out := []string{}
	switch v := val.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}

const upsertAccountCypher = `
MERGE (a:Account {accountId: $accountId})
SET a += $props
RETURN count(a) AS total
`

const appendPaymentCypher = `
MERGE (a:Account {accountId: $senderId})
MERGE (p:Payee {vpa: $receiverId})
ON CREATE SET p.merchant = $merchant
MERGE (t:Payment {transactionId: $transactionId})
SET t += $props
MERGE (a)-[:SENT]->(t)
MERGE (t)-[:TO]->(p)
MERGE (a)-[paid:PAID]->(p)
SET paid.lastAt = $timestamp
FOREACH (reason IN $reasons |
	MERGE (r:Rule {name: reason})
	MERGE (t)-[:FLAGGED_BY]->(r)
)
RETURN count(t) AS total
`

const paymentColumns = `
RETURN t.transactionId AS transactionId,
       t.senderId AS senderId,
       t.receiverId AS receiverId,
       t.merchant AS merchant,
       t.amount AS amount,
       t.currency AS currency,
       t.timestamp AS timestamp,
       t.category AS category,
       t.channel AS channel,
       t.city AS city,
       t.state AS state,
       t.processingStartedAt AS processingStartedAt,
       t.settledAt AS settledAt,
       t.failedAt AS failedAt,
       t.latencyMs AS latencyMs,
       t.failureCode AS failureCode,
       t.injectedPattern AS injectedPattern,
       t.anomalyFlag AS anomalyFlag,
       t.anomalyScore AS anomalyScore,
       t.anomalyReasons AS anomalyReasons`

const historyCypher = `
MATCH (:Account {accountId: $senderId})-[:SENT]->(t:Payment)
WHERE t.timestampNs >= $startNs AND t.timestampNs <= $endNs` + paymentColumns + `
ORDER BY t.timestampNs ASC
`

const getPaymentCypher = `
MATCH (t:Payment {transactionId: $transactionId})` + paymentColumns + `
LIMIT 1
`

const listPaymentsCypherTemplate = `
MATCH (t:Payment)
%s` + paymentColumns + `
ORDER BY t.timestampNs DESC
SKIP $skip LIMIT $limit
`

const countPaymentsCypherTemplate = `
MATCH (t:Payment)
%s
RETURN count(t) AS total
`

const paymentFilterClause = `
WHERE ($senderId = "" OR t.senderId = $senderId)
  AND ($state = "" OR toUpper(t.state) = $state)
  AND ($category = "" OR toLower(t.category) = toLower($category))
  AND ($flaggedOnly = false OR t.anomalyFlag = true)
`

const exportPaymentsCypher = `
MATCH (t:Payment)` + paymentColumns + `
ORDER BY t.timestampNs ASC
`
