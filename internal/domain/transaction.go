package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the UPI flow state of a transaction.
type PaymentState string

const (
	StateInitiated  PaymentState = "INITIATED"
	StateProcessing PaymentState = "PROCESSING"
	StateSettled    PaymentState = "SETTLED"
	StateFailed     PaymentState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s PaymentState) IsTerminal() bool {
	return s == StateSettled || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s PaymentState) Valid() bool {
	switch s {
	case StateInitiated, StateProcessing, StateSettled, StateFailed:
		return true
	}
	return false
}

// UPI initiation modes.
const (
	ChannelQR      = "QR"
	ChannelIntent  = "INTENT"
	ChannelCollect = "COLLECT"
)

// DefaultCurrency is the only currency UPI settles in.
const DefaultCurrency = "INR"

// Transaction is a single synthetic UPI payment.
type Transaction struct {
	ID                  string        `json:"id"`
	SenderID            string        `json:"senderId"`
	ReceiverID          string        `json:"receiverId"`
	Merchant            string        `json:"merchant"`
	Amount              float64       `json:"amount"`
	Currency            string        `json:"currency"`
	Timestamp           time.Time     `json:"timestamp"`
	Category            string        `json:"category"`
	Channel             string        `json:"channel"`
	City                string        `json:"city"`
	State               PaymentState  `json:"state"`
	ProcessingStartedAt *time.Time    `json:"processingStartedAt,omitempty"`
	SettledAt           *time.Time    `json:"settledAt,omitempty"`
	FailedAt            *time.Time    `json:"failedAt,omitempty"`
	Latency             time.Duration `json:"latency,omitempty"`
	FailureCode         string        `json:"failureCode,omitempty"`
	InjectedPattern     string        `json:"injectedPattern,omitempty"`
	AnomalyFlag         bool          `json:"anomalyFlag"`
	AnomalyScore        float64       `json:"anomalyScore"`
	AnomalyReasons      []string      `json:"anomalyReasons"`
}

// Clone returns a copy that shares no mutable state with t.
func (t Transaction) Clone() Transaction {
	t.AnomalyReasons = append([]string(nil), t.AnomalyReasons...)
	t.ProcessingStartedAt = cloneTime(t.ProcessingStartedAt)
	t.SettledAt = cloneTime(t.SettledAt)
	t.FailedAt = cloneTime(t.FailedAt)
	return t
}

// Injected reports whether the generator deliberately made t anomalous.
func (t Transaction) Injected() bool {
	return t.InjectedPattern != ""
}

// RoundAmount rounds to paise.
func RoundAmount(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// RowHeader lists the flat tabular columns produced by Row.
var RowHeader = []string{
	"id", "sender_id", "receiver_id", "amount", "timestamp", "category", "state",
	"anomaly_flag", "anomaly_score", "anomaly_reasons",
	"merchant", "channel", "city", "latency_ms", "failure_code", "injected_pattern",
}

// Row flattens the transaction into RowHeader order.
func (t Transaction) Row() []string {
	latency := ""
	if t.Latency > 0 {
		latency = strconv.FormatInt(t.Latency.Milliseconds(), 10)
	}
	return []string{
		t.ID,
		t.SenderID,
		t.ReceiverID,
		decimal.NewFromFloat(t.Amount).StringFixed(2),
		t.Timestamp.Format(time.RFC3339Nano),
		t.Category,
		string(t.State),
		strconv.FormatBool(t.AnomalyFlag),
		strconv.FormatFloat(t.AnomalyScore, 'f', 4, 64),
		strings.Join(t.AnomalyReasons, "|"),
		t.Merchant,
		t.Channel,
		t.City,
		latency,
		t.FailureCode,
		t.InjectedPattern,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
