// Package scoring assigns anomaly scores to transactions by comparing each
// one against the sender's earlier history.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/vanshika/upiscope/internal/domain"
)

// ErrInvalidHistory reports a history slice that breaks the scoring
// preconditions: same sender, ascending timestamps, strictly before tx.
var ErrInvalidHistory = errors.New("invalid scoring history")

// Factor is one fired rule and its contribution.
type Factor struct {
	Rule   string  `json:"rule"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// Result is the outcome of scoring a single transaction.
type Result struct {
	Score   float64  `json:"score"`
	Flag    bool     `json:"flag"`
	Reasons []string `json:"reasons"`
	Factors []Factor `json:"factors,omitempty"`
}

// Scorer evaluates the configured rules. It holds no mutable state and is
// safe for concurrent use.
type Scorer struct {
	cfg   Config
	rules []Rule
}

// New validates cfg and builds the rule set.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, rules: BuildRules(cfg)}, nil
}

// Config returns the scorer's policy.
func (s *Scorer) Config() Config { return s.cfg }

// Rules returns the enabled rules in evaluation order.
func (s *Scorer) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Score evaluates tx against history, which must hold earlier transactions
// of the same sender in ascending timestamp order. The score is the sum of
// fired rule weights capped at 1.
func (s *Scorer) Score(tx domain.Transaction, history []domain.Transaction) (Result, error) {
	if err := checkHistory(tx, history); err != nil {
		return Result{}, err
	}

	ctx := NewContext(tx, history)
	res := Result{Reasons: []string{}}
	for _, rule := range s.rules {
		fired, detail := rule.Check(ctx)
		if !fired {
			continue
		}
		res.Score += rule.Weight
		res.Reasons = append(res.Reasons, rule.Name)
		res.Factors = append(res.Factors, Factor{Rule: rule.Name, Weight: rule.Weight, Detail: detail})
	}
	res.Score = math.Min(res.Score, 1)
	res.Flag = res.Score >= s.cfg.Threshold
	return res, nil
}

// Apply copies the result onto tx.
func Apply(tx domain.Transaction, res Result) domain.Transaction {
	tx.AnomalyScore = res.Score
	tx.AnomalyFlag = res.Flag
	tx.AnomalyReasons = append([]string{}, res.Reasons...)
	return tx
}

func checkHistory(tx domain.Transaction, history []domain.Transaction) error {
	for i, h := range history {
		switch {
		case h.SenderID != tx.SenderID:
			return fmt.Errorf("%w: entry %d belongs to sender %s, not %s", ErrInvalidHistory, i, h.SenderID, tx.SenderID)
		case h.ID == tx.ID:
			return fmt.Errorf("%w: entry %d is the scored transaction %s", ErrInvalidHistory, i, tx.ID)
		case h.Timestamp.After(tx.Timestamp):
			return fmt.Errorf("%w: entry %d is later than the scored transaction", ErrInvalidHistory, i)
		case i > 0 && h.Timestamp.Before(history[i-1].Timestamp):
			return fmt.Errorf("%w: entry %d is out of order", ErrInvalidHistory, i)
		}
	}
	return nil
}
