// Package flow drives a transaction through the UPI payment state machine:
// INITIATED -> PROCESSING -> SETTLED | FAILED.
package flow

import (
	"math/rand"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
)

// NPCI-style response codes used for failed payments.
var FailureCodes = []string{
	"U30", // debit failed at remitter bank
	"U16", // risk threshold exceeded
	"U69", // collect request expired
	"Z9",  // insufficient funds
	"ZM",  // invalid MPIN
	"U09", // remitter CBS timeout
}

// Config holds the simulator's timing and drop-rate knobs.
type Config struct {
	FailRate      float64
	QueueDelayMax time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

// DefaultConfig returns the documented baseline.
func DefaultConfig() Config {
	return Config{
		FailRate:      0.03,
		QueueDelayMax: 500 * time.Millisecond,
		MinLatency:    800 * time.Millisecond,
		MaxLatency:    6 * time.Second,
	}
}

// Validate rejects out-of-range settings.
func (c Config) Validate() error {
	if err := domain.ValidateProbability("fail_rate", c.FailRate); err != nil {
		return err
	}
	if c.QueueDelayMax < 0 {
		return domain.ConfigError("queue_delay_max", "must be non-negative, got %s", c.QueueDelayMax)
	}
	if c.MinLatency < 0 {
		return domain.ConfigError("min_latency", "must be non-negative, got %s", c.MinLatency)
	}
	if c.MaxLatency < c.MinLatency {
		return domain.ConfigError("max_latency", "must not be below min_latency (%s), got %s", c.MinLatency, c.MaxLatency)
	}
	return nil
}

// Simulator advances transactions one state at a time.
type Simulator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a Simulator that draws all randomness from rng.
func New(cfg Config, rng *rand.Rand) (*Simulator, error) {
	if rng == nil {
		return nil, domain.ConfigError("rand", "a random source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, rand: rng}, nil
}

// Advance performs exactly one transition and returns the updated copy.
// Advancing a terminal transaction fails with ErrInvalidStateTransition.
func (s *Simulator) Advance(tx domain.Transaction) (domain.Transaction, error) {
	tx = tx.Clone()
	switch tx.State {
	case domain.StateInitiated:
		started := tx.Timestamp.Add(s.duration(0, s.cfg.QueueDelayMax))
		tx.ProcessingStartedAt = &started
		tx.State = domain.StateProcessing
		return tx, nil
	case domain.StateProcessing:
		return s.complete(tx), nil
	case domain.StateSettled, domain.StateFailed:
		return tx, &domain.ValidationError{
			Kind:   domain.ErrInvalidStateTransition,
			Field:  "state",
			Reason: "transaction " + tx.ID + " is already " + string(tx.State),
		}
	default:
		return tx, &domain.ValidationError{
			Kind:   domain.ErrInvalidStateTransition,
			Field:  "state",
			Reason: "unknown state " + string(tx.State),
		}
	}
}

// Settle advances tx until it reaches a terminal state.
func (s *Simulator) Settle(tx domain.Transaction) (domain.Transaction, error) {
	var err error
	for !tx.State.IsTerminal() {
		if tx, err = s.Advance(tx); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

func (s *Simulator) complete(tx domain.Transaction) domain.Transaction {
	start := tx.Timestamp
	if tx.ProcessingStartedAt != nil {
		start = *tx.ProcessingStartedAt
	}
	done := start.Add(s.duration(s.cfg.MinLatency, s.cfg.MaxLatency))

	if s.cfg.FailRate > 0 && s.rand.Float64() < s.cfg.FailRate {
		tx.State = domain.StateFailed
		tx.FailedAt = &done
		tx.FailureCode = FailureCodes[s.rand.Intn(len(FailureCodes))]
		return tx
	}
	tx.State = domain.StateSettled
	tx.SettledAt = &done
	tx.Latency = done.Sub(tx.Timestamp)
	return tx
}

func (s *Simulator) duration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rand.Int63n(int64(hi-lo)+1))
}
