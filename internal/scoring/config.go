package scoring

import (
	"time"

	"github.com/vanshika/upiscope/internal/domain"
)

// Rule names, also used as anomaly reasons.
const (
	RuleAmountDeviation    = "amount_deviation"
	RuleVelocity           = "velocity"
	RuleRapidRepeat        = "rapid_repeat"
	RuleOddHour            = "odd_hour"
	RuleUnfamiliarReceiver = "unfamiliar_receiver"
	RuleDuplicatePayment   = "duplicate_payment"
	RuleUnusualLocation    = "unusual_location"
)

// RuleOrder is the fixed evaluation order; reasons are reported in it.
var RuleOrder = []string{
	RuleAmountDeviation,
	RuleVelocity,
	RuleRapidRepeat,
	RuleOddHour,
	RuleUnfamiliarReceiver,
	RuleDuplicatePayment,
	RuleUnusualLocation,
}

// Config holds thresholds and per-rule weights.
type Config struct {
	Threshold         float64
	AmountDeviationK  float64
	MinHistory        int
	VelocityCount     int
	VelocityWindow    time.Duration
	RapidRepeatWindow time.Duration
	OddHourTolerance  time.Duration
	OddHourQuantile   float64
	DuplicateWindow   time.Duration
	Lookback          time.Duration
	Weights           map[string]float64
}

// DefaultConfig returns the documented default policy.
func DefaultConfig() Config {
	return Config{
		Threshold:         0.5,
		AmountDeviationK:  3,
		MinHistory:        3,
		VelocityCount:     5,
		VelocityWindow:    60 * time.Second,
		RapidRepeatWindow: 30 * time.Second,
		OddHourTolerance:  time.Hour,
		OddHourQuantile:   0.05,
		DuplicateWindow:   3 * time.Minute,
		Lookback:          30 * 24 * time.Hour,
		Weights:           DefaultWeights(),
	}
}

// DefaultWeights returns the per-rule contributions.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		RuleAmountDeviation:    0.6,
		RuleVelocity:           0.5,
		RuleRapidRepeat:        0.5,
		RuleOddHour:            0.3,
		RuleUnfamiliarReceiver: 0.3,
		RuleDuplicatePayment:   0.5,
		RuleUnusualLocation:    0.5,
	}
}

// Validate rejects out-of-range thresholds and weights.
func (c Config) Validate() error {
	if !(c.Threshold > 0 && c.Threshold <= 1) {
		return domain.ConfigError("threshold", "must be within (0,1], got %v", c.Threshold)
	}
	if !(c.AmountDeviationK > 0) {
		return domain.ConfigError("amount_deviation_k", "must be positive, got %v", c.AmountDeviationK)
	}
	if c.MinHistory < 1 {
		return domain.ConfigError("min_history", "must be at least 1, got %d", c.MinHistory)
	}
	if c.VelocityCount < 2 {
		return domain.ConfigError("velocity_count", "must be at least 2, got %d", c.VelocityCount)
	}
	if c.VelocityWindow <= 0 {
		return domain.ConfigError("velocity_window", "must be positive, got %s", c.VelocityWindow)
	}
	if c.RapidRepeatWindow <= 0 {
		return domain.ConfigError("rapid_repeat_window", "must be positive, got %s", c.RapidRepeatWindow)
	}
	if c.OddHourTolerance < 0 {
		return domain.ConfigError("odd_hour_tolerance", "must be non-negative, got %s", c.OddHourTolerance)
	}
	if c.OddHourQuantile < 0 || c.OddHourQuantile >= 0.5 {
		return domain.ConfigError("odd_hour_quantile", "must be within [0,0.5), got %v", c.OddHourQuantile)
	}
	if c.DuplicateWindow <= 0 {
		return domain.ConfigError("duplicate_window", "must be positive, got %s", c.DuplicateWindow)
	}
	if c.Lookback <= 0 {
		return domain.ConfigError("lookback", "must be positive, got %s", c.Lookback)
	}
	for name, w := range c.Weights {
		if !knownRule(name) {
			return domain.ConfigError("weights", "unknown rule %q", name)
		}
		if w < 0 || w > 1 || w != w {
			return domain.ConfigError("weights."+name, "must be within [0,1], got %v", w)
		}
	}
	return nil
}

func knownRule(name string) bool {
	for _, r := range RuleOrder {
		if r == name {
			return true
		}
	}
	return false
}
