package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vanshika/upiscope/internal/domain"
)

// Context bundles the transaction with statistics derived once from its
// history, so each rule can stay a small pure check.
type Context struct {
	Tx        domain.Transaction
	History   []domain.Transaction
	Mean      float64
	StdDev    float64
	Receivers map[string]struct{}
	Cities    map[string]struct{}
	hours     []float64
}

// NewContext computes the history statistics for tx.
func NewContext(tx domain.Transaction, history []domain.Transaction) *Context {
	ctx := &Context{
		Tx:        tx,
		History:   history,
		Receivers: make(map[string]struct{}, len(history)),
		Cities:    make(map[string]struct{}),
		hours:     make([]float64, 0, len(history)),
	}
	if len(history) == 0 {
		return ctx
	}

	var sum float64
	for _, h := range history {
		sum += h.Amount
		ctx.Receivers[h.ReceiverID] = struct{}{}
		if h.City != "" {
			ctx.Cities[h.City] = struct{}{}
		}
		ctx.hours = append(ctx.hours, domain.HourOfDay(h.Timestamp))
	}
	ctx.Mean = sum / float64(len(history))

	var sq float64
	for _, h := range history {
		d := h.Amount - ctx.Mean
		sq += d * d
	}
	ctx.StdDev = math.Sqrt(sq / float64(len(history)))
	sort.Float64s(ctx.hours)
	return ctx
}

// HourEnvelope returns the [lo, hi] hour-of-day band holding the central
// mass of the history, trimming quantile q from each tail.
func (c *Context) HourEnvelope(q float64) (lo, hi float64) {
	n := len(c.hours)
	if n == 0 {
		return 0, 24
	}
	trim := int(math.Floor(q * float64(n)))
	return c.hours[trim], c.hours[n-1-trim]
}

// Rule is one independently evaluable anomaly check. Check returns whether
// the rule fired and a human-readable detail.
type Rule struct {
	Name   string
	Weight float64
	Check  func(*Context) (bool, string)
}

// BuildRules returns the enabled rules in evaluation order. Rules without a
// configured weight are disabled.
func BuildRules(cfg Config) []Rule {
	checks := map[string]func(*Context) (bool, string){
		RuleAmountDeviation:    amountDeviation(cfg),
		RuleVelocity:           velocity(cfg),
		RuleRapidRepeat:        rapidRepeat(cfg),
		RuleOddHour:            oddHour(cfg),
		RuleUnfamiliarReceiver: unfamiliarReceiver(),
		RuleDuplicatePayment:   duplicatePayment(cfg),
		RuleUnusualLocation:    unusualLocation(cfg),
	}

	rules := make([]Rule, 0, len(RuleOrder))
	for _, name := range RuleOrder {
		w, ok := cfg.Weights[name]
		if !ok {
			continue
		}
		rules = append(rules, Rule{Name: name, Weight: w, Check: checks[name]})
	}
	return rules
}

func amountDeviation(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		if len(c.History) < cfg.MinHistory {
			return false, ""
		}
		// A flat history would make any change infinitely deviant.
		sigma := math.Max(c.StdDev, 0.1*c.Mean)
		dev := math.Abs(c.Tx.Amount-c.Mean) / sigma
		if dev <= cfg.AmountDeviationK {
			return false, ""
		}
		return true, fmt.Sprintf("amount %.2f is %.1f sigma from mean %.2f", c.Tx.Amount, dev, c.Mean)
	}
}

func velocity(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		if len(c.History) == 0 {
			return false, ""
		}
		since := c.Tx.Timestamp.Add(-cfg.VelocityWindow)
		count := 1
		for i := len(c.History) - 1; i >= 0; i-- {
			if c.History[i].Timestamp.Before(since) {
				break
			}
			count++
		}
		if count < cfg.VelocityCount {
			return false, ""
		}
		return true, fmt.Sprintf("%d transactions within %s", count, cfg.VelocityWindow)
	}
}

// rapidRepeat fires when a payment to the same receiver starts within the
// window after the previous one completed, or while it is still in flight.
func rapidRepeat(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		for i := len(c.History) - 1; i >= 0; i-- {
			h := c.History[i]
			if h.ReceiverID != c.Tx.ReceiverID {
				continue
			}
			gap := c.Tx.Timestamp.Sub(completedAt(h))
			if gap > cfg.RapidRepeatWindow {
				continue
			}
			return true, fmt.Sprintf("repeat payment to %s %s after previous completion", h.ReceiverID, gap)
		}
		return false, ""
	}
}

func oddHour(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		if len(c.History) < cfg.MinHistory {
			return false, ""
		}
		lo, hi := c.HourEnvelope(cfg.OddHourQuantile)
		tol := cfg.OddHourTolerance.Hours()
		hour := domain.HourOfDay(c.Tx.Timestamp)
		if hour >= lo-tol && hour <= hi+tol {
			return false, ""
		}
		return true, fmt.Sprintf("hour %.1f outside usual %.1f-%.1f", hour, lo, hi)
	}
}

func unfamiliarReceiver() func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		if len(c.History) == 0 {
			return false, ""
		}
		if _, known := c.Receivers[c.Tx.ReceiverID]; known {
			return false, ""
		}
		if c.Tx.Amount <= c.Mean {
			return false, ""
		}
		return true, fmt.Sprintf("new receiver %s with above-average amount %.2f", c.Tx.ReceiverID, c.Tx.Amount)
	}
}

func duplicatePayment(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		since := c.Tx.Timestamp.Add(-cfg.DuplicateWindow)
		for i := len(c.History) - 1; i >= 0; i-- {
			h := c.History[i]
			if h.Timestamp.Before(since) {
				break
			}
			if h.ReceiverID == c.Tx.ReceiverID && domain.RoundAmount(h.Amount) == domain.RoundAmount(c.Tx.Amount) {
				return true, fmt.Sprintf("same amount %.2f to %s as %s", c.Tx.Amount, h.ReceiverID, h.ID)
			}
		}
		return false, ""
	}
}

func unusualLocation(cfg Config) func(*Context) (bool, string) {
	return func(c *Context) (bool, string) {
		if len(c.History) < cfg.MinHistory || c.Tx.City == "" || len(c.Cities) == 0 {
			return false, ""
		}
		if _, seen := c.Cities[c.Tx.City]; seen {
			return false, ""
		}
		return true, fmt.Sprintf("city %s not seen before", c.Tx.City)
	}
}

func completedAt(tx domain.Transaction) time.Time {
	switch {
	case tx.SettledAt != nil:
		return *tx.SettledAt
	case tx.FailedAt != nil:
		return *tx.FailedAt
	default:
		return tx.Timestamp
	}
}
