package domain

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Archetype labels for profile templates.
const (
	ArchetypeStudent  = "student"
	ArchetypeRetail   = "retail"
	ArchetypeMerchant = "merchant"
)

const (
	// MinAmount is the smallest amount a UPI payment can carry.
	MinAmount = 1.0
	// AmountClipSigmas bounds sampled amounts to mean ± this many spreads.
	AmountClipSigmas = 4.0
	// ActiveHoursBias is the probability a sampled timestamp is moved into
	// the profile's active-hours window.
	ActiveHoursBias = 0.9
)

// ActiveHours is a half-open [Start, End) window of hours within a day.
type ActiveHours struct {
	Start int `json:"start" mapstructure:"start"`
	End   int `json:"end" mapstructure:"end"`
}

// Validate ensures the window is a non-empty sub-range of a day.
func (h ActiveHours) Validate() error {
	if h.Start < 0 || h.Start > 23 {
		return ProfileError("active_hours.start", "must be within [0,23], got %d", h.Start)
	}
	if h.End < 1 || h.End > 24 {
		return ProfileError("active_hours.end", "must be within [1,24], got %d", h.End)
	}
	if h.End <= h.Start {
		return ProfileError("active_hours", "end %d must be after start %d", h.End, h.Start)
	}
	return nil
}

// Contains reports whether the hour-of-day (fractional) falls inside the window.
func (h ActiveHours) Contains(hour float64) bool {
	return hour >= float64(h.Start) && hour < float64(h.End)
}

// FullDay reports whether the window covers all 24 hours.
func (h ActiveHours) FullDay() bool {
	return h.Start == 0 && h.End == 24
}

// Profile describes a simulated account and its normal behaviour envelope.
type Profile struct {
	ID           string      `json:"id" mapstructure:"id"`
	Name         string      `json:"name" mapstructure:"name"`
	Archetype    string      `json:"archetype" mapstructure:"archetype"`
	MeanAmount   float64     `json:"meanAmount" mapstructure:"mean_amount"`
	AmountStdDev float64     `json:"amountStdDev" mapstructure:"amount_std_dev"`
	Categories   []string    `json:"categories" mapstructure:"categories"`
	ActiveHours  ActiveHours `json:"activeHours" mapstructure:"active_hours"`
	HomeRegion   string      `json:"homeRegion" mapstructure:"home_region"`
	Payees       []string    `json:"payees,omitempty" mapstructure:"payees"`
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ProfileError("id", "is required")
	}
	if !(p.MeanAmount > 0) || math.IsInf(p.MeanAmount, 0) {
		return ProfileError("mean_amount", "must be positive, got %v", p.MeanAmount)
	}
	if p.AmountStdDev < 0 || math.IsNaN(p.AmountStdDev) || math.IsInf(p.AmountStdDev, 0) {
		return ProfileError("amount_std_dev", "must be non-negative, got %v", p.AmountStdDev)
	}
	if len(p.Categories) == 0 {
		return ProfileError("categories", "at least one category is required")
	}
	for i, c := range p.Categories {
		if strings.TrimSpace(c) == "" {
			return ProfileError("categories", "entry %d is empty", i)
		}
	}
	if err := p.ActiveHours.Validate(); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a profile mid-run.
func (p Profile) Clone() Profile {
	p.Categories = append([]string(nil), p.Categories...)
	p.Payees = append([]string(nil), p.Payees...)
	return p
}

// AmountBounds returns the clip interval used by SampleAmount.
func (p Profile) AmountBounds() (lo, hi float64) {
	lo = p.MeanAmount - AmountClipSigmas*p.AmountStdDev
	hi = p.MeanAmount + AmountClipSigmas*p.AmountStdDev
	if lo < MinAmount {
		lo = MinAmount
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// SampleAmount draws a normal amount around the profile mean, clipped to
// mean ± 4 spreads and never below MinAmount.
func (p Profile) SampleAmount(rng *rand.Rand) float64 {
	lo, hi := p.AmountBounds()
	v := p.MeanAmount + p.AmountStdDev*rng.NormFloat64()
	return math.Min(hi, math.Max(lo, v))
}

// SampleTimestamp draws an instant inside r, weighted toward the active-hours
// window. The result always lies within r.
func (p Profile) SampleTimestamp(rng *rand.Rand, r TimeRange) time.Time {
	span := r.Duration()
	if span <= 0 {
		return r.Start
	}
	uniform := r.Start.Add(time.Duration(rng.Int63n(int64(span) + 1)))
	if rng.Float64() >= ActiveHoursBias {
		return uniform
	}

	windowSecs := int64(p.ActiveHours.End-p.ActiveHours.Start) * 3600
	offset := int64(p.ActiveHours.Start)*3600 + rng.Int63n(windowSecs)
	candidate := startOfDay(uniform).Add(time.Duration(offset) * time.Second)
	if r.Contains(candidate) {
		return candidate
	}
	return uniform
}

// HourOfDay returns the fractional hour of t in its own location.
func HourOfDay(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
