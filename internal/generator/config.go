package generator

import (
	"time"

	"github.com/vanshika/upiscope/internal/domain"
)

// Anomaly patterns the generator can inject.
const (
	PatternAmountOutlier      = "amount_outlier"
	PatternOddHour            = "odd_hour"
	PatternBurst              = "burst"
	PatternUnfamiliarReceiver = "unfamiliar_receiver"
	PatternOutOfCity          = "out_of_city"
	PatternDuplicate          = "duplicate"
)

// AllPatterns lists every supported pattern in a stable order.
var AllPatterns = []string{
	PatternAmountOutlier,
	PatternOddHour,
	PatternBurst,
	PatternUnfamiliarReceiver,
	PatternOutOfCity,
	PatternDuplicate,
}

// PeerCategory is used for payments to a profile's personal payees.
const PeerCategory = "Friends/Vendor"

// Config drives the synthetic transaction generator.
type Config struct {
	AmountCeiling   float64
	Merchants       map[string][]string
	UnusualCities   []string
	OutlierMin      float64
	OutlierMax      float64
	BurstMaxGap     time.Duration
	DuplicateMinGap time.Duration
	DuplicateMaxGap time.Duration
	PayeeShare      float64
	Patterns        []string
}

// DefaultConfig returns the documented baseline generator settings.
func DefaultConfig() Config {
	return Config{
		AmountCeiling:   100000,
		Merchants:       defaultMerchants(),
		UnusualCities:   []string{"Shimla", "Goa", "Leh", "Gangtok"},
		OutlierMin:      5,
		OutlierMax:      20,
		BurstMaxGap:     20 * time.Second,
		DuplicateMinGap: time.Minute,
		DuplicateMaxGap: 3 * time.Minute,
		PayeeShare:      0.25,
		Patterns:        append([]string(nil), AllPatterns...),
	}
}

// Validate rejects out-of-range settings.
func (c Config) Validate() error {
	if !(c.AmountCeiling >= domain.MinAmount) {
		return domain.ConfigError("amount_ceiling", "must be at least %v, got %v", domain.MinAmount, c.AmountCeiling)
	}
	if c.OutlierMin <= 1 {
		return domain.ConfigError("outlier_min", "must be greater than 1, got %v", c.OutlierMin)
	}
	if c.OutlierMax < c.OutlierMin {
		return domain.ConfigError("outlier_max", "must not be below outlier_min (%v), got %v", c.OutlierMin, c.OutlierMax)
	}
	if c.BurstMaxGap < time.Second {
		return domain.ConfigError("burst_max_gap", "must be at least 1s, got %s", c.BurstMaxGap)
	}
	if c.DuplicateMinGap <= 0 || c.DuplicateMaxGap < c.DuplicateMinGap {
		return domain.ConfigError("duplicate_gap", "invalid window [%s, %s]", c.DuplicateMinGap, c.DuplicateMaxGap)
	}
	if err := domain.ValidateProbability("payee_share", c.PayeeShare); err != nil {
		return err
	}
	if len(c.Patterns) == 0 {
		return domain.ConfigError("patterns", "at least one anomaly pattern is required")
	}
	for _, p := range c.Patterns {
		if !knownPattern(p) {
			return domain.ConfigError("patterns", "unknown pattern %q", p)
		}
	}
	if len(c.UnusualCities) == 0 && containsString(c.Patterns, PatternOutOfCity) {
		return domain.ConfigError("unusual_cities", "required when %s is enabled", PatternOutOfCity)
	}
	return nil
}

func knownPattern(p string) bool {
	return containsString(AllPatterns, p)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func defaultMerchants() map[string][]string {
	return map[string][]string{
		"Education":     {"Byjus", "Unacademy", "Vedantu"},
		"Food":          {"Swiggy", "Zomato", "Dominos"},
		"Entertainment": {"Netflix", "BookMyShow", "Hotstar"},
		"Books":         {"Amazon", "Flipkart", "Kindle"},
		"Transport":     {"Ola", "Uber", "IRCTC"},
		"Recharge":      {"Jio", "Airtel", "Vi", "BSNL"},
		"Groceries":     {"BigBasket", "Blinkit", "DMart"},
		"Utilities":     {"Tata Power", "MSEDCL", "Mahanagar Gas"},
		"Supplies":      {"Udaan", "IndiaMART", "Metro Cash and Carry"},
		PeerCategory:    {"Ramesh Veggie", "Local Kirana", "Street Vendor"},
	}
}
