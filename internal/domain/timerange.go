package domain

import "time"

// TimeRange is an inclusive [Start, End] interval.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate ensures both bounds are set and ordered.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() {
		return ConfigError("time_range.start", "is required")
	}
	if r.End.IsZero() {
		return ConfigError("time_range.end", "is required")
	}
	if r.End.Before(r.Start) {
		return ConfigError("time_range", "end %s is before start %s",
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Clamp pulls t into the range.
func (r TimeRange) Clamp(t time.Time) time.Time {
	if t.Before(r.Start) {
		return r.Start
	}
	if t.After(r.End) {
		return r.End
	}
	return t
}

// Window returns the lookback range ending at asOf.
func Window(asOf time.Time, lookback time.Duration) TimeRange {
	return TimeRange{Start: asOf.Add(-lookback), End: asOf}
}
