package scoring

import (
	"time"

	"github.com/vanshika/upiscope/internal/domain"
)

// PatternStats counts how many injected anomalies of one pattern the scorer
// caught.
type PatternStats struct {
	Injected int `json:"injected"`
	Flagged  int `json:"flagged"`
}

// Summary aggregates a scored dataset.
type Summary struct {
	Total       int                     `json:"total"`
	Flagged     int                     `json:"flagged"`
	Settled     int                     `json:"settled"`
	Failed      int                     `json:"failed"`
	Pending     int                     `json:"pending"`
	FlagRate    float64                 `json:"flagRate"`
	MeanLatency time.Duration           `json:"meanLatency"`
	ByReason    map[string]int          `json:"byReason"`
	ByPattern   map[string]PatternStats `json:"byPattern"`
	// FalsePositives counts flagged transactions that carry no injected
	// pattern.
	FalsePositives int `json:"falsePositives"`
}

// Summarize computes aggregate counts over txs.
func Summarize(txs []domain.Transaction) Summary {
	s := Summary{
		ByReason:  make(map[string]int),
		ByPattern: make(map[string]PatternStats),
	}
	var latency time.Duration
	for _, tx := range txs {
		s.Total++
		switch tx.State {
		case domain.StateSettled:
			s.Settled++
			latency += tx.Latency
		case domain.StateFailed:
			s.Failed++
		default:
			s.Pending++
		}

		if tx.AnomalyFlag {
			s.Flagged++
			if !tx.Injected() {
				s.FalsePositives++
			}
		}
		for _, r := range tx.AnomalyReasons {
			s.ByReason[r]++
		}
		if tx.Injected() {
			ps := s.ByPattern[tx.InjectedPattern]
			ps.Injected++
			if tx.AnomalyFlag {
				ps.Flagged++
			}
			s.ByPattern[tx.InjectedPattern] = ps
		}
	}
	if s.Total > 0 {
		s.FlagRate = float64(s.Flagged) / float64(s.Total)
	}
	if s.Settled > 0 {
		s.MeanLatency = latency / time.Duration(s.Settled)
	}
	return s
}
