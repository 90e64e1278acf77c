// Package dataset orchestrates generation, settlement and scoring into a
// lazily produced, per-sender ordered transaction sequence.
package dataset

import (
	"hash/fnv"
	"iter"
	"math/rand"
	"sort"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/flow"
	"github.com/vanshika/upiscope/internal/generator"
	"github.com/vanshika/upiscope/internal/scoring"
)

// Observer is notified of every finalized transaction, in yield order.
type Observer interface {
	Observe(tx domain.Transaction)
}

// Options configures a Builder. Every field is required except Observer.
type Options struct {
	Generator generator.Config
	Flow      flow.Config
	Scoring   scoring.Config
	Seed      int64
	Observer  Observer
}

// Builder produces reproducible datasets.
type Builder struct {
	opts   Options
	scorer *scoring.Scorer
}

// NewBuilder validates every sub-configuration up front.
func NewBuilder(opts Options) (*Builder, error) {
	if err := opts.Generator.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Flow.Validate(); err != nil {
		return nil, err
	}
	scorer, err := scoring.New(opts.Scoring)
	if err != nil {
		return nil, err
	}
	return &Builder{opts: opts, scorer: scorer}, nil
}

// Scorer exposes the policy the builder scores with.
func (b *Builder) Scorer() *scoring.Scorer { return b.scorer }

// Build validates its arguments and returns a lazy sequence of finalized,
// scored transactions. Profiles are processed in input order; within a
// profile transactions come out in non-decreasing timestamp order. An
// invalid profile yields its error and ends the sequence; elements yielded
// before it remain valid. Ranging the sequence again replays the same run.
func (b *Builder) Build(profiles []domain.Profile, r domain.TimeRange, countPerProfile int, anomalyRate float64) (iter.Seq2[domain.Transaction, error], error) {
	if len(profiles) == 0 {
		return nil, &domain.ValidationError{Kind: domain.ErrEmptyProfileSet, Field: "profiles", Reason: "at least one profile is required"}
	}
	if countPerProfile < 0 {
		return nil, domain.ConfigError("count_per_profile", "must be non-negative, got %d", countPerProfile)
	}
	if err := domain.ValidateProbability("anomaly_rate", anomalyRate); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(profiles))
	frozen := make([]domain.Profile, len(profiles))
	for i, p := range profiles {
		if _, dup := seen[p.ID]; dup && p.ID != "" {
			return nil, domain.ProfileError("id", "duplicate profile id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		frozen[i] = p.Clone()
	}

	return func(yield func(domain.Transaction, error) bool) {
		for _, p := range frozen {
			if !b.profilePass(p, r, countPerProfile, anomalyRate, yield) {
				return
			}
		}
	}, nil
}

// profilePass reports whether the sequence should continue.
func (b *Builder) profilePass(p domain.Profile, r domain.TimeRange, count int, rate float64, yield func(domain.Transaction, error) bool) bool {
	if err := p.Validate(); err != nil {
		yield(domain.Transaction{}, err)
		return false
	}

	rng := rand.New(rand.NewSource(deriveSeed(b.opts.Seed, p.ID)))
	gen, err := generator.New(b.opts.Generator, rng)
	if err != nil {
		yield(domain.Transaction{}, err)
		return false
	}
	sim, err := flow.New(b.opts.Flow, rng)
	if err != nil {
		yield(domain.Transaction{}, err)
		return false
	}

	batch := make([]domain.Transaction, 0, count)
	for i := 0; i < count; i++ {
		tx, err := gen.Generate(p, r, rate)
		if err != nil {
			yield(domain.Transaction{}, err)
			return false
		}
		batch = append(batch, tx)
	}
	SortByTimestamp(batch)

	lookback := b.scorer.Config().Lookback
	history := make([]domain.Transaction, 0, count)
	start := 0
	for _, tx := range batch {
		tx, err = sim.Settle(tx)
		if err != nil {
			yield(domain.Transaction{}, err)
			return false
		}

		since := tx.Timestamp.Add(-lookback)
		for start < len(history) && history[start].Timestamp.Before(since) {
			start++
		}
		res, err := b.scorer.Score(tx, history[start:])
		if err != nil {
			yield(domain.Transaction{}, err)
			return false
		}
		tx = scoring.Apply(tx, res)
		history = append(history, tx)

		if b.opts.Observer != nil {
			b.opts.Observer.Observe(tx)
		}
		if !yield(tx.Clone(), nil) {
			return false
		}
	}
	return true
}

// Collect materializes seq. On error it returns the elements produced so far
// together with the error.
func Collect(seq iter.Seq2[domain.Transaction, error]) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for tx, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// SortByTimestamp orders txs by timestamp in place. The sort is stable, so
// per-sender order is preserved for equal instants.
func SortByTimestamp(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
}

func deriveSeed(seed int64, profileID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(profileID))
	return seed ^ int64(h.Sum64())
}
