package generator

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/upiscope/internal/domain"
)

// Generator synthesises single UPI transactions from a profile envelope.
// It remembers each sender's previous transaction, which the burst and
// duplicate patterns build on, so one Generator serves one run.
type Generator struct {
	cfg  Config
	rand *rand.Rand
	last map[string]domain.Transaction
	seen map[string]map[string]struct{}
}

// New returns a Generator that draws all randomness from rng.
func New(cfg Config, rng *rand.Rand) (*Generator, error) {
	if rng == nil {
		return nil, domain.ConfigError("rand", "a random source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:  cfg,
		rand: rng,
		last: make(map[string]domain.Transaction),
		seen: make(map[string]map[string]struct{}),
	}, nil
}

// Generate produces one INITIATED transaction for profile inside r. With
// probability anomalyRate one of the configured anomaly patterns is injected
// and recorded in InjectedPattern. Scoring fields are left unset.
func (g *Generator) Generate(profile domain.Profile, r domain.TimeRange, anomalyRate float64) (domain.Transaction, error) {
	if err := profile.Validate(); err != nil {
		return domain.Transaction{}, err
	}
	if err := r.Validate(); err != nil {
		return domain.Transaction{}, err
	}
	if err := domain.ValidateProbability("anomaly_rate", anomalyRate); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := g.normal(profile, r)
	if err != nil {
		return domain.Transaction{}, err
	}
	if anomalyRate > 0 && g.rand.Float64() < anomalyRate {
		pattern := g.cfg.Patterns[g.rand.Intn(len(g.cfg.Patterns))]
		g.inject(&tx, pattern, profile, r)
	}
	tx.Amount = g.clampAmount(tx.Amount)

	g.remember(tx)
	return tx, nil
}

func (g *Generator) normal(profile domain.Profile, r domain.TimeRange) (domain.Transaction, error) {
	id, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("generate transaction id: %w", err)
	}

	category := profile.Categories[g.rand.Intn(len(profile.Categories))]
	merchant := g.pickMerchant(category)
	if len(profile.Payees) > 0 && g.rand.Float64() < g.cfg.PayeeShare {
		category = PeerCategory
		merchant = profile.Payees[g.rand.Intn(len(profile.Payees))]
	}

	return domain.Transaction{
		ID:             id.String(),
		SenderID:       profile.ID,
		ReceiverID:     vpaFor(merchant),
		Merchant:       merchant,
		Amount:         profile.SampleAmount(g.rand),
		Currency:       domain.DefaultCurrency,
		Timestamp:      profile.SampleTimestamp(g.rand, r),
		Category:       category,
		Channel:        g.randomChannel(),
		City:           profile.HomeRegion,
		State:          domain.StateInitiated,
		AnomalyReasons: []string{},
	}, nil
}

func (g *Generator) inject(tx *domain.Transaction, pattern string, profile domain.Profile, r domain.TimeRange) {
	switch pattern {
	case PatternOddHour:
		if g.injectOddHour(tx, profile, r) {
			return
		}
	case PatternBurst:
		if g.injectBurst(tx, r) {
			return
		}
	case PatternDuplicate:
		if g.injectDuplicate(tx, r) {
			return
		}
	case PatternUnfamiliarReceiver:
		g.injectUnfamiliarReceiver(tx, profile)
		return
	case PatternOutOfCity:
		tx.City = g.cfg.UnusualCities[g.rand.Intn(len(g.cfg.UnusualCities))]
		tx.InjectedPattern = PatternOutOfCity
		return
	}
	// Amount outliers need no prior state, so every pattern that cannot be
	// applied falls back to one.
	g.injectAmountOutlier(tx, profile)
}

func (g *Generator) injectAmountOutlier(tx *domain.Transaction, profile domain.Profile) {
	mult := g.cfg.OutlierMin + g.rand.Float64()*(g.cfg.OutlierMax-g.cfg.OutlierMin)
	tx.Amount = profile.MeanAmount * mult
	tx.InjectedPattern = PatternAmountOutlier
}

func (g *Generator) injectOddHour(tx *domain.Transaction, profile domain.Profile, r domain.TimeRange) bool {
	if profile.ActiveHours.FullDay() {
		return false
	}
	var hours []int
	for h := 0; h < 24; h++ {
		if !profile.ActiveHours.Contains(float64(h)) {
			hours = append(hours, h)
		}
	}
	hour := hours[g.rand.Intn(len(hours))]
	y, m, d := tx.Timestamp.Date()
	candidate := time.Date(y, m, d, hour, g.rand.Intn(60), g.rand.Intn(60), 0, tx.Timestamp.Location())
	if !r.Contains(candidate) {
		return false
	}
	tx.Timestamp = candidate
	tx.InjectedPattern = PatternOddHour
	return true
}

func (g *Generator) injectBurst(tx *domain.Transaction, r domain.TimeRange) bool {
	prev, ok := g.last[tx.SenderID]
	if !ok {
		return false
	}
	gap := time.Second + time.Duration(g.rand.Int63n(int64(g.cfg.BurstMaxGap-time.Second)+1))
	tx.ReceiverID = prev.ReceiverID
	tx.Merchant = prev.Merchant
	tx.Category = prev.Category
	tx.Timestamp = r.Clamp(prev.Timestamp.Add(gap))
	tx.InjectedPattern = PatternBurst
	return true
}

func (g *Generator) injectDuplicate(tx *domain.Transaction, r domain.TimeRange) bool {
	prev, ok := g.last[tx.SenderID]
	if !ok {
		return false
	}
	window := g.cfg.DuplicateMaxGap - g.cfg.DuplicateMinGap
	gap := g.cfg.DuplicateMinGap + time.Duration(g.rand.Int63n(int64(window)+1))
	tx.ReceiverID = prev.ReceiverID
	tx.Merchant = prev.Merchant
	tx.Category = prev.Category
	tx.Channel = prev.Channel
	tx.Amount = prev.Amount
	tx.Timestamp = r.Clamp(prev.Timestamp.Add(gap))
	tx.InjectedPattern = PatternDuplicate
	return true
}

func (g *Generator) injectUnfamiliarReceiver(tx *domain.Transaction, profile domain.Profile) {
	known := g.seen[profile.ID]
	receiver := ""
	for attempt := 0; ; attempt++ {
		receiver = fmt.Sprintf("upi%06d@%s", g.rand.Intn(1000000), vpaHandles[g.rand.Intn(len(vpaHandles))])
		if _, dup := known[receiver]; !dup || attempt > 8 {
			break
		}
	}
	tx.ReceiverID = receiver
	tx.Merchant = "Unknown Payee"
	tx.Category = PeerCategory
	_, hi := profile.AmountBounds()
	tx.Amount = math.Max(profile.MeanAmount*(1.5+g.rand.Float64()), hi)
	tx.InjectedPattern = PatternUnfamiliarReceiver
}

func (g *Generator) remember(tx domain.Transaction) {
	g.last[tx.SenderID] = tx
	if g.seen[tx.SenderID] == nil {
		g.seen[tx.SenderID] = make(map[string]struct{})
	}
	g.seen[tx.SenderID][tx.ReceiverID] = struct{}{}
}

func (g *Generator) clampAmount(v float64) float64 {
	v = math.Min(v, g.cfg.AmountCeiling)
	v = math.Max(v, domain.MinAmount)
	rounded := domain.RoundAmount(v)
	if rounded > g.cfg.AmountCeiling {
		rounded = math.Floor(g.cfg.AmountCeiling*100) / 100
	}
	return rounded
}

func (g *Generator) pickMerchant(category string) string {
	merchants := g.cfg.Merchants[category]
	if len(merchants) == 0 {
		return category
	}
	return merchants[g.rand.Intn(len(merchants))]
}

func (g *Generator) randomChannel() string {
	channels := []string{domain.ChannelQR, domain.ChannelIntent, domain.ChannelCollect}
	return channels[g.rand.Intn(len(channels))]
}

var vpaHandles = []string{"ybl", "okaxis", "okhdfcbank", "oksbi", "paytm", "ibl"}

// vpaFor maps a merchant or payee name to a stable UPI address, so repeat
// payments to the same party share a receiver id.
func vpaFor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	handle := vpaHandles[h.Sum32()%uint32(len(vpaHandles))]
	local := strings.ToLower(strings.Join(strings.Fields(name), "."))
	return local + "@" + handle
}
