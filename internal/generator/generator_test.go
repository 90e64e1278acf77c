package generator

import (
	"encoding/csv"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/upiscope/internal/domain"
)

var week = domain.TimeRange{
	Start: time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 4, 13, 23, 59, 59, 0, time.UTC),
}

func student() domain.Profile {
	return domain.Profile{
		ID:           "USR-000001",
		Name:         "Kavya Nair",
		Archetype:    domain.ArchetypeStudent,
		MeanAmount:   450,
		AmountStdDev: 200,
		Categories:   []string{"Food", "Books"},
		ActiveHours:  domain.ActiveHours{Start: 8, End: 23},
		HomeRegion:   "Pune",
		Payees:       []string{"Mom", "Dad"},
	}
}

func newGen(t *testing.T, cfg Config, seed int64) *Generator {
	t.Helper()
	g, err := New(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}

func TestGenerate_NormalTransaction(t *testing.T) {
	g := newGen(t, DefaultConfig(), 1)
	p := student()
	lo, hi := p.AmountBounds()

	for i := 0; i < 500; i++ {
		tx, err := g.Generate(p, week, 0)
		require.NoError(t, err)
		assert.Equal(t, domain.StateInitiated, tx.State)
		assert.Equal(t, p.ID, tx.SenderID)
		assert.Equal(t, "Pune", tx.City)
		assert.Equal(t, domain.DefaultCurrency, tx.Currency)
		assert.Empty(t, tx.InjectedPattern)
		assert.True(t, week.Contains(tx.Timestamp))
		assert.GreaterOrEqual(t, tx.Amount, lo-0.01)
		assert.LessOrEqual(t, tx.Amount, hi+0.01)
		assert.Contains(t, tx.ReceiverID, "@")
		assert.Contains(t, []string{"Food", "Books", PeerCategory}, tx.Category)
		assert.False(t, tx.AnomalyFlag)
		assert.Zero(t, tx.AnomalyScore)
	}
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	g := newGen(t, DefaultConfig(), 1)

	bad := student()
	bad.MeanAmount = 0
	_, err := g.Generate(bad, week, 0.1)
	assert.ErrorIs(t, err, domain.ErrInvalidProfile)

	_, err = g.Generate(student(), week, -0.1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = g.Generate(student(), domain.TimeRange{}, 0.1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGenerate_AllAnomaliesTagged(t *testing.T) {
	g := newGen(t, DefaultConfig(), 2)
	seen := map[string]int{}
	for i := 0; i < 600; i++ {
		tx, err := g.Generate(student(), week, 1)
		require.NoError(t, err)
		require.NotEmpty(t, tx.InjectedPattern)
		assert.True(t, week.Contains(tx.Timestamp))
		assert.Greater(t, tx.Amount, 0.0)
		assert.LessOrEqual(t, tx.Amount, DefaultConfig().AmountCeiling)
		seen[tx.InjectedPattern]++
	}
	for _, p := range AllPatterns {
		assert.Greater(t, seen[p], 0, "pattern %s never injected", p)
	}
}

func TestGenerate_AmountOutlier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []string{PatternAmountOutlier}
	g := newGen(t, cfg, 3)

	tx, err := g.Generate(student(), week, 1)
	require.NoError(t, err)
	assert.Equal(t, PatternAmountOutlier, tx.InjectedPattern)
	assert.GreaterOrEqual(t, tx.Amount, 450*cfg.OutlierMin)
	assert.LessOrEqual(t, tx.Amount, 450*cfg.OutlierMax)
}

func TestGenerate_CeilingClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []string{PatternAmountOutlier}
	cfg.AmountCeiling = 1000
	g := newGen(t, cfg, 4)

	tx, err := g.Generate(student(), week, 1)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, tx.Amount)
}

func TestGenerate_OddHourOutsideActiveWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []string{PatternOddHour}
	g := newGen(t, cfg, 5)
	p := student()

	for i := 0; i < 50; i++ {
		tx, err := g.Generate(p, week, 1)
		require.NoError(t, err)
		if tx.InjectedPattern == PatternOddHour {
			assert.False(t, p.ActiveHours.Contains(domain.HourOfDay(tx.Timestamp)))
		} else {
			assert.Equal(t, PatternAmountOutlier, tx.InjectedPattern)
		}
	}
}

func TestGenerate_OddHourFallsBackForFullDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []string{PatternOddHour}
	g := newGen(t, cfg, 6)
	p := student()
	p.ActiveHours = domain.ActiveHours{Start: 0, End: 24}

	tx, err := g.Generate(p, week, 1)
	require.NoError(t, err)
	assert.Equal(t, PatternAmountOutlier, tx.InjectedPattern)
}

func TestGenerate_BurstAndDuplicateFollowPrevious(t *testing.T) {
	for _, pattern := range []string{PatternBurst, PatternDuplicate} {
		t.Run(pattern, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Patterns = []string{pattern}
			g := newGen(t, cfg, 7)

			first, err := g.Generate(student(), week, 1)
			require.NoError(t, err)
			assert.Equal(t, PatternAmountOutlier, first.InjectedPattern, "no previous transaction yet")

			second, err := g.Generate(student(), week, 1)
			require.NoError(t, err)
			assert.Equal(t, pattern, second.InjectedPattern)
			assert.Equal(t, first.ReceiverID, second.ReceiverID)
			gap := second.Timestamp.Sub(first.Timestamp)
			assert.GreaterOrEqual(t, gap, time.Duration(0))
			if pattern == PatternBurst {
				assert.LessOrEqual(t, gap, cfg.BurstMaxGap)
			} else {
				assert.Equal(t, first.Amount, second.Amount)
				assert.LessOrEqual(t, gap, cfg.DuplicateMaxGap)
			}
		})
	}
}

func TestGenerate_UnfamiliarReceiverIsNew(t *testing.T) {
	g := newGen(t, DefaultConfig(), 8)
	known := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		tx, err := g.Generate(student(), week, 0)
		require.NoError(t, err)
		known[tx.ReceiverID] = struct{}{}
	}

	cfg := DefaultConfig()
	cfg.Patterns = []string{PatternUnfamiliarReceiver}
	g.cfg = cfg
	tx, err := g.Generate(student(), week, 1)
	require.NoError(t, err)
	assert.Equal(t, PatternUnfamiliarReceiver, tx.InjectedPattern)
	assert.NotContains(t, known, tx.ReceiverID)
	assert.Greater(t, tx.Amount, student().MeanAmount)
}

func TestGenerate_Deterministic(t *testing.T) {
	a := newGen(t, DefaultConfig(), 42)
	b := newGen(t, DefaultConfig(), 42)
	for i := 0; i < 100; i++ {
		x, err := a.Generate(student(), week, 0.3)
		require.NoError(t, err)
		y, err := b.Generate(student(), week, 0.3)
		require.NoError(t, err)
		require.Equal(t, x, y)
	}
}

func TestVPAStable(t *testing.T) {
	assert.Equal(t, vpaFor("Tata Power"), vpaFor("Tata Power"))
	assert.True(t, strings.HasPrefix(vpaFor("Tata Power"), "tata.power@"))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Patterns = []string{"teleport"}
	assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.OutlierMin = 1
	assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.UnusualCities = nil
	assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
}

func TestSampleProfiles(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	profiles, err := SampleProfiles(rng, domain.ArchetypeRetail, 10, 5)
	require.NoError(t, err)
	require.Len(t, profiles, 10)
	assert.Equal(t, "USR-000005", profiles[0].ID)
	for _, p := range profiles {
		require.NoError(t, p.Validate())
		assert.InDelta(t, 1800, p.MeanAmount, 1800*0.2+0.01)
	}

	_, err = SampleProfiles(rng, "pirate", 1, 0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestWriteDataset(t *testing.T) {
	dir := t.TempDir()
	g := newGen(t, DefaultConfig(), 9)
	tx, err := g.Generate(student(), week, 0)
	require.NoError(t, err)
	tx.State = domain.StateSettled

	require.NoError(t, WriteDataset(Dataset{Profiles: []domain.Profile{student()}, Transactions: []domain.Transaction{tx}}, dir))

	raw, err := os.ReadFile(filepath.Join(dir, "transactions.json"))
	require.NoError(t, err)
	var decoded []domain.Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, tx.ID, decoded[0].ID)

	f, err := os.Open(filepath.Join(dir, "transactions.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.RowHeader, rows[0])
	assert.Equal(t, tx.ID, rows[1][0])

	_, err = os.Stat(filepath.Join(dir, "profiles.json"))
	assert.NoError(t, err)
}
