package generator

import (
	"fmt"
	"math/rand"

	"github.com/vanshika/upiscope/internal/domain"
)

// Template is an archetype preset that profiles are sampled from.
type Template struct {
	Archetype    string
	MeanAmount   float64
	AmountStdDev float64
	Categories   []string
	ActiveHours  domain.ActiveHours
	Regions      []string
	Payees       []string
}

// Templates returns the built-in archetype presets keyed by archetype.
func Templates() map[string]Template {
	return map[string]Template{
		domain.ArchetypeStudent: {
			Archetype:    domain.ArchetypeStudent,
			MeanAmount:   450,
			AmountStdDev: 200,
			Categories:   []string{"Education", "Food", "Entertainment", "Books", "Transport", "Recharge"},
			ActiveHours:  domain.ActiveHours{Start: 8, End: 23},
			Regions:      []string{"Pune"},
			Payees:       []string{"Mom", "Dad", "Ankita", "Ajay"},
		},
		domain.ArchetypeRetail: {
			Archetype:    domain.ArchetypeRetail,
			MeanAmount:   1800,
			AmountStdDev: 700,
			Categories:   []string{"Groceries", "Food", "Utilities", "Transport", "Recharge", "Entertainment"},
			ActiveHours:  domain.ActiveHours{Start: 7, End: 22},
			Regions:      []string{"Mumbai", "Bengaluru", "Hyderabad", "Chennai"},
			Payees:       []string{"Maid Salary", "Landlord", "Milkman"},
		},
		domain.ArchetypeMerchant: {
			Archetype:    domain.ArchetypeMerchant,
			MeanAmount:   6000,
			AmountStdDev: 2500,
			Categories:   []string{"Supplies", "Utilities", "Transport"},
			ActiveHours:  domain.ActiveHours{Start: 9, End: 21},
			Regions:      []string{"Delhi", "Ahmedabad", "Jaipur", "Kolkata"},
		},
	}
}

// SampleProfiles draws n profiles from the archetype template. IDs start at
// firstIndex so several archetypes can share one ID space.
func SampleProfiles(rng *rand.Rand, archetype string, n, firstIndex int) ([]domain.Profile, error) {
	tpl, ok := Templates()[archetype]
	if !ok {
		return nil, domain.ConfigError("archetype", "unknown archetype %q", archetype)
	}
	if n < 0 {
		return nil, domain.ConfigError("count", "must be non-negative, got %d", n)
	}

	names := defaultNameFragments()
	profiles := make([]domain.Profile, 0, n)
	for i := 0; i < n; i++ {
		mean := tpl.MeanAmount * jitter(rng, 0.2)
		spread := tpl.AmountStdDev * jitter(rng, 0.2)
		profiles = append(profiles, domain.Profile{
			ID:           fmt.Sprintf("USR-%06d", firstIndex+i),
			Name:         names.fullName(rng),
			Archetype:    tpl.Archetype,
			MeanAmount:   domain.RoundAmount(mean),
			AmountStdDev: domain.RoundAmount(spread),
			Categories:   append([]string(nil), tpl.Categories...),
			ActiveHours:  tpl.ActiveHours,
			HomeRegion:   tpl.Regions[rng.Intn(len(tpl.Regions))],
			Payees:       append([]string(nil), tpl.Payees...),
		})
	}
	return profiles, nil
}

func jitter(rng *rand.Rand, frac float64) float64 {
	return 1 - frac + rng.Float64()*2*frac
}

type nameFragments struct {
	first []string
	last  []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first: []string{"Aarav", "Vivaan", "Aditya", "Ananya", "Diya", "Ishaan", "Kavya", "Priya", "Rohan", "Saanvi", "Arjun", "Meera", "Kabir", "Nisha", "Zoya"},
		last:  []string{"Sharma", "Patel", "Iyer", "Kulkarni", "Reddy", "Khan", "Das", "Mehta", "Nair", "Singh", "Gupta", "Joshi"},
	}
}

func (n nameFragments) fullName(rng *rand.Rand) string {
	return fmt.Sprintf("%s %s", n.first[rng.Intn(len(n.first))], n.last[rng.Intn(len(n.last))])
}
