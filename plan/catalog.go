package plan

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/types"
)

// Catalog is a read-only registry of tiers. Build one with NewCatalog,
// DefaultCatalog or LoadCatalogFile; lookups hand out copies so callers
// cannot mutate the table.
type Catalog struct {
	plans map[Tier]*Plan
}

// NewCatalog builds a catalog from the given plans. Duplicate tiers,
// unknown tiers and unknown dimensions are rejected.
func NewCatalog(plans ...*Plan) (*Catalog, error) {
	table := make(map[Tier]*Plan, len(plans))

	for _, p := range plans {
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("plan: unknown tier %q", p.Tier)
		}
		if _, dup := table[p.Tier]; dup {
			return nil, fmt.Errorf("plan: duplicate tier %q", p.Tier)
		}
		for d := range p.Limits {
			if !d.Valid() {
				return nil, fmt.Errorf("plan: tier %q: unknown dimension %q", p.Tier, d)
			}
		}
		table[p.Tier] = p.clone()
	}

	return &Catalog{plans: table}, nil
}

// Get returns the plan for a tier, or false if the tier is not in the
// catalog.
func (c *Catalog) Get(tier Tier) (*Plan, bool) {
	p, ok := c.plans[tier]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Tiers returns the cataloged tiers in rank order.
func (c *Catalog) Tiers() []Tier {
	tiers := make([]Tier, 0, len(c.plans))
	for t := range c.plans {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tierRanks[tiers[i]] < tierRanks[tiers[j]]
	})
	return tiers
}

// Len returns the number of cataloged tiers.
func (c *Catalog) Len() int { return len(c.plans) }

// DefaultCatalog returns the built-in tier table.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(
		&Plan{
			Entity: types.NewEntity(),
			ID:     id.NewPlanID(),
			Tier:   TierFree,
			Name:   "Free",
			Limits: map[Dimension]int64{
				DimensionTokens:       Disallowed,
				DimensionInteractions: 10,
				DimensionComments:     5,
				DimensionMilestones:   3,
				DimensionChats:        10,
				DimensionFreeFeatures: Unlimited,
			},
			Price: types.USD(0),
		},
		&Plan{
			Entity: types.NewEntity(),
			ID:     id.NewPlanID(),
			Tier:   TierBasic,
			Name:   "Basic",
			Limits: map[Dimension]int64{
				DimensionTokens:       50_000,
				DimensionInteractions: 100,
				DimensionComments:     50,
				DimensionMilestones:   20,
				DimensionChats:        50,
				DimensionFreeFeatures: Unlimited,
			},
			Price: types.USD(990),
		},
		&Plan{
			Entity: types.NewEntity(),
			ID:     id.NewPlanID(),
			Tier:   TierAdvanced,
			Name:   "Advanced",
			Limits: map[Dimension]int64{
				DimensionTokens:       200_000,
				DimensionInteractions: 500,
				DimensionComments:     200,
				DimensionMilestones:   100,
				DimensionChats:        200,
				DimensionFreeFeatures: Unlimited,
			},
			Price: types.USD(1990),
		},
		&Plan{
			Entity: types.NewEntity(),
			ID:     id.NewPlanID(),
			Tier:   TierProfessional,
			Name:   "Professional",
			Limits: map[Dimension]int64{
				DimensionTokens:       500_000,
				DimensionInteractions: 2_000,
				DimensionComments:     1_000,
				DimensionMilestones:   500,
				DimensionChats:        1_000,
				DimensionFreeFeatures: Unlimited,
			},
			Price: types.USD(3990),
		},
		&Plan{
			Entity: types.NewEntity(),
			ID:     id.NewPlanID(),
			Tier:   TierUnlimited,
			Name:   "Unlimited",
			Limits: map[Dimension]int64{
				DimensionTokens:       Unlimited,
				DimensionInteractions: Unlimited,
				DimensionComments:     Unlimited,
				DimensionMilestones:   Unlimited,
				DimensionChats:        Unlimited,
				DimensionFreeFeatures: Unlimited,
			},
			Price: types.USD(9990),
		},
	)
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(fmt.Sprintf("plan: default catalog: %v", err))
	}
	return cat
}

// catalogFile is the YAML document shape for LoadCatalogFile.
type catalogFile struct {
	Plans []struct {
		Tier        string           `yaml:"tier"`
		Name        string           `yaml:"name"`
		Description string           `yaml:"description"`
		Limits      map[string]int64 `yaml:"limits"`
		Price       struct {
			Amount   int64  `yaml:"amount"`
			Currency string `yaml:"currency"`
		} `yaml:"price"`
	} `yaml:"plans"`
}

// LoadCatalogFile builds a catalog from a YAML file:
//
//	plans:
//	  - tier: basic
//	    name: Basic
//	    limits:
//	      token_budget: 50000
//	      chat_count: 50
//	    price:
//	      amount: 990
//	      currency: usd
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: read catalog file: %w", err)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plan: parse catalog file: %w", err)
	}

	plans := make([]*Plan, 0, len(doc.Plans))
	for _, entry := range doc.Plans {
		limits := make(map[Dimension]int64, len(entry.Limits))
		for d, l := range entry.Limits {
			limits[Dimension(d)] = l
		}

		price := types.Zero("usd")
		if entry.Price.Currency != "" {
			price = types.Money{Amount: entry.Price.Amount, Currency: entry.Price.Currency}
		}

		plans = append(plans, &Plan{
			Entity:      types.NewEntity(),
			ID:          id.NewPlanID(),
			Tier:        Tier(entry.Tier),
			Name:        entry.Name,
			Description: entry.Description,
			Limits:      limits,
			Price:       price,
		})
	}

	return NewCatalog(plans...)
}
