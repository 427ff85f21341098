package model

type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// TierLimits describes what a tier entitles a tenant to.
// Quota limits of (0,0) mean the metered feature is unavailable without an
// alternate unmetered credential; -1 means unlimited.
type TierLimits struct {
	DisplayName       string
	ItemsLimit        int
	RoutinesLimit     int
	AutocreateEnabled bool
	MonthlyPriceCents int64
	YearlyPriceCents  int64
	DailyQuota        int
	HourlyQuota       int
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {
		DisplayName:   "Free",
		ItemsLimit:    15,
		RoutinesLimit: 1,
	},
	TierBasic: {
		DisplayName:       "Basic",
		ItemsLimit:        80,
		RoutinesLimit:     5,
		MonthlyPriceCents: 300,
		YearlyPriceCents:  2700,
	},
	TierTheGoods: {
		DisplayName:       "The Goods",
		ItemsLimit:        200,
		RoutinesLimit:     10,
		AutocreateEnabled: true,
		MonthlyPriceCents: 600,
		YearlyPriceCents:  5400,
		DailyQuota:        25,
		HourlyQuota:       10,
	},
	TierMoreGoods: {
		DisplayName:       "More Goods",
		ItemsLimit:        600,
		RoutinesLimit:     25,
		AutocreateEnabled: true,
		MonthlyPriceCents: 1200,
		YearlyPriceCents:  10080,
		DailyQuota:        50,
		HourlyQuota:       20,
	},
	TierTheMost: {
		DisplayName:       "The Most",
		ItemsLimit:        1500,
		RoutinesLimit:     50,
		AutocreateEnabled: true,
		MonthlyPriceCents: 2000,
		YearlyPriceCents:  16800,
		DailyQuota:        100,
		HourlyQuota:       40,
	},
	TierComplimentary: {
		DisplayName:       "Complimentary",
		ItemsLimit:        999999,
		RoutinesLimit:     999999,
		AutocreateEnabled: true,
		DailyQuota:        -1,
		HourlyQuota:       40,
	},
}

// Limits returns the entitlement set for a tier. A complimentary override
// wins over the stored tier. Unknown tiers resolve to free.
func Limits(tier Tier, isComplimentary bool) TierLimits {
	if isComplimentary {
		return tierLimits[TierComplimentary]
	}
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// ValidPaidTier reports whether tier can be purchased through checkout.
func ValidPaidTier(tier Tier) bool {
	switch tier {
	case TierBasic, TierTheGoods, TierMoreGoods, TierTheMost:
		return true
	}
	return false
}

// MonthlyRecurringCents normalizes a provider price to a monthly revenue
// figure. Yearly prices divide by 12.
func MonthlyRecurringCents(amountCents int64, interval Interval) int64 {
	if interval == IntervalYear {
		return amountCents / 12
	}
	return amountCents
}

// PricePoint is one provider price and the tier/interval it maps to.
type PricePoint struct {
	PriceRef    string
	Tier        Tier
	Interval    Interval
	AmountCents int64
}

// PriceCatalog is the static price-ref → tier lookup. Price refs are
// deployment-specific and come from configuration; amounts come from the
// tier table above.
type PriceCatalog struct {
	byRef map[string]PricePoint
}

func NewPriceCatalog(points []PricePoint) *PriceCatalog {
	c := &PriceCatalog{byRef: make(map[string]PricePoint, len(points))}
	for _, p := range points {
		if p.PriceRef == "" {
			continue
		}
		if p.AmountCents == 0 {
			l := Limits(p.Tier, false)
			if p.Interval == IntervalYear {
				p.AmountCents = l.YearlyPriceCents
			} else {
				p.AmountCents = l.MonthlyPriceCents
			}
		}
		c.byRef[p.PriceRef] = p
	}
	return c
}

// Resolve maps a provider price ref to its tier and interval. Unknown refs
// return ok=false; callers fall back to free and log, never fail.
func (c *PriceCatalog) Resolve(priceRef string) (PricePoint, bool) {
	p, ok := c.byRef[priceRef]
	return p, ok
}

// RefFor returns the provider price ref for a tier/interval pair.
func (c *PriceCatalog) RefFor(tier Tier, interval Interval) (string, bool) {
	for _, p := range c.byRef {
		if p.Tier == tier && p.Interval == interval {
			return p.PriceRef, true
		}
	}
	return "", false
}
