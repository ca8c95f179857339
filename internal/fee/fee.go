package fee

import (
	"fmt"
	"sort"

	"dex_go/pkg/safe"
)

const (
	// RateDenominator expresses rates in hundred-thousandths (0.1 bps).
	RateDenominator = 100_000
	// BpsDenominator is used for royalties.
	BpsDenominator = 10_000

	// OneDiscountToken is one whole discount token (6 decimals).
	OneDiscountToken = 1_000_000
)

// Tier is one row of a fee schedule.
type Tier struct {
	Name               string `yaml:"name" json:"name"`
	MinDiscountHolding uint64 `yaml:"min_discount_holding" json:"min_discount_holding"`
	TakerRate          uint64 `yaml:"taker_rate" json:"taker_rate"`
	MakerRebateRate    uint64 `yaml:"maker_rebate_rate" json:"maker_rebate_rate"`
}

// Schedule selects a tier by the trader's discount-token holding.
type Schedule struct {
	Tiers []Tier `yaml:"tiers" json:"tiers"`
}

// Breakdown is the fee outcome of a single fill.
type Breakdown struct {
	Fee     uint64 `json:"fee"`
	Rebate  uint64 `json:"rebate"`
	Royalty uint64 `json:"royalty"`
}

// Margin is what the exchange keeps. Never negative.
func (b Breakdown) Margin() uint64 {
	return b.Fee - b.Rebate
}

// DefaultSchedule returns the discount ladder used when config has none.
func DefaultSchedule() Schedule {
	return Schedule{Tiers: []Tier{
		{Name: "base", MinDiscountHolding: 0, TakerRate: 40, MakerRebateRate: 20},
		{Name: "srm2", MinDiscountHolding: 100 * OneDiscountToken, TakerRate: 39, MakerRebateRate: 20},
		{Name: "srm3", MinDiscountHolding: 1_000 * OneDiscountToken, TakerRate: 38, MakerRebateRate: 20},
		{Name: "srm4", MinDiscountHolding: 10_000 * OneDiscountToken, TakerRate: 36, MakerRebateRate: 20},
		{Name: "srm5", MinDiscountHolding: 100_000 * OneDiscountToken, TakerRate: 34, MakerRebateRate: 20},
		{Name: "srm6", MinDiscountHolding: 1_000_000 * OneDiscountToken, TakerRate: 32, MakerRebateRate: 20},
	}}
}

// Validate checks the schedule can never pay out more than it charges.
func (s Schedule) Validate() error {
	if len(s.Tiers) == 0 {
		return fmt.Errorf("fee schedule has no tiers")
	}
	hasBase := false
	for _, t := range s.Tiers {
		if t.MinDiscountHolding == 0 {
			hasBase = true
		}
		if t.TakerRate > RateDenominator {
			return fmt.Errorf("tier %q: taker rate %d exceeds %d", t.Name, t.TakerRate, RateDenominator)
		}
		if t.MakerRebateRate > t.TakerRate {
			return fmt.Errorf("tier %q: rebate rate %d exceeds taker rate %d", t.Name, t.MakerRebateRate, t.TakerRate)
		}
	}
	if !hasBase {
		return fmt.Errorf("fee schedule needs a tier with zero discount threshold")
	}
	return nil
}

// TierFor returns the best tier the holding qualifies for.
func (s Schedule) TierFor(discountHolding uint64) Tier {
	tiers := make([]Tier, len(s.Tiers))
	copy(tiers, s.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinDiscountHolding < tiers[j].MinDiscountHolding
	})

	var best Tier
	for _, t := range tiers {
		if discountHolding >= t.MinDiscountHolding {
			best = t
		}
	}
	return best
}

// TakerFee rounds down.
func TakerFee(notional uint64, tier Tier) uint64 {
	fee, err := safe.MulDiv(notional, tier.TakerRate, RateDenominator)
	if err != nil {
		// rate <= denominator, so the quotient always fits
		panic(err)
	}
	return fee
}

// MakerRebate rounds down.
func MakerRebate(notional uint64, tier Tier) uint64 {
	rebate, err := safe.MulDiv(notional, tier.MakerRebateRate, RateDenominator)
	if err != nil {
		panic(err)
	}
	return rebate
}

// Royalty is charged on top of the taker fee, rounded down.
func Royalty(notional, royaltiesBps uint64) uint64 {
	if royaltiesBps > BpsDenominator {
		royaltiesBps = BpsDenominator
	}
	r, err := safe.MulDiv(notional, royaltiesBps, BpsDenominator)
	if err != nil {
		panic(err)
	}
	return r
}

// Compute returns the fee, rebate and royalty for one fill of the given
// quote notional. The rebate is capped at the fee.
func Compute(notional uint64, taker, maker Tier, royaltiesBps uint64) Breakdown {
	b := Breakdown{
		Fee:     TakerFee(notional, taker),
		Rebate:  MakerRebate(notional, maker),
		Royalty: Royalty(notional, royaltiesBps),
	}
	b.Rebate = safe.Min(b.Rebate, b.Fee)
	return b
}
