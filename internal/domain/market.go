package domain

import (
	"dex_go/internal/fee"
	"dex_go/pkg/quant"
	"dex_go/pkg/safe"
)

// Market holds the configuration and running aggregates of one order book.
// Aggregate counters only grow; swept amounts are tracked separately.
type Market struct {
	Key       Key `json:"key"`
	BaseMint  Key `json:"base_mint"`
	QuoteMint Key `json:"quote_mint"`

	BaseDecimals            uint8      `json:"base_decimals"`
	QuoteDecimals           uint8      `json:"quote_decimals"`
	BaseCurrencyMultiplier  uint64     `json:"base_currency_multiplier"`
	QuoteCurrencyMultiplier uint64     `json:"quote_currency_multiplier"`
	TickSize                quant.Fp32 `json:"tick_size"`
	MinBaseOrderSize        uint64     `json:"min_base_order_size"` // base lots
	RoyaltiesBps            uint64     `json:"royalties_bps"`

	SweepAuthority Key          `json:"sweep_authority"`
	FeeSchedule    fee.Schedule `json:"fee_schedule"`
	RebatePolicy   RebatePolicy `json:"rebate_policy"`

	// Order-book root references.
	Bids       Key `json:"bids"`
	Asks       Key `json:"asks"`
	EventQueue Key `json:"event_queue"`

	AccumulatedFees      uint64 `json:"accumulated_fees"`
	AccumulatedRoyalties uint64 `json:"accumulated_royalties"`
	BaseVolume           uint64 `json:"base_volume"`
	QuoteVolume          uint64 `json:"quote_volume"`
	SweptFees            uint64 `json:"swept_fees"`
	SweptRoyalties       uint64 `json:"swept_royalties"`

	NextOrderSeq uint64 `json:"next_order_seq"`
}

// Scale returns the price codec parameters of this market.
func (m *Market) Scale() quant.MarketScale {
	return quant.MarketScale{
		BaseDecimals:    m.BaseDecimals,
		QuoteDecimals:   m.QuoteDecimals,
		BaseMultiplier:  m.BaseCurrencyMultiplier,
		QuoteMultiplier: m.QuoteCurrencyMultiplier,
	}
}

// Validate checks static market parameters.
func (m *Market) Validate() error {
	if m.BaseCurrencyMultiplier == 0 || m.QuoteCurrencyMultiplier == 0 {
		return NewValidationError("currency_multiplier", "must be positive")
	}
	if m.TickSize == 0 {
		return NewValidationError("tick_size", "must be positive")
	}
	if m.MinBaseOrderSize == 0 {
		return NewValidationError("min_base_order_size", "must be positive")
	}
	if m.RoyaltiesBps > fee.BpsDenominator {
		return NewValidationError("royalties_bps", "%d exceeds %d", m.RoyaltiesBps, fee.BpsDenominator)
	}
	if m.SweepAuthority.IsZero() {
		return NewValidationError("sweep_authority", "required")
	}
	if err := m.FeeSchedule.Validate(); err != nil {
		return NewValidationError("fee_schedule", "%v", err)
	}
	return nil
}

// CheckPrice validates a limit price against the tick size.
func (m *Market) CheckPrice(price quant.Fp32) error {
	if price == 0 {
		return NewValidationError("price", "must be positive")
	}
	if price%m.TickSize != 0 {
		return NewValidationError("price", "%d not aligned to tick size %d", uint64(price), uint64(m.TickSize))
	}
	return nil
}

// CheckSize validates a base size in lots.
func (m *Market) CheckSize(baseLots uint64) error {
	if baseLots < m.MinBaseOrderSize {
		return NewValidationError("size", "%d below minimum base order size %d", baseLots, m.MinBaseOrderSize)
	}
	return nil
}

// BaseTokens converts base lots to base tokens.
func (m *Market) BaseTokens(lots uint64) (uint64, error) {
	v, err := safe.Mul(lots, m.BaseCurrencyMultiplier)
	if err != nil {
		return 0, NewValidationError("size", "base amount overflows")
	}
	return v, nil
}

// Notional returns the quote tokens exchanged for baseLots at price.
// Rounded down once per fill so both counterparties see the same number.
func (m *Market) Notional(baseLots uint64, price quant.Fp32) (uint64, error) {
	quoteLots, err := quant.MulFp32(baseLots, price)
	if err != nil {
		return 0, NewValidationError("price", "notional overflows: %v", err)
	}
	v, err := safe.Mul(quoteLots, m.QuoteCurrencyMultiplier)
	if err != nil {
		return 0, NewValidationError("price", "notional overflows")
	}
	return v, nil
}

// RecordFill adds one consumed fill to the running aggregates.
func (m *Market) RecordFill(baseTokens, quoteTokens uint64, b fee.Breakdown) error {
	if b.Fee < b.Rebate {
		return NewInvariantError("market.RecordFill", "fee %d below rebate %d", b.Fee, b.Rebate)
	}
	fees, err1 := safe.Add(m.AccumulatedFees, b.Margin())
	royalties, err2 := safe.Add(m.AccumulatedRoyalties, b.Royalty)
	baseVol, err3 := safe.Add(m.BaseVolume, baseTokens)
	quoteVol, err4 := safe.Add(m.QuoteVolume, quoteTokens)
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			return NewInvariantError("market.RecordFill", "aggregate overflow")
		}
	}
	m.AccumulatedFees = fees
	m.AccumulatedRoyalties = royalties
	m.BaseVolume = baseVol
	m.QuoteVolume = quoteVol
	return nil
}

// SweepableFees returns fees not yet withdrawn by the sweep authority.
func (m *Market) SweepableFees() uint64 {
	return m.AccumulatedFees - m.SweptFees
}

// SweepableRoyalties returns royalties not yet withdrawn.
func (m *Market) SweepableRoyalties() uint64 {
	return m.AccumulatedRoyalties - m.SweptRoyalties
}

// Sweep marks all outstanding fees and royalties as withdrawn and returns them.
func (m *Market) Sweep() (fees, royalties uint64) {
	fees, royalties = m.SweepableFees(), m.SweepableRoyalties()
	m.SweptFees = m.AccumulatedFees
	m.SweptRoyalties = m.AccumulatedRoyalties
	return fees, royalties
}

// NextSeq hands out the time-priority sequence for a new resting order.
func (m *Market) NextSeq() uint64 {
	m.NextOrderSeq++
	return m.NextOrderSeq
}
