package instruction

import (
	"dex_go/internal/domain"
	"dex_go/internal/fee"

	"github.com/shopspring/decimal"
)

// Human prices travel as decimal strings and are converted with the
// market's scale; sizes are base lots.

type CreateMarket struct {
	Key                     domain.Key           `json:"key"` // optional, derived when zero
	BaseMint                domain.Key           `json:"base_mint"`
	QuoteMint               domain.Key           `json:"quote_mint"`
	BaseDecimals            uint8                `json:"base_decimals"`
	QuoteDecimals           uint8                `json:"quote_decimals"`
	BaseCurrencyMultiplier  uint64               `json:"base_currency_multiplier"`
	QuoteCurrencyMultiplier uint64               `json:"quote_currency_multiplier"`
	TickSize                decimal.Decimal      `json:"tick_size"`
	MinBaseOrderSize        uint64               `json:"min_base_order_size"`
	RoyaltiesBps            uint64               `json:"royalties_bps"`
	SweepAuthority          domain.Key           `json:"sweep_authority"` // optional, config default
	FeeSchedule             *fee.Schedule        `json:"fee_schedule,omitempty"`
	RebatePolicy            *domain.RebatePolicy `json:"rebate_policy,omitempty"`
}

type CreateAccount struct {
	Market domain.Key `json:"market"`
}

// Transfer is the payload of Deposit and Withdraw.
type Transfer struct {
	Market domain.Key   `json:"market"`
	Asset  domain.Asset `json:"asset"`
	Amount uint64       `json:"amount"`
}

type PlaceOrder struct {
	Market            domain.Key               `json:"market"`
	Side              domain.Side              `json:"side"`
	Price             decimal.Decimal          `json:"price"`
	Size              uint64                   `json:"size"`
	OrderType         domain.OrderType         `json:"order_type"`
	SelfTradeBehavior domain.SelfTradeBehavior `json:"self_trade_behavior"`
	CallbackID        uint64                   `json:"callback_id"`
	MatchLimit        int                      `json:"match_limit,omitempty"`
}

type Swap struct {
	Market            domain.Key               `json:"market"`
	Side              domain.Side              `json:"side"`
	Size              uint64                   `json:"size"`
	QuoteLimit        uint64                   `json:"quote_limit"`
	SelfTradeBehavior domain.SelfTradeBehavior `json:"self_trade_behavior"`
	CallbackID        uint64                   `json:"callback_id"`
	MatchLimit        int                      `json:"match_limit,omitempty"`
}

type CancelOrder struct {
	Market   domain.Key `json:"market"`
	OrderSeq uint64     `json:"order_seq"`
}

type ConsumeEvents struct {
	Market    domain.Key   `json:"market"`
	Accounts  []domain.Key `json:"accounts"`
	MaxEvents int          `json:"max_events"`
	MinEvents int          `json:"min_events"`
}

type ClaimRebates struct {
	Market domain.Key `json:"market"`
}

type SweepFees struct {
	Market domain.Key `json:"market"`
}

// SetDiscount records a custody-reported discount-token holding. Signed by
// the market's sweep authority.
type SetDiscount struct {
	Market  domain.Key `json:"market"`
	Owner   domain.Key `json:"owner"`
	Holding uint64     `json:"holding"`
}
