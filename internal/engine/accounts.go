package engine

import (
	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/internal/state"
)

// NewMarketState builds an empty book and event queue around a market and
// fills in the derived record references.
func NewMarketState(mk *domain.Market, queueCapacity int) (*state.MarketState, error) {
	if err := mk.Validate(); err != nil {
		return nil, err
	}
	q, err := event.NewQueue(queueCapacity)
	if err != nil {
		return nil, err
	}
	mk.Bids = domain.DeriveKey("bids", mk.Key)
	mk.Asks = domain.DeriveKey("asks", mk.Key)
	mk.EventQueue = domain.DeriveKey("event_queue", mk.Key)
	return &state.MarketState{Market: mk, Book: book.New(), Queue: q}, nil
}

// CreateMarket registers a new market.
func CreateMarket(tx *state.Tx, mk *domain.Market, queueCapacity int) (*domain.Market, error) {
	ms, err := NewMarketState(mk, queueCapacity)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateMarket(ms); err != nil {
		return nil, err
	}
	return ms.Market, nil
}

// CreateUserAccount opens owner's account on a market.
func CreateUserAccount(tx *state.Tx, marketKey, owner domain.Key) (*domain.UserAccount, error) {
	if _, err := tx.Market(marketKey); err != nil {
		return nil, err
	}
	u := domain.NewUserAccount(marketKey, owner)
	if err := tx.CreateUserAccount(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Deposit credits free balance once custody has received the tokens.
func Deposit(tx *state.Tx, accountKey domain.Key, asset domain.Asset, amount uint64) (*domain.UserAccount, error) {
	if amount == 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	u, err := tx.UserAccount(accountKey)
	if err != nil {
		return nil, err
	}
	if err := u.Deposit(asset, amount); err != nil {
		return nil, err
	}
	return u, nil
}

// Withdraw debits free balance; custody releases the tokens afterwards.
func Withdraw(tx *state.Tx, accountKey domain.Key, asset domain.Asset, amount uint64) (*domain.UserAccount, error) {
	if amount == 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	u, err := tx.UserAccount(accountKey)
	if err != nil {
		return nil, err
	}
	if err := u.Withdraw(asset, amount); err != nil {
		return nil, err
	}
	return u, nil
}

// SetDiscountHolding records the discount-token balance custody reports
// for an account; it selects the taker fee tier.
func SetDiscountHolding(tx *state.Tx, accountKey domain.Key, holding uint64) (*domain.UserAccount, error) {
	u, err := tx.UserAccount(accountKey)
	if err != nil {
		return nil, err
	}
	u.DiscountHolding = holding
	return u, nil
}

// ClaimRebates pays out rebates accrued under RebateAccrue.
func ClaimRebates(tx *state.Tx, accountKey domain.Key) (uint64, error) {
	u, err := tx.UserAccount(accountKey)
	if err != nil {
		return 0, err
	}
	return u.ClaimRebates()
}

// SweepResult is what the sweep authority withdrew.
type SweepResult struct {
	Fees      uint64 `json:"fees"`
	Royalties uint64 `json:"royalties"`
}

// SweepFees hands outstanding fees and royalties to the sweep authority.
func SweepFees(tx *state.Tx, marketKey, signer domain.Key) (*SweepResult, error) {
	ms, err := tx.Market(marketKey)
	if err != nil {
		return nil, err
	}
	if signer != ms.Market.SweepAuthority {
		return nil, domain.ErrUnauthorized
	}
	fees, royalties := ms.Market.Sweep()
	return &SweepResult{Fees: fees, Royalties: royalties}, nil
}
