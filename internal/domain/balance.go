package domain

import (
	"dex_go/pkg/safe"
)

// UserAccount is a trader's ledger on one market.
// Invariant: free+locked per asset only moves through SettleFill,
// Deposit and Withdraw. Lock and Unlock keep the sum constant.
type UserAccount struct {
	Key    Key `json:"key"`
	Owner  Key `json:"owner"`
	Market Key `json:"market"`

	BaseTokenFree    uint64 `json:"base_token_free"`
	BaseTokenLocked  uint64 `json:"base_token_locked"`
	QuoteTokenFree   uint64 `json:"quote_token_free"`
	QuoteTokenLocked uint64 `json:"quote_token_locked"`

	AccumulatedRebates uint64 `json:"accumulated_rebates"`
	PendingRebates     uint64 `json:"pending_rebates"` // accrued, not yet claimed

	AccumulatedMakerBaseVolume  uint64 `json:"accumulated_maker_base_volume"`
	AccumulatedMakerQuoteVolume uint64 `json:"accumulated_maker_quote_volume"`
	AccumulatedTakerBaseVolume  uint64 `json:"accumulated_taker_base_volume"`
	AccumulatedTakerQuoteVolume uint64 `json:"accumulated_taker_quote_volume"`

	// DiscountHolding selects the fee tier (discount-token balance reported
	// by the custody layer).
	DiscountHolding uint64 `json:"discount_holding"`

	Orders []OrderRef `json:"orders"`
}

// NewUserAccount creates an empty account for owner on market.
func NewUserAccount(market, owner Key) *UserAccount {
	return &UserAccount{
		Key:    DeriveUserAccountKey(market, owner),
		Owner:  owner,
		Market: market,
		Orders: make([]OrderRef, 0),
	}
}

// Clone returns a deep copy.
func (u *UserAccount) Clone() *UserAccount {
	c := *u
	c.Orders = make([]OrderRef, len(u.Orders))
	copy(c.Orders, u.Orders)
	return &c
}

func (u *UserAccount) balances(asset Asset) (free, locked *uint64) {
	if asset == AssetBase {
		return &u.BaseTokenFree, &u.BaseTokenLocked
	}
	return &u.QuoteTokenFree, &u.QuoteTokenLocked
}

// Free returns the free balance of asset.
func (u *UserAccount) Free(asset Asset) uint64 {
	free, _ := u.balances(asset)
	return *free
}

// Locked returns the locked balance of asset.
func (u *UserAccount) Locked(asset Asset) uint64 {
	_, locked := u.balances(asset)
	return *locked
}

// Total returns free+locked.
func (u *UserAccount) Total(asset Asset) uint64 {
	free, locked := u.balances(asset)
	return *free + *locked
}

// Lock moves amount from free to locked.
func (u *UserAccount) Lock(asset Asset, amount uint64) error {
	free, locked := u.balances(asset)
	newFree, err := safe.Sub(*free, amount)
	if err != nil {
		return &InsufficientFundsError{Asset: asset, Need: amount, Have: *free}
	}
	newLocked, err := safe.Add(*locked, amount)
	if err != nil {
		return NewInvariantError("lock", "%s locked overflow", asset)
	}
	*free = newFree
	*locked = newLocked
	return nil
}

// Unlock moves amount from locked back to free.
func (u *UserAccount) Unlock(asset Asset, amount uint64) error {
	free, locked := u.balances(asset)
	newLocked, err := safe.Sub(*locked, amount)
	if err != nil {
		return NewInvariantError("unlock", "%s locked %d < %d", asset, *locked, amount)
	}
	newFree, err := safe.Add(*free, amount)
	if err != nil {
		return NewInvariantError("unlock", "%s free overflow", asset)
	}
	*locked = newLocked
	*free = newFree
	return nil
}

// Deposit credits free balance after a custody-level transfer in.
func (u *UserAccount) Deposit(asset Asset, amount uint64) error {
	free, _ := u.balances(asset)
	v, err := safe.Add(*free, amount)
	if err != nil {
		return NewValidationError("amount", "deposit overflows %s balance", asset)
	}
	*free = v
	return nil
}

// Withdraw debits free balance ahead of a custody-level transfer out.
func (u *UserAccount) Withdraw(asset Asset, amount uint64) error {
	free, _ := u.balances(asset)
	v, err := safe.Sub(*free, amount)
	if err != nil {
		return &InsufficientFundsError{Asset: asset, Need: amount, Have: *free}
	}
	*free = v
	return nil
}

// FillSettlement is one side of a fill as seen by a single account.
//
// Side is the account's own side. LockedSpent is how much of the account's
// locked balance (quote for bids, base for asks) this fill consumes; any part
// of it not owed to the counterparty is returned to free.
type FillSettlement struct {
	Role        Role
	Side        Side
	BaseQty     uint64 // base tokens exchanged
	QuoteQty    uint64 // quote tokens exchanged, before fees
	LockedSpent uint64
	Fee         uint64 // taker only
	Royalty     uint64 // taker only
	Rebate      uint64 // maker only
	PayRebate   bool
}

// SettleFill applies a fill to this account. All fields are computed
// first; nothing is written unless every step succeeds.
func (u *UserAccount) SettleFill(s FillSettlement) error {
	next := *u

	charges, err := safe.Add(s.Fee, s.Royalty)
	if err != nil {
		return NewInvariantError("settle", "fee overflow")
	}

	switch s.Side {
	case SideBid:
		// Pays quote from locked, receives base.
		cost, err := safe.Add(s.QuoteQty, charges)
		if err != nil {
			return NewInvariantError("settle", "cost overflow")
		}
		if s.LockedSpent > next.QuoteTokenLocked {
			return NewInvariantError("settle", "quote locked %d < %d", next.QuoteTokenLocked, s.LockedSpent)
		}
		if cost > s.LockedSpent {
			return NewInvariantError("settle", "bid cost %d exceeds locked share %d", cost, s.LockedSpent)
		}
		next.QuoteTokenLocked -= s.LockedSpent
		if next.QuoteTokenFree, err = safe.Add(next.QuoteTokenFree, s.LockedSpent-cost); err != nil {
			return NewInvariantError("settle", "quote free overflow")
		}
		if next.BaseTokenFree, err = safe.Add(next.BaseTokenFree, s.BaseQty); err != nil {
			return NewInvariantError("settle", "base free overflow")
		}
	case SideAsk:
		// Delivers base from locked, receives quote net of charges.
		if s.LockedSpent > next.BaseTokenLocked {
			return NewInvariantError("settle", "base locked %d < %d", next.BaseTokenLocked, s.LockedSpent)
		}
		if s.BaseQty > s.LockedSpent {
			return NewInvariantError("settle", "ask size %d exceeds locked share %d", s.BaseQty, s.LockedSpent)
		}
		if charges > s.QuoteQty {
			return NewInvariantError("settle", "charges %d exceed proceeds %d", charges, s.QuoteQty)
		}
		next.BaseTokenLocked -= s.LockedSpent
		if next.BaseTokenFree, err = safe.Add(next.BaseTokenFree, s.LockedSpent-s.BaseQty); err != nil {
			return NewInvariantError("settle", "base free overflow")
		}
		if next.QuoteTokenFree, err = safe.Add(next.QuoteTokenFree, s.QuoteQty-charges); err != nil {
			return NewInvariantError("settle", "quote free overflow")
		}
	default:
		return NewInvariantError("settle", "unknown side %d", s.Side)
	}

	if s.Rebate > 0 {
		if s.Role != RoleMaker {
			return NewInvariantError("settle", "rebate paid to taker")
		}
		if next.AccumulatedRebates, err = safe.Add(next.AccumulatedRebates, s.Rebate); err != nil {
			return NewInvariantError("settle", "rebate overflow")
		}
		if s.PayRebate {
			next.QuoteTokenFree, err = safe.Add(next.QuoteTokenFree, s.Rebate)
		} else {
			next.PendingRebates, err = safe.Add(next.PendingRebates, s.Rebate)
		}
		if err != nil {
			return NewInvariantError("settle", "rebate credit overflow")
		}
	}

	if s.Role == RoleMaker {
		next.AccumulatedMakerBaseVolume, err = safe.Add(next.AccumulatedMakerBaseVolume, s.BaseQty)
		if err == nil {
			next.AccumulatedMakerQuoteVolume, err = safe.Add(next.AccumulatedMakerQuoteVolume, s.QuoteQty)
		}
	} else {
		next.AccumulatedTakerBaseVolume, err = safe.Add(next.AccumulatedTakerBaseVolume, s.BaseQty)
		if err == nil {
			next.AccumulatedTakerQuoteVolume, err = safe.Add(next.AccumulatedTakerQuoteVolume, s.QuoteQty)
		}
	}
	if err != nil {
		return NewInvariantError("settle", "volume overflow")
	}

	*u = next
	return nil
}

// ClaimRebates moves accrued rebates into free quote.
func (u *UserAccount) ClaimRebates() (uint64, error) {
	amount := u.PendingRebates
	v, err := safe.Add(u.QuoteTokenFree, amount)
	if err != nil {
		return 0, NewInvariantError("claim", "quote free overflow")
	}
	u.QuoteTokenFree = v
	u.PendingRebates = 0
	return amount, nil
}

// AddOrder records a resting order.
func (u *UserAccount) AddOrder(ref OrderRef) {
	u.Orders = append(u.Orders, ref)
}

// RemoveOrder drops a resting order reference, reporting whether it was found.
func (u *UserAccount) RemoveOrder(id OrderID) bool {
	for i, o := range u.Orders {
		if o.ID == id {
			u.Orders = append(u.Orders[:i], u.Orders[i+1:]...)
			return true
		}
	}
	return false
}

// FindOrder looks up an open order by sequence number.
func (u *UserAccount) FindOrder(seq uint64) (OrderRef, bool) {
	for _, o := range u.Orders {
		if o.ID.Seq == seq {
			return o, true
		}
	}
	return OrderRef{}, false
}
