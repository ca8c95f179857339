package engine

import (
	"fmt"
	"math"

	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/internal/fee"
	"dex_go/internal/state"
	"dex_go/pkg/quant"
	"dex_go/pkg/safe"
)

// DefaultMatchLimit bounds how many resting orders one placement may touch.
const DefaultMatchLimit = 64

// PlaceOrderParams describes a new limit, IOC, FOK, post-only or market order.
// Sizes are in base lots.
type PlaceOrderParams struct {
	Market     domain.Key
	Account    domain.Key
	Side       domain.Side
	Price      quant.Fp32
	BaseQty    uint64
	Type       domain.OrderType
	SelfTrade  domain.SelfTradeBehavior
	CallbackID uint64
	MatchLimit int
	Ts         quant.TimeStamp
}

// SwapParams describes an immediate swap. For bids QuoteLimit is the most
// quote the swap may spend including fees; for asks it is the least quote
// it must receive after fees.
type SwapParams struct {
	Market     domain.Key
	Account    domain.Key
	Side       domain.Side
	BaseQty    uint64
	QuoteLimit uint64
	SelfTrade  domain.SelfTradeBehavior
	CallbackID uint64
	MatchLimit int
	Ts         quant.TimeStamp
}

// OrderSummary reports what a placement did.
type OrderSummary struct {
	OrderID     *domain.OrderID    `json:"order_id,omitempty"`
	Status      domain.OrderStatus `json:"status"`
	BaseFilled  uint64             `json:"base_filled"`  // lots
	QuoteFilled uint64             `json:"quote_filled"` // tokens, before fees
	FeesPaid    uint64             `json:"fees_paid"`    // taker fee plus royalty
	BaseRested  uint64             `json:"base_rested"`  // lots
	Fills       int                `json:"fills"`
	Outs        int                `json:"outs"`
	Events      []uint64           `json:"events"`
}

// matcher walks the opposite side of the book for one incoming order.
type matcher struct {
	ms   *state.MarketState
	acct *domain.UserAccount
	tier fee.Tier

	side       domain.Side
	limit      quant.Fp32
	remaining  uint64 // lots
	selfTrade  domain.SelfTradeBehavior
	callbackID uint64
	matchLimit int
	ts         quant.TimeStamp

	// Bids only: quote tokens the taker may still commit to fills.
	budget uint64

	matches     int
	filled      uint64 // lots
	quoteFilled uint64
	charges     uint64
	spent       uint64 // taker locked balance assigned to events
	fills, outs int
	events      []uint64
}

func newMatcher(ms *state.MarketState, acct *domain.UserAccount, side domain.Side, limit quant.Fp32, lots uint64,
	st domain.SelfTradeBehavior, callbackID uint64, matchLimit int, ts quant.TimeStamp) *matcher {
	if matchLimit <= 0 {
		matchLimit = DefaultMatchLimit
	}
	return &matcher{
		ms:         ms,
		acct:       acct,
		tier:       ms.Market.FeeSchedule.TierFor(acct.DiscountHolding),
		side:       side,
		limit:      limit,
		remaining:  lots,
		selfTrade:  st,
		callbackID: callbackID,
		matchLimit: matchLimit,
		ts:         ts,
		budget:     math.MaxUint64,
	}
}

func crosses(side domain.Side, limit, resting quant.Fp32) bool {
	if side == domain.SideBid {
		return resting <= limit
	}
	return resting >= limit
}

// crossing returns the best opposite order if it crosses the limit.
func (m *matcher) crossing() (book.Resting, bool) {
	best, ok := m.ms.Book.Best(m.side.Opposite())
	if !ok || !crosses(m.side, m.limit, best.ID.Price) {
		return book.Resting{}, false
	}
	return best, true
}

// run matches until the order is exhausted, the book stops crossing, the
// bid budget runs out, the next fill would round to zero quote or the
// match limit is reached.
func (m *matcher) run() error {
	for m.remaining > 0 && m.matches < m.matchLimit {
		best, ok := m.crossing()
		if !ok {
			return nil
		}
		m.matches++

		if best.Account == m.acct.Key {
			switch m.selfTrade {
			case domain.SelfTradeCancelProvide:
				if err := m.out(best, best.BaseQty); err != nil {
					return err
				}
				continue
			case domain.SelfTradeDecrementTake:
				overlap := safe.Min(m.remaining, best.BaseQty)
				m.remaining -= overlap
				if err := m.out(best, overlap); err != nil {
					return err
				}
				continue
			default:
				return fmt.Errorf("%w: order %s crosses own order %s", domain.ErrSelfTrade, m.side, best.ID)
			}
		}

		// A resting order worth zero quote can never trade.
		dust, err := m.zeroQuote(best.BaseQty, best.ID.Price)
		if err != nil {
			return err
		}
		if dust {
			if err := m.out(best, best.BaseQty); err != nil {
				return err
			}
			continue
		}

		lots := safe.Min(m.remaining, best.BaseQty)
		if m.side == domain.SideBid {
			if lots, err = m.affordable(lots, best.ID.Price); err != nil {
				return err
			}
			if lots == 0 {
				return nil
			}
		}
		if dust, err = m.zeroQuote(lots, best.ID.Price); err != nil || dust {
			return err
		}
		if err := m.fill(best, lots); err != nil {
			return err
		}
	}
	return nil
}

func (m *matcher) zeroQuote(lots uint64, price quant.Fp32) (bool, error) {
	notional, err := m.ms.Market.Notional(lots, price)
	if err != nil {
		return false, err
	}
	return notional == 0, nil
}

// bidCost is what a taker bid pays for lots at price: notional, fee and royalty.
func (m *matcher) bidCost(lots uint64, price quant.Fp32) (uint64, error) {
	notional, err := m.ms.Market.Notional(lots, price)
	if err != nil {
		return 0, err
	}
	b := fee.Compute(notional, m.tier, fee.Tier{}, m.ms.Market.RoyaltiesBps)
	cost, err := safe.Add(notional, b.Fee)
	if err == nil {
		cost, err = safe.Add(cost, b.Royalty)
	}
	if err != nil {
		return 0, domain.NewValidationError("size", "cost overflows")
	}
	return cost, nil
}

// affordable shrinks lots until the cost fits the remaining budget.
func (m *matcher) affordable(lots uint64, price quant.Fp32) (uint64, error) {
	if m.budget == math.MaxUint64 {
		return lots, nil
	}
	cost, err := m.bidCost(lots, price)
	if err != nil {
		return 0, err
	}
	if cost <= m.budget {
		return lots, nil
	}
	// Notional alone caps the lot count; cost is monotone in lots below it.
	hi := lots
	quoteLots := m.budget / m.ms.Market.QuoteCurrencyMultiplier
	if maxLots, err := quant.DivFp32(quoteLots+1, price); err == nil {
		hi = safe.Min(hi, maxLots)
	}
	lo := uint64(0)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		c, err := m.bidCost(mid, price)
		if err != nil {
			return 0, err
		}
		if c <= m.budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

func (m *matcher) push(e event.Event) error {
	e.Ts = m.ts
	seq, err := m.ms.Queue.Push(e)
	if err != nil {
		return err
	}
	m.events = append(m.events, seq)
	return nil
}

// consume takes lots off a resting order and returns how much of its lock
// they free. A completed order also hands back its rounding residue.
func (m *matcher) consume(r book.Resting, lots, release uint64) (uint64, bool, error) {
	if release > r.Locked {
		return 0, false, domain.NewInvariantError("match", "order %s locked %d < %d", r.ID, r.Locked, release)
	}
	r.BaseQty -= lots
	r.Locked -= release
	if r.BaseQty == 0 {
		release += r.Locked
		m.ms.Book.Remove(r.ID)
		return release, true, nil
	}
	m.ms.Book.Insert(r)
	return release, false, nil
}

// makerShare is the part of a resting order's lock that lots represent.
func (m *matcher) makerShare(r book.Resting, lots uint64) (uint64, error) {
	if r.ID.Side == domain.SideAsk {
		return m.ms.Market.BaseTokens(lots)
	}
	return m.ms.Market.Notional(lots, r.ID.Price)
}

func (m *matcher) fill(r book.Resting, lots uint64) error {
	mk := m.ms.Market
	notional, err := mk.Notional(lots, r.ID.Price)
	if err != nil {
		return err
	}
	if notional == 0 {
		return domain.NewInvariantError("match", "fill of %d lots at %s rounds to zero quote", lots, r.ID.Price)
	}
	baseTokens, err := mk.BaseTokens(lots)
	if err != nil {
		return err
	}
	b := fee.Compute(notional, m.tier, fee.Tier{MakerRebateRate: r.RebateRate}, mk.RoyaltiesBps)
	charges, err := safe.Add(b.Fee, b.Royalty)
	if err != nil {
		return domain.NewValidationError("size", "fees overflow")
	}

	var takerSpent uint64
	if m.side == domain.SideBid {
		if takerSpent, err = safe.Add(notional, charges); err != nil {
			return domain.NewValidationError("size", "cost overflows")
		}
		if takerSpent > m.budget {
			return domain.NewInvariantError("match", "fill cost %d exceeds budget %d", takerSpent, m.budget)
		}
		if m.budget != math.MaxUint64 {
			m.budget -= takerSpent
		}
	} else {
		if charges > notional {
			return domain.NewValidationError("price", "fees %d exceed proceeds %d", charges, notional)
		}
		takerSpent = baseTokens
	}

	share, err := m.makerShare(r, lots)
	if err != nil {
		return err
	}
	makerSpent, done, err := m.consume(r, lots, share)
	if err != nil {
		return err
	}

	if err := m.push(event.Event{
		Kind:             event.KindFill,
		Maker:            r.Account,
		Taker:            m.acct.Key,
		MakerOrder:       r.ID,
		TakerSide:        m.side,
		Price:            r.ID.Price,
		BaseQty:          baseTokens,
		QuoteQty:         notional,
		Fee:              b.Fee,
		Rebate:           b.Rebate,
		Royalty:          b.Royalty,
		MakerLockedSpent: makerSpent,
		TakerLockedSpent: takerSpent,
		MakerCallback:    r.CallbackID,
		TakerCallback:    m.callbackID,
		MakerOrderDone:   done,
	}); err != nil {
		return err
	}

	m.fills++
	m.remaining -= lots
	m.filled += lots
	m.quoteFilled += notional
	m.charges += charges
	m.spent += takerSpent
	return nil
}

// out removes lots from a resting order without a trade.
func (m *matcher) out(r book.Resting, lots uint64) error {
	share, err := m.makerShare(r, lots)
	if err != nil {
		return err
	}
	baseTokens, err := m.ms.Market.BaseTokens(lots)
	if err != nil {
		return err
	}
	release, done, err := m.consume(r, lots, share)
	if err != nil {
		return err
	}
	m.outs++
	return m.push(event.Event{
		Kind:             event.KindOut,
		Maker:            r.Account,
		MakerOrder:       r.ID,
		TakerSide:        m.side,
		Price:            r.ID.Price,
		BaseQty:          baseTokens,
		MakerLockedSpent: release,
		MakerCallback:    r.CallbackID,
		TakerCallback:    m.callbackID,
		MakerOrderDone:   done,
	})
}

func (m *matcher) summary() *OrderSummary {
	return &OrderSummary{
		BaseFilled:  m.filled,
		QuoteFilled: m.quoteFilled,
		FeesPaid:    m.charges,
		Fills:       m.fills,
		Outs:        m.outs,
		Events:      m.events,
	}
}

func status(filled, remaining, rested uint64) domain.OrderStatus {
	switch {
	case rested > 0:
		return domain.OrderStatusResting
	case remaining == 0 && filled > 0:
		return domain.OrderStatusFullyFilled
	case filled > 0:
		return domain.OrderStatusPartiallyFilled
	default:
		return domain.OrderStatusCancelled
	}
}

// takerLock is the worst-case lock for an incoming order.
func takerLock(mk *domain.Market, tier fee.Tier, side domain.Side, lots uint64, price quant.Fp32) (uint64, error) {
	if side == domain.SideAsk {
		return mk.BaseTokens(lots)
	}
	notional, err := mk.Notional(lots, price)
	if err != nil {
		return 0, err
	}
	b := fee.Compute(notional, tier, fee.Tier{}, mk.RoyaltiesBps)
	v, err := safe.Add(notional, b.Fee)
	if err == nil {
		v, err = safe.Add(v, b.Royalty)
	}
	if err != nil {
		return 0, domain.NewValidationError("size", "lock amount overflows")
	}
	return v, nil
}

func sideAsset(side domain.Side) domain.Asset {
	if side == domain.SideBid {
		return domain.AssetQuote
	}
	return domain.AssetBase
}

func loadTrader(tx *state.Tx, marketKey, accountKey domain.Key) (*state.MarketState, *domain.UserAccount, error) {
	ms, err := tx.Market(marketKey)
	if err != nil {
		return nil, nil, err
	}
	acct, err := tx.UserAccount(accountKey)
	if err != nil {
		return nil, nil, err
	}
	if acct.Market != marketKey {
		return nil, nil, domain.NewValidationError("account", "%s belongs to market %s", accountKey, acct.Market)
	}
	return ms, acct, nil
}

// PlaceOrder validates, locks, matches and optionally rests an order.
// Fills are settled later by ConsumeEvents; only the unused part of the
// lock is returned here.
func PlaceOrder(tx *state.Tx, p PlaceOrderParams) (*OrderSummary, error) {
	ms, acct, err := loadTrader(tx, p.Market, p.Account)
	if err != nil {
		return nil, err
	}
	mk := ms.Market
	if err := mk.CheckPrice(p.Price); err != nil {
		return nil, err
	}
	if err := mk.CheckSize(p.BaseQty); err != nil {
		return nil, err
	}
	if notional, err := mk.Notional(p.BaseQty, p.Price); err != nil {
		return nil, err
	} else if notional == 0 {
		return nil, domain.NewValidationError("size", "%d lots at %s round to zero quote", p.BaseQty, p.Price)
	}

	m := newMatcher(ms, acct, p.Side, p.Price, p.BaseQty, p.SelfTrade, p.CallbackID, p.MatchLimit, p.Ts)
	asset := sideAsset(p.Side)
	locked, err := takerLock(mk, m.tier, p.Side, p.BaseQty, p.Price)
	if err != nil {
		return nil, err
	}
	if err := acct.Lock(asset, locked); err != nil {
		return nil, err
	}

	if p.Type == domain.OrderTypePostOnly {
		if _, ok := m.crossing(); ok {
			if err := acct.Unlock(asset, locked); err != nil {
				return nil, err
			}
			return &OrderSummary{Status: domain.OrderStatusCancelled}, nil
		}
	} else if err := m.run(); err != nil {
		return nil, err
	}

	if p.Type == domain.OrderTypeFillOrKill && m.remaining > 0 {
		return nil, domain.NewValidationError("size", "fill-or-kill filled %d of %d lots", m.filled, p.BaseQty)
	}

	sum := m.summary()
	var restLocked uint64
	_, stillCrosses := m.crossing()
	dust, err := m.zeroQuote(m.remaining, p.Price)
	if err != nil {
		return nil, err
	}
	if p.Type.PostAllowed() && m.remaining > 0 && !stillCrosses && !dust {
		if asset == domain.AssetQuote {
			restLocked, err = mk.Notional(m.remaining, p.Price)
		} else {
			restLocked, err = mk.BaseTokens(m.remaining)
		}
		if err != nil {
			return nil, err
		}
		id := domain.OrderID{Side: p.Side, Price: p.Price, Seq: mk.NextSeq()}
		ms.Book.Insert(book.Resting{
			ID:         id,
			Account:    acct.Key,
			BaseQty:    m.remaining,
			CallbackID: p.CallbackID,
			Locked:     restLocked,
			RebateRate: m.tier.MakerRebateRate,
		})
		acct.AddOrder(domain.OrderRef{ID: id, CallbackID: p.CallbackID})
		sum.OrderID = &id
		sum.BaseRested = m.remaining
	}

	committed, err := safe.Add(m.spent, restLocked)
	if err != nil || committed > locked {
		return nil, domain.NewInvariantError("place_order", "committed %d exceeds lock %d", committed, locked)
	}
	if err := acct.Unlock(asset, locked-committed); err != nil {
		return nil, err
	}

	sum.Status = status(m.filled, m.remaining, sum.BaseRested)
	return sum, nil
}

// Swap trades immediately against the book and never rests.
func Swap(tx *state.Tx, p SwapParams) (*OrderSummary, error) {
	ms, acct, err := loadTrader(tx, p.Market, p.Account)
	if err != nil {
		return nil, err
	}
	mk := ms.Market
	if err := mk.CheckSize(p.BaseQty); err != nil {
		return nil, err
	}

	limit := quant.Fp32(0)
	if p.Side == domain.SideBid {
		limit = quant.Fp32(math.MaxUint64)
	}
	m := newMatcher(ms, acct, p.Side, limit, p.BaseQty, p.SelfTrade, p.CallbackID, p.MatchLimit, p.Ts)

	asset := sideAsset(p.Side)
	var locked uint64
	if p.Side == domain.SideBid {
		if p.QuoteLimit == 0 {
			return nil, domain.NewValidationError("quote_limit", "bid swap needs a quote budget")
		}
		locked = p.QuoteLimit
		m.budget = p.QuoteLimit
	} else if locked, err = mk.BaseTokens(p.BaseQty); err != nil {
		return nil, err
	}
	if err := acct.Lock(asset, locked); err != nil {
		return nil, err
	}

	if err := m.run(); err != nil {
		return nil, err
	}

	if p.Side == domain.SideAsk && m.quoteFilled-m.charges < p.QuoteLimit {
		return nil, domain.NewValidationError("quote_limit", "proceeds %d below minimum %d", m.quoteFilled-m.charges, p.QuoteLimit)
	}
	if m.spent > locked {
		return nil, domain.NewInvariantError("swap", "spent %d exceeds lock %d", m.spent, locked)
	}
	if err := acct.Unlock(asset, locked-m.spent); err != nil {
		return nil, err
	}

	sum := m.summary()
	sum.Status = status(m.filled, m.remaining, 0)
	return sum, nil
}

// CancelOrder pulls a resting order and releases what it still locks.
func CancelOrder(tx *state.Tx, marketKey, accountKey domain.Key, orderSeq uint64) (*book.Resting, error) {
	ms, acct, err := loadTrader(tx, marketKey, accountKey)
	if err != nil {
		return nil, err
	}
	ref, ok := acct.FindOrder(orderSeq)
	if !ok {
		return nil, fmt.Errorf("%w: order %d on account %s", domain.ErrNotFound, orderSeq, accountKey)
	}
	r, ok := ms.Book.Get(ref.ID)
	if !ok {
		// Fully matched; the reference goes away when its fill is consumed.
		return nil, fmt.Errorf("%w: order %s is no longer on the book", domain.ErrNotFound, ref.ID)
	}
	if r.Account != accountKey {
		return nil, domain.NewInvariantError("cancel_order", "order %s owned by %s", r.ID, r.Account)
	}
	ms.Book.Remove(r.ID)
	acct.RemoveOrder(r.ID)
	if err := acct.Unlock(sideAsset(r.ID.Side), r.Locked); err != nil {
		return nil, err
	}
	return &r, nil
}
