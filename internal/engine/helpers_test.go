package engine

import (
	"context"

	"dex_go/internal/domain"
	"dex_go/internal/fee"
	"dex_go/internal/state"
	"dex_go/pkg/quant"
)

var (
	sweepAuth  = domain.Key{0xEE}
	aliceOwner = domain.Key{0xA1}
	bobOwner   = domain.Key{0xB0}
	carolOwner = domain.Key{0xC0}
)

// fataler is satisfied by *testing.T and *rapid.T.
type fataler interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// testEnv is a market with tick size 2, min size 1, base multiplier 1 and
// quote multiplier 1000, so a 10-lot fill at 100 is 1_000_000 quote tokens.
type testEnv struct {
	t      fataler
	store  *state.Store
	market domain.Key
	alice  domain.Key
	bob    domain.Key
	carol  domain.Key
}

func newTestEnv(t fataler, mutate func(*domain.Market)) *testEnv {
	t.Helper()
	e := &testEnv{t: t, store: state.NewStore(nil), market: domain.Key{0x4D}}
	mk := &domain.Market{
		Key:                     e.market,
		BaseDecimals:            6,
		QuoteDecimals:           6,
		BaseCurrencyMultiplier:  1,
		QuoteCurrencyMultiplier: 1000,
		TickSize:                2 << 32,
		MinBaseOrderSize:        1,
		SweepAuthority:          sweepAuth,
		FeeSchedule:             fee.DefaultSchedule(),
	}
	if mutate != nil {
		mutate(mk)
	}
	e.must(e.store.Execute(context.Background(), []domain.Key{e.market}, func(tx *state.Tx) error {
		_, err := CreateMarket(tx, mk, 256)
		return err
	}))

	e.alice = e.open(aliceOwner)
	e.bob = e.open(bobOwner)
	e.carol = e.open(carolOwner)
	return e
}

func (e *testEnv) must(err error) {
	e.t.Helper()
	if err != nil {
		e.t.Fatalf("unexpected error: %v", err)
	}
}

func (e *testEnv) open(owner domain.Key) domain.Key {
	e.t.Helper()
	key := domain.DeriveUserAccountKey(e.market, owner)
	e.must(e.store.Execute(context.Background(), []domain.Key{e.market, key}, func(tx *state.Tx) error {
		_, err := CreateUserAccount(tx, e.market, owner)
		return err
	}))
	return key
}

func (e *testEnv) deposit(acct domain.Key, asset domain.Asset, amount uint64) {
	e.t.Helper()
	e.must(e.store.Execute(context.Background(), []domain.Key{acct}, func(tx *state.Tx) error {
		_, err := Deposit(tx, acct, asset, amount)
		return err
	}))
}

func price(v uint64) quant.Fp32 { return quant.Fp32(v << 32) }

func (e *testEnv) place(acct domain.Key, side domain.Side, px, lots uint64, typ domain.OrderType, st domain.SelfTradeBehavior) (*OrderSummary, error) {
	var sum *OrderSummary
	err := e.store.Execute(context.Background(), []domain.Key{e.market, acct}, func(tx *state.Tx) error {
		var err error
		sum, err = PlaceOrder(tx, PlaceOrderParams{
			Market:    e.market,
			Account:   acct,
			Side:      side,
			Price:     price(px),
			BaseQty:   lots,
			Type:      typ,
			SelfTrade: st,
		})
		return err
	})
	return sum, err
}

func (e *testEnv) limit(acct domain.Key, side domain.Side, px, lots uint64) *OrderSummary {
	e.t.Helper()
	sum, err := e.place(acct, side, px, lots, domain.OrderTypeLimit, domain.SelfTradeAbortTransaction)
	e.must(err)
	return sum
}

func (e *testEnv) swap(acct domain.Key, side domain.Side, lots, quoteLimit uint64) (*OrderSummary, error) {
	var sum *OrderSummary
	err := e.store.Execute(context.Background(), []domain.Key{e.market, acct}, func(tx *state.Tx) error {
		var err error
		sum, err = Swap(tx, SwapParams{
			Market:     e.market,
			Account:    acct,
			Side:       side,
			BaseQty:    lots,
			QuoteLimit: quoteLimit,
		})
		return err
	})
	return sum, err
}

func (e *testEnv) crank(max, min int, accounts ...domain.Key) (*CrankReport, error) {
	var rep *CrankReport
	keys := append([]domain.Key{e.market}, accounts...)
	err := e.store.Execute(context.Background(), keys, func(tx *state.Tx) error {
		var err error
		rep, err = ConsumeEvents(tx, ConsumeParams{Market: e.market, Accounts: accounts, MaxEvents: max, MinEvents: min})
		return err
	})
	return rep, err
}

func (e *testEnv) crankAll() {
	e.t.Helper()
	for e.marketState().Queue.Len() > 0 {
		_, err := e.crank(64, 1, e.alice, e.bob, e.carol)
		e.must(err)
	}
}

func (e *testEnv) account(k domain.Key) *domain.UserAccount {
	e.t.Helper()
	u, ok := e.store.UserAccount(k)
	if !ok {
		e.t.Fatalf("account %s missing", k)
	}
	return u
}

func (e *testEnv) marketState() *state.MarketState {
	e.t.Helper()
	ms, ok := e.store.Market(e.market)
	if !ok {
		e.t.Fatal("market missing")
	}
	return ms
}
