package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"dex_go/internal/domain"
	"dex_go/internal/state"
	"dex_go/pkg/quant"
)

func TestScenario_AliceAskBobSwap(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 100)
	e.deposit(e.bob, domain.AssetQuote, 2_000_000)

	sum := e.limit(e.alice, domain.SideAsk, 100, 10)
	if sum.Status != domain.OrderStatusResting || sum.OrderID == nil {
		t.Fatalf("Alice's ask should rest, got %+v", sum)
	}
	alice := e.account(e.alice)
	if alice.BaseTokenLocked != 10 || alice.BaseTokenFree != 90 {
		t.Errorf("Alice base free/locked = %d/%d, want 90/10", alice.BaseTokenFree, alice.BaseTokenLocked)
	}

	swap, err := e.swap(e.bob, domain.SideBid, 10, 2_000_000)
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if swap.Status != domain.OrderStatusFullyFilled || swap.BaseFilled != 10 || swap.QuoteFilled != 1_000_000 || swap.FeesPaid != 400 {
		t.Errorf("swap summary = %+v", swap)
	}

	rep, err := e.crank(10, 1, e.alice, e.bob)
	if err != nil {
		t.Fatalf("crank failed: %v", err)
	}
	if rep.Consumed != 1 || rep.Fills != 1 || rep.Remaining != 0 {
		t.Errorf("crank report = %+v", rep)
	}

	alice = e.account(e.alice)
	if alice.BaseTokenLocked != 0 || alice.AccumulatedMakerBaseVolume != 10 {
		t.Errorf("Alice locked %d, maker volume %d", alice.BaseTokenLocked, alice.AccumulatedMakerBaseVolume)
	}
	if alice.QuoteTokenFree != 1_000_200 || alice.AccumulatedRebates != 200 {
		t.Errorf("Alice quote %d rebates %d", alice.QuoteTokenFree, alice.AccumulatedRebates)
	}
	if len(alice.Orders) != 0 {
		t.Errorf("Alice's filled order should be gone, got %v", alice.Orders)
	}

	bob := e.account(e.bob)
	if bob.BaseTokenFree != 10 {
		t.Errorf("Bob base free = %d, want 10", bob.BaseTokenFree)
	}
	// price×size + taker fee
	if bob.QuoteTokenFree != 2_000_000-1_000_400 || bob.QuoteTokenLocked != 0 {
		t.Errorf("Bob quote free/locked = %d/%d", bob.QuoteTokenFree, bob.QuoteTokenLocked)
	}
	if bob.AccumulatedTakerBaseVolume != 10 || bob.AccumulatedTakerQuoteVolume != 1_000_000 {
		t.Errorf("Bob taker volumes = %d/%d", bob.AccumulatedTakerBaseVolume, bob.AccumulatedTakerQuoteVolume)
	}

	mk := e.marketState().Market
	if mk.BaseVolume != 10 || mk.QuoteVolume != 1_000_000 {
		t.Errorf("market volumes = %d/%d", mk.BaseVolume, mk.QuoteVolume)
	}
	// taker fee − maker rebate
	if mk.AccumulatedFees != 200 || mk.AccumulatedRoyalties != 0 {
		t.Errorf("market fees = %d royalties = %d", mk.AccumulatedFees, mk.AccumulatedRoyalties)
	}
}

func TestSelfTrade_AbortLeavesStateUnchanged(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 100)
	e.deposit(e.alice, domain.AssetQuote, 2_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	before := e.account(e.alice)
	_, err := e.place(e.alice, domain.SideBid, 100, 5, domain.OrderTypeLimit, domain.SelfTradeAbortTransaction)
	if !errors.Is(err, domain.ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
	if domain.Kind(err) != "SelfTradeError" {
		t.Errorf("kind = %s", domain.Kind(err))
	}

	if after := e.account(e.alice); !reflect.DeepEqual(before, after) {
		t.Errorf("balances changed:\nbefore %+v\nafter  %+v", before, after)
	}
	ms := e.marketState()
	best, ok := ms.Book.Best(domain.SideAsk)
	if !ok || best.BaseQty != 10 || ms.Book.Len(domain.SideBid) != 0 || ms.Queue.Len() != 0 {
		t.Error("book or queue changed")
	}
}

func TestSelfTrade_CancelProvide(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 100)
	e.deposit(e.alice, domain.AssetQuote, 2_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	sum, err := e.place(e.alice, domain.SideBid, 100, 4, domain.OrderTypeLimit, domain.SelfTradeCancelProvide)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if sum.Outs != 1 || sum.Fills != 0 || sum.Status != domain.OrderStatusResting || sum.BaseRested != 4 {
		t.Errorf("summary = %+v", sum)
	}

	ms := e.marketState()
	if ms.Book.Len(domain.SideAsk) != 0 {
		t.Error("own ask should have been cancelled")
	}
	alice := e.account(e.alice)
	if alice.QuoteTokenLocked != 400_000 {
		t.Errorf("resting bid should lock its notional only, got %d", alice.QuoteTokenLocked)
	}

	e.crankAll()
	alice = e.account(e.alice)
	if alice.BaseTokenLocked != 0 || alice.BaseTokenFree != 100 {
		t.Errorf("Out event should release the ask, base %d/%d", alice.BaseTokenFree, alice.BaseTokenLocked)
	}
	if len(alice.Orders) != 1 || alice.Orders[0].ID.Side != domain.SideBid {
		t.Errorf("only the bid should remain, got %v", alice.Orders)
	}
}

func TestSelfTrade_DecrementTake(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 100)
	e.deposit(e.alice, domain.AssetQuote, 2_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	sum, err := e.place(e.alice, domain.SideBid, 100, 4, domain.OrderTypeLimit, domain.SelfTradeDecrementTake)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if sum.Status != domain.OrderStatusCancelled || sum.BaseFilled != 0 || sum.Outs != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if q := e.account(e.alice).QuoteTokenLocked; q != 0 {
		t.Errorf("decremented bid must release its lock, got %d", q)
	}

	best, _ := e.marketState().Book.Best(domain.SideAsk)
	if best.BaseQty != 6 || best.Locked != 6 {
		t.Errorf("ask should shrink to 6, got %+v", best)
	}

	e.crankAll()
	alice := e.account(e.alice)
	if alice.BaseTokenLocked != 6 || alice.BaseTokenFree != 94 {
		t.Errorf("base free/locked = %d/%d, want 94/6", alice.BaseTokenFree, alice.BaseTokenLocked)
	}
	if len(alice.Orders) != 1 {
		t.Errorf("ask should still be open, got %v", alice.Orders)
	}
}

func TestMatching_PriceTimePriority(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 100)
	e.deposit(e.carol, domain.AssetBase, 100)
	e.deposit(e.bob, domain.AssetQuote, 10_000_000)

	e.limit(e.alice, domain.SideAsk, 100, 5)
	e.limit(e.carol, domain.SideAsk, 100, 5)
	e.limit(e.carol, domain.SideAsk, 98, 3)

	sum := e.limit(e.bob, domain.SideBid, 100, 10)
	if sum.Status != domain.OrderStatusFullyFilled || sum.Fills != 3 {
		t.Fatalf("summary = %+v", sum)
	}

	evs := e.marketState().Queue.Peek(10)
	if len(evs) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(evs))
	}
	want := []struct {
		maker domain.Key
		px    uint64
		qty   uint64
	}{
		{e.carol, 98, 3},
		{e.alice, 100, 5},
		{e.carol, 100, 2},
	}
	for i, w := range want {
		if evs[i].Maker != w.maker || evs[i].Price != price(w.px) || evs[i].BaseQty != w.qty {
			t.Errorf("fill %d = maker %s px %s qty %d", i, evs[i].Maker, evs[i].Price, evs[i].BaseQty)
		}
		if i > 0 && evs[i].Seq <= evs[i-1].Seq {
			t.Error("event sequence must increase")
		}
	}

	// Fills below the limit spend less than was locked.
	bob := e.account(e.bob)
	if bob.QuoteTokenLocked != 994_397 {
		t.Errorf("Bob locked = %d, want 994397", bob.QuoteTokenLocked)
	}
	e.crankAll()
	bob = e.account(e.bob)
	if bob.QuoteTokenLocked != 0 || bob.QuoteTokenFree != 10_000_000-994_397 || bob.BaseTokenFree != 10 {
		t.Errorf("Bob after crank = %+v", bob)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)

	tests := []struct {
		name string
		px   uint64
		lots uint64
	}{
		{"price off tick", 101, 5},
		{"zero price", 0, 5},
		{"below min size", 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.place(e.bob, domain.SideBid, tt.px, tt.lots, domain.OrderTypeLimit, domain.SelfTradeAbortTransaction)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ValidationError, got %v", err)
			}
			if bob := e.account(e.bob); bob.QuoteTokenLocked != 0 {
				t.Error("rejected order must not lock")
			}
		})
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.bob, domain.AssetQuote, 1_000_399)

	// 10 lots at 100 need 1_000_000 notional + 400 fee.
	_, err := e.place(e.bob, domain.SideBid, 100, 10, domain.OrderTypeLimit, domain.SelfTradeAbortTransaction)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if e.marketState().Book.Len(domain.SideBid) != 0 {
		t.Error("nothing should rest")
	}
}

func TestPlaceOrder_IOCReleasesRemainder(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	sum, err := e.place(e.bob, domain.SideBid, 100, 20, domain.OrderTypeImmediateOrCancel, domain.SelfTradeAbortTransaction)
	if err != nil {
		t.Fatalf("IOC failed: %v", err)
	}
	if sum.Status != domain.OrderStatusPartiallyFilled || sum.BaseFilled != 10 || sum.OrderID != nil {
		t.Errorf("summary = %+v", sum)
	}
	bob := e.account(e.bob)
	if bob.QuoteTokenLocked != 1_000_400 || bob.QuoteTokenFree != 5_000_000-1_000_400 {
		t.Errorf("Bob quote free/locked = %d/%d", bob.QuoteTokenFree, bob.QuoteTokenLocked)
	}
	if len(bob.Orders) != 0 {
		t.Error("IOC must not rest")
	}
}

func TestPlaceOrder_FillOrKill(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	_, err := e.place(e.bob, domain.SideBid, 100, 20, domain.OrderTypeFillOrKill, domain.SelfTradeAbortTransaction)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	ms := e.marketState()
	if best, _ := ms.Book.Best(domain.SideAsk); best.BaseQty != 10 || ms.Queue.Len() != 0 {
		t.Error("killed order must leave the book untouched")
	}
	if bob := e.account(e.bob); bob.QuoteTokenLocked != 0 || bob.QuoteTokenFree != 5_000_000 {
		t.Error("killed order must leave Bob untouched")
	}

	sum, err := e.place(e.bob, domain.SideBid, 100, 10, domain.OrderTypeFillOrKill, domain.SelfTradeAbortTransaction)
	if err != nil || sum.Status != domain.OrderStatusFullyFilled {
		t.Errorf("fillable FOK = %+v, %v", sum, err)
	}
}

func TestPlaceOrder_PostOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	sum, err := e.place(e.bob, domain.SideBid, 100, 5, domain.OrderTypePostOnly, domain.SelfTradeAbortTransaction)
	if err != nil || sum.Status != domain.OrderStatusCancelled {
		t.Fatalf("crossing post-only = %+v, %v", sum, err)
	}
	if bob := e.account(e.bob); bob.QuoteTokenLocked != 0 {
		t.Error("cancelled post-only must not lock")
	}

	sum, err = e.place(e.bob, domain.SideBid, 98, 5, domain.OrderTypePostOnly, domain.SelfTradeAbortTransaction)
	if err != nil || sum.Status != domain.OrderStatusResting {
		t.Fatalf("passive post-only = %+v, %v", sum, err)
	}
	if bob := e.account(e.bob); bob.QuoteTokenLocked != 490_000 {
		t.Errorf("Bob locked = %d, want 490000", bob.QuoteTokenLocked)
	}
}

func TestPlaceOrder_MatchLimit(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	for i := 0; i < 3; i++ {
		e.limit(e.alice, domain.SideAsk, 100, 1)
	}

	var sum *OrderSummary
	err := e.store.Execute(context.Background(), []domain.Key{e.market, e.bob}, func(tx *state.Tx) error {
		var err error
		sum, err = PlaceOrder(tx, PlaceOrderParams{
			Market: e.market, Account: e.bob, Side: domain.SideBid,
			Price: price(100), BaseQty: 3, Type: domain.OrderTypeLimit, MatchLimit: 2,
		})
		return err
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if sum.Fills != 2 || sum.BaseRested != 0 || sum.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("summary = %+v", sum)
	}
	if e.marketState().Book.Len(domain.SideBid) != 0 {
		t.Error("remainder must not rest on a crossed book")
	}
}

func TestCancelOrder(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	sum := e.limit(e.bob, domain.SideBid, 98, 5)

	cancel := func(seq uint64) error {
		return e.store.Execute(context.Background(), []domain.Key{e.market, e.bob}, func(tx *state.Tx) error {
			_, err := CancelOrder(tx, e.market, e.bob, seq)
			return err
		})
	}
	if err := cancel(sum.OrderID.Seq); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	bob := e.account(e.bob)
	if bob.QuoteTokenLocked != 0 || bob.QuoteTokenFree != 5_000_000 || len(bob.Orders) != 0 {
		t.Errorf("Bob after cancel = %+v", bob)
	}
	if err := cancel(sum.OrderID.Seq); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second cancel: expected ErrNotFound, got %v", err)
	}
}

func TestCancelOrder_AfterPartialFill(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.deposit(e.alice, domain.AssetBase, 10)
	sum := e.limit(e.bob, domain.SideBid, 100, 10)

	if _, err := e.swap(e.alice, domain.SideAsk, 4, 0); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	err := e.store.Execute(context.Background(), []domain.Key{e.market, e.bob}, func(tx *state.Tx) error {
		r, err := CancelOrder(tx, e.market, e.bob, sum.OrderID.Seq)
		if err == nil && r.Locked != 600_000 {
			t.Errorf("remaining lock = %d, want 600000", r.Locked)
		}
		return err
	})
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if bob := e.account(e.bob); bob.QuoteTokenLocked != 400_000 {
		t.Errorf("pending fill should keep 400000 locked, got %d", bob.QuoteTokenLocked)
	}

	e.crankAll()
	bob := e.account(e.bob)
	if bob.QuoteTokenLocked != 0 || bob.BaseTokenFree != 4 || bob.QuoteTokenFree != 5_000_000-400_000+80 {
		t.Errorf("Bob after crank = %+v", bob)
	}
}

func TestSwap_AskMinimumProceeds(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.limit(e.bob, domain.SideBid, 100, 10)

	_, err := e.swap(e.alice, domain.SideAsk, 10, 999_601)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if best, _ := e.marketState().Book.Best(domain.SideBid); best.BaseQty != 10 {
		t.Error("failed swap must not touch the book")
	}

	// 1_000_000 notional less 400 fee.
	sum, err := e.swap(e.alice, domain.SideAsk, 10, 999_600)
	if err != nil || sum.Status != domain.OrderStatusFullyFilled {
		t.Errorf("swap = %+v, %v", sum, err)
	}
}

func TestSwap_BidBudget(t *testing.T) {
	e := newTestEnv(t, nil)
	e.deposit(e.alice, domain.AssetBase, 10)
	e.deposit(e.bob, domain.AssetQuote, 5_000_000)
	e.limit(e.alice, domain.SideAsk, 100, 10)

	sum, err := e.swap(e.bob, domain.SideBid, 10, 500_200)
	if err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if sum.BaseFilled != 5 || sum.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("summary = %+v", sum)
	}
	bob := e.account(e.bob)
	if bob.QuoteTokenLocked != 500_200 || bob.QuoteTokenFree != 5_000_000-500_200 {
		t.Errorf("Bob quote free/locked = %d/%d", bob.QuoteTokenFree, bob.QuoteTokenLocked)
	}

	if _, err := e.swap(e.bob, domain.SideBid, 1, 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bid swap without budget: expected ValidationError, got %v", err)
	}
}

// halfLotEnv is a market whose tick is half a quote lot, so small orders
// can be worth zero quote.
func halfLotEnv(t *testing.T) *testEnv {
	return newTestEnv(t, func(mk *domain.Market) {
		mk.TickSize = 1 << 31
		mk.QuoteCurrencyMultiplier = 1
	})
}

func (e *testEnv) placeAt(acct domain.Key, side domain.Side, px quant.Fp32, lots uint64) (*OrderSummary, error) {
	var sum *OrderSummary
	err := e.store.Execute(context.Background(), []domain.Key{e.market, acct}, func(tx *state.Tx) error {
		var err error
		sum, err = PlaceOrder(tx, PlaceOrderParams{
			Market: e.market, Account: acct, Side: side,
			Price: px, BaseQty: lots, Type: domain.OrderTypeLimit,
		})
		return err
	})
	return sum, err
}

func TestPlaceOrder_ZeroQuoteRejected(t *testing.T) {
	e := halfLotEnv(t)
	half := quant.Fp32(1 << 31)

	if _, err := e.placeAt(e.alice, domain.SideBid, half, 1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if e.marketState().Book.Len(domain.SideBid) != 0 {
		t.Error("zero-quote bid must not rest")
	}

	// The ask side still trades normally at that price.
	e.deposit(e.carol, domain.AssetBase, 10)
	sum, err := e.placeAt(e.carol, domain.SideAsk, half, 10)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if sum.Status != domain.OrderStatusResting || sum.BaseRested != 10 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestMatching_ZeroQuoteRemainderIsEvicted(t *testing.T) {
	e := halfLotEnv(t)
	half := quant.Fp32(1 << 31)
	e.deposit(e.alice, domain.AssetQuote, 10)
	e.deposit(e.carol, domain.AssetBase, 4)

	// 3 lots at 0.5 lock 1 quote; a 2-lot fill spends it and leaves 1 lot worth 0.
	if _, err := e.placeAt(e.alice, domain.SideBid, half, 3); err != nil {
		t.Fatal(err)
	}
	sum, err := e.placeAt(e.carol, domain.SideAsk, half, 2)
	if err != nil || sum.Fills != 1 {
		t.Fatalf("first ask = %+v, %v", sum, err)
	}
	if r, ok := e.marketState().Book.Best(domain.SideBid); !ok || r.BaseQty != 1 || r.Locked != 0 {
		t.Fatalf("remaining bid = %+v, %v", r, ok)
	}

	sum, err = e.placeAt(e.carol, domain.SideAsk, half, 2)
	if err != nil {
		t.Fatalf("crossing ask rejected: %v", err)
	}
	if sum.Outs != 1 || sum.Fills != 0 || sum.Status != domain.OrderStatusResting || sum.BaseRested != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if e.marketState().Book.Len(domain.SideBid) != 0 {
		t.Error("worthless bid must leave the book")
	}

	e.crankAll()
	alice := e.account(e.alice)
	if alice.QuoteTokenLocked != 0 || alice.QuoteTokenFree != 9 || len(alice.Orders) != 0 {
		t.Errorf("alice = %+v", alice)
	}
}

func TestMatching_StopsBeforeZeroQuoteFill(t *testing.T) {
	e := halfLotEnv(t)
	half := quant.Fp32(1 << 31)
	e.deposit(e.alice, domain.AssetQuote, 10)
	e.deposit(e.bob, domain.AssetQuote, 10)
	e.deposit(e.carol, domain.AssetBase, 3)

	if _, err := e.placeAt(e.alice, domain.SideBid, half, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := e.placeAt(e.bob, domain.SideBid, half, 10); err != nil {
		t.Fatal(err)
	}

	// After 2 lots fill against Alice, the last lot would be worth 0 quote.
	sum, err := e.placeAt(e.carol, domain.SideAsk, half, 3)
	if err != nil {
		t.Fatalf("ask rejected: %v", err)
	}
	if sum.Fills != 1 || sum.BaseFilled != 2 || sum.BaseRested != 0 || sum.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("summary = %+v", sum)
	}
	carol := e.account(e.carol)
	if carol.BaseTokenLocked != 2 || carol.BaseTokenFree != 1 {
		t.Errorf("carol base free %d locked %d", carol.BaseTokenFree, carol.BaseTokenLocked)
	}
	if r, ok := e.marketState().Book.Best(domain.SideBid); !ok || r.BaseQty != 10 {
		t.Errorf("bob's bid = %+v, %v", r, ok)
	}
}
