package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dex_go/internal/auth"
	"dex_go/internal/domain"
	"dex_go/internal/engine"
	"dex_go/internal/fee"
	"dex_go/internal/infra/wsapi"
	"dex_go/internal/instruction"
	"dex_go/pkg/quant"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type runOptions struct {
	url           string
	baseDecimals  uint8
	quoteDecimals uint8
	baseMul       uint64
	quoteMul      uint64
	tickSize      string
	price         string
	size          uint64
	royaltiesBps  uint64
	timeout       time.Duration
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a market, post an ask, swap against it and crank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			return o.run(ctx, cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", "ws://127.0.0.1:8900/ws", "server WebSocket URL")
	f.Uint8Var(&o.baseDecimals, "base-decimals", 6, "base token decimals")
	f.Uint8Var(&o.quoteDecimals, "quote-decimals", 6, "quote token decimals")
	f.Uint64Var(&o.baseMul, "base-multiplier", 1, "base currency multiplier")
	f.Uint64Var(&o.quoteMul, "quote-multiplier", 1, "quote currency multiplier")
	f.StringVar(&o.tickSize, "tick", "2", "tick size")
	f.StringVar(&o.price, "price", "100", "ask price")
	f.Uint64Var(&o.size, "size", 10, "order size in base lots")
	f.Uint64Var(&o.royaltiesBps, "royalties-bps", 0, "market royalties in basis points")
	f.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

type trader struct {
	name    string
	kp      *auth.Keypair
	account domain.Key
}

func newTrader(name string) (*trader, error) {
	kp, err := auth.NewKeypair()
	if err != nil {
		return nil, err
	}
	return &trader{name: name, kp: kp}, nil
}

func (o *runOptions) run(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	price, err := decimal.NewFromString(o.price)
	if err != nil {
		return fmt.Errorf("--price: %w", err)
	}
	tick, err := decimal.NewFromString(o.tickSize)
	if err != nil {
		return fmt.Errorf("--tick: %w", err)
	}

	client, err := wsapi.DialRetry(ctx, o.url, 3)
	if err != nil {
		return err
	}
	defer client.Close()

	creator, err := newTrader("creator")
	if err != nil {
		return err
	}
	alice, err := newTrader("alice")
	if err != nil {
		return err
	}
	bob, err := newTrader("bob")
	if err != nil {
		return err
	}

	send := func(t *trader, kind instruction.Kind, payload any) (*engine.Result, error) {
		ins, err := instruction.New(kind, t.kp.Public, payload)
		if err != nil {
			return nil, err
		}
		t.kp.Sign(ins)
		res, err := client.Submit(ctx, ins)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", t.name, kind, err)
		}
		return res, nil
	}

	// Initialize market and traders
	res, err := send(creator, instruction.KindCreateMarket, instruction.CreateMarket{
		BaseMint:                domain.DeriveKey("mint", creator.kp.Public, domain.Key{1}),
		QuoteMint:               domain.DeriveKey("mint", creator.kp.Public, domain.Key{2}),
		BaseDecimals:            o.baseDecimals,
		QuoteDecimals:           o.quoteDecimals,
		BaseCurrencyMultiplier:  o.baseMul,
		QuoteCurrencyMultiplier: o.quoteMul,
		TickSize:                tick,
		MinBaseOrderSize:        1,
		RoyaltiesBps:            o.royaltiesBps,
		SweepAuthority:          creator.kp.Public,
	})
	if err != nil {
		return err
	}
	mk := res.Market
	fmt.Fprintf(out, "market %s created\n", mk.Key)
	if err := printMarket(ctx, out, client, mk.Key, "market state init"); err != nil {
		return err
	}

	fp, err := quant.ToFp32(price, mk.Scale())
	if err != nil {
		return err
	}
	notional, err := mk.Notional(o.size, fp)
	if err != nil {
		return err
	}
	baseTokens, err := mk.BaseTokens(o.size)
	if err != nil {
		return err
	}
	tier := mk.FeeSchedule.TierFor(0)
	takerFee := fee.TakerFee(notional, tier)
	royalty := fee.Royalty(notional, mk.RoyaltiesBps)
	quoteBudget := 2*notional + takerFee + royalty

	for _, t := range []*trader{alice, bob} {
		if _, err := send(t, instruction.KindCreateAccount, instruction.CreateAccount{Market: mk.Key}); err != nil {
			return err
		}
		t.account = domain.DeriveUserAccountKey(mk.Key, t.kp.Public)
	}
	if _, err := send(alice, instruction.KindDeposit, instruction.Transfer{Market: mk.Key, Asset: domain.AssetBase, Amount: 2 * baseTokens}); err != nil {
		return err
	}
	if _, err := send(bob, instruction.KindDeposit, instruction.Transfer{Market: mk.Key, Asset: domain.AssetQuote, Amount: quoteBudget}); err != nil {
		return err
	}

	fmt.Fprintf(out, "placing ask: size=%d price=%s\n", o.size, price)
	if _, err := send(alice, instruction.KindPlaceOrder, instruction.PlaceOrder{
		Market:            mk.Key,
		Side:              domain.SideAsk,
		Price:             price,
		Size:              o.size,
		OrderType:         domain.OrderTypeLimit,
		SelfTradeBehavior: domain.SelfTradeAbortTransaction,
	}); err != nil {
		return err
	}
	if err := printAccount(ctx, out, client, alice); err != nil {
		return err
	}

	fmt.Fprintln(out, "swapping the ask")
	res, err = send(bob, instruction.KindSwap, instruction.Swap{
		Market:            mk.Key,
		Side:              domain.SideBid,
		Size:              o.size,
		QuoteLimit:        quoteBudget,
		SelfTradeBehavior: domain.SelfTradeAbortTransaction,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "swap: status=%v filled=%d fees=%d\n", res.Order.Status, res.Order.BaseFilled, res.Order.FeesPaid)

	res, err = send(creator, instruction.KindConsumeEvents, instruction.ConsumeEvents{
		Market:    mk.Key,
		Accounts:  []domain.Key{alice.account, bob.account},
		MaxEvents: 10,
		MinEvents: 1,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "crank: consumed=%d remaining=%d\n", res.Crank.Consumed, res.Crank.Remaining)

	if err := printMarket(ctx, out, client, mk.Key, "market state after swap"); err != nil {
		return err
	}
	if err := printAccount(ctx, out, client, alice); err != nil {
		return err
	}
	if err := printAccount(ctx, out, client, bob); err != nil {
		return err
	}

	fmt.Fprintf(out, "expected taker fee: %d (tier %s, notional %d)\n", takerFee, tier.Name, notional)
	bobView, err := client.QueryUserAccount(ctx, bob.account)
	if err != nil {
		return err
	}
	wantQuote := quoteBudget - notional - takerFee - royalty
	if got := bobView.Account.QuoteTokenFree; got != wantQuote {
		return fmt.Errorf("bob free quote = %d, want %d", got, wantQuote)
	}
	if got := bobView.Account.BaseTokenFree; got != baseTokens {
		return fmt.Errorf("bob free base = %d, want %d", got, baseTokens)
	}
	fmt.Fprintln(out, "balances match")
	return nil
}

func printMarket(ctx context.Context, out io.Writer, c *wsapi.Client, key domain.Key, title string) error {
	v, err := c.QueryMarket(ctx, key)
	if err != nil {
		return err
	}
	return printJSON(out, title, map[string]uint64{
		"accumulated_fees":      v.Market.AccumulatedFees,
		"accumulated_royalties": v.Market.AccumulatedRoyalties,
		"base_volume":           v.Market.BaseVolume,
		"quote_volume":          v.Market.QuoteVolume,
	})
}

func printAccount(ctx context.Context, out io.Writer, c *wsapi.Client, t *trader) error {
	v, err := c.QueryUserAccount(ctx, t.account)
	if err != nil {
		return err
	}
	u := v.Account
	return printJSON(out, t.name, map[string]uint64{
		"base_token_free":                u.BaseTokenFree,
		"base_token_locked":              u.BaseTokenLocked,
		"quote_token_free":               u.QuoteTokenFree,
		"quote_token_locked":             u.QuoteTokenLocked,
		"accumulated_rebates":            u.AccumulatedRebates,
		"accumulated_maker_base_volume":  u.AccumulatedMakerBaseVolume,
		"accumulated_maker_quote_volume": u.AccumulatedMakerQuoteVolume,
		"accumulated_taker_base_volume":  u.AccumulatedTakerBaseVolume,
		"accumulated_taker_quote_volume": u.AccumulatedTakerQuoteVolume,
		"order_length":                   uint64(len(u.Orders)),
	})
}

func printJSON(out io.Writer, title string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", title, b)
	return err
}
