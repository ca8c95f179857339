package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/fee"
	"dex_go/internal/instruction"
	"dex_go/internal/state"
	"dex_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// MaxCrankAccounts bounds the accounts one ConsumeEvents may name.
const MaxCrankAccounts = 32

// Authenticator verifies that an instruction was signed by its Signer.
type Authenticator interface {
	Verify(ins *instruction.Instruction) error
}

// Recorder receives processing metrics.
type Recorder interface {
	RecordInstruction(latency time.Duration, err error)
	RecordMatch(fills, outs int)
	RecordCrank(consumed int)
}

// Options are market defaults and processing limits.
type Options struct {
	QueueCapacity  int
	MatchLimit     int
	SweepAuthority domain.Key
	FeeSchedule    fee.Schedule
	RebatePolicy   domain.RebatePolicy
	// LockTimeout bounds how long a unit waits for records held by another.
	LockTimeout time.Duration
}

// Result is what an instruction produced. Only the fields relevant to the
// instruction kind are set.
type Result struct {
	Seq       uint64              `json:"seq"`
	Kind      instruction.Kind    `json:"kind"`
	Market    *domain.Market      `json:"market,omitempty"`
	Account   *domain.UserAccount `json:"account,omitempty"`
	Order     *OrderSummary       `json:"order,omitempty"`
	Cancelled *book.Resting       `json:"cancelled,omitempty"`
	Crank     *CrankReport        `json:"crank,omitempty"`
	Claimed   uint64              `json:"claimed,omitempty"`
	Sweep     *SweepResult        `json:"sweep,omitempty"`
}

// Processor authenticates instructions and runs each as one atomic unit on
// the store.
type Processor struct {
	store   *state.Store
	auth    Authenticator
	metrics Recorder
	opts    Options
}

// NewProcessor creates a processor. auth and metrics may be nil.
func NewProcessor(store *state.Store, auth Authenticator, metrics Recorder, opts Options) *Processor {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.MatchLimit <= 0 {
		opts.MatchLimit = DefaultMatchLimit
	}
	if len(opts.FeeSchedule.Tiers) == 0 {
		opts.FeeSchedule = fee.DefaultSchedule()
	}
	return &Processor{store: store, auth: auth, metrics: metrics, opts: opts}
}

// Store returns the underlying record store.
func (p *Processor) Store() *state.Store { return p.store }

// Execute runs one instruction. On error no state has changed.
func (p *Processor) Execute(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	start := time.Now()
	res, err := p.execute(ctx, ins)
	if p.metrics != nil {
		p.metrics.RecordInstruction(time.Since(start), err)
	}

	attrs := []any{
		slog.Uint64("seq", ins.Seq),
		slog.String("kind", string(ins.Kind)),
		slog.String("id", ins.ID),
		slog.String("signer", ins.Signer.String()),
	}
	switch {
	case err == nil:
		slog.Debug("INSTRUCTION_APPLIED", attrs...)
	case domain.IsFatal(err):
		slog.Error("INVARIANT_VIOLATION", append(attrs, slog.Any("error", err))...)
	default:
		slog.Info("INSTRUCTION_REJECTED", append(attrs, slog.String("error_kind", domain.Kind(err)), slog.Any("error", err))...)
	}
	if err != nil {
		return nil, err
	}
	res.Seq, res.Kind = ins.Seq, ins.Kind
	return res, nil
}

func (p *Processor) execute(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	if p.auth != nil {
		if err := p.auth.Verify(ins); err != nil {
			return nil, err
		}
	}
	if p.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.LockTimeout)
		defer cancel()
	}

	switch ins.Kind {
	case instruction.KindCreateMarket:
		return p.createMarket(ctx, ins)
	case instruction.KindCreateAccount:
		return p.createAccount(ctx, ins)
	case instruction.KindDeposit, instruction.KindWithdraw:
		return p.transfer(ctx, ins)
	case instruction.KindPlaceOrder:
		return p.placeOrder(ctx, ins)
	case instruction.KindSwap:
		return p.swap(ctx, ins)
	case instruction.KindCancelOrder:
		return p.cancelOrder(ctx, ins)
	case instruction.KindConsumeEvents:
		return p.consumeEvents(ctx, ins)
	case instruction.KindClaimRebates:
		return p.claimRebates(ctx, ins)
	case instruction.KindSweepFees:
		return p.sweepFees(ctx, ins)
	case instruction.KindSetDiscount:
		return p.setDiscount(ctx, ins)
	}
	return nil, domain.NewValidationError("kind", "unhandled instruction %q", ins.Kind)
}

// MarketKey is the address a CreateMarket without an explicit key gets.
func MarketKey(creator, baseMint, quoteMint domain.Key) domain.Key {
	return domain.DeriveKey("market", creator, baseMint, quoteMint)
}

func (p *Processor) createMarket(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.CreateMarket
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	mk := &domain.Market{
		Key:                     pl.Key,
		BaseMint:                pl.BaseMint,
		QuoteMint:               pl.QuoteMint,
		BaseDecimals:            pl.BaseDecimals,
		QuoteDecimals:           pl.QuoteDecimals,
		BaseCurrencyMultiplier:  pl.BaseCurrencyMultiplier,
		QuoteCurrencyMultiplier: pl.QuoteCurrencyMultiplier,
		MinBaseOrderSize:        pl.MinBaseOrderSize,
		RoyaltiesBps:            pl.RoyaltiesBps,
		SweepAuthority:          pl.SweepAuthority,
		FeeSchedule:             p.opts.FeeSchedule,
		RebatePolicy:            p.opts.RebatePolicy,
	}
	if mk.Key.IsZero() {
		mk.Key = MarketKey(ins.Signer, pl.BaseMint, pl.QuoteMint)
	}
	if mk.SweepAuthority.IsZero() {
		mk.SweepAuthority = p.opts.SweepAuthority
	}
	if pl.FeeSchedule != nil {
		mk.FeeSchedule = *pl.FeeSchedule
	}
	if pl.RebatePolicy != nil {
		mk.RebatePolicy = *pl.RebatePolicy
	}
	if mk.BaseCurrencyMultiplier == 0 || mk.QuoteCurrencyMultiplier == 0 {
		return nil, domain.NewValidationError("currency_multiplier", "must be positive")
	}
	tick, err := toPrice(pl.TickSize, mk)
	if err != nil {
		return nil, err
	}
	mk.TickSize = tick

	var out *domain.Market
	err = p.store.Execute(ctx, []domain.Key{mk.Key}, func(tx *state.Tx) error {
		created, err := CreateMarket(tx, mk, p.opts.QueueCapacity)
		out = created
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("MARKET_CREATED", slog.String("market", mk.Key.String()), slog.String("tick_size", mk.TickSize.String()))
	created := *out
	return &Result{Market: &created}, nil
}

func toPrice(d decimal.Decimal, mk *domain.Market) (quant.Fp32, error) {
	p, err := quant.ToFp32(d, mk.Scale())
	if err != nil {
		return 0, domain.NewValidationError("price", "%v", err)
	}
	return p, nil
}

func (p *Processor) createAccount(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.CreateAccount
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	key := domain.DeriveUserAccountKey(pl.Market, ins.Signer)
	var out *domain.UserAccount
	err := p.store.Execute(ctx, []domain.Key{pl.Market, key}, func(tx *state.Tx) error {
		u, err := CreateUserAccount(tx, pl.Market, ins.Signer)
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Account: out.Clone()}, nil
}

func (p *Processor) transfer(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.Transfer
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	key := domain.DeriveUserAccountKey(pl.Market, ins.Signer)
	var out *domain.UserAccount
	err := p.store.Execute(ctx, []domain.Key{key}, func(tx *state.Tx) error {
		var err error
		if ins.Kind == instruction.KindDeposit {
			out, err = Deposit(tx, key, pl.Asset, pl.Amount)
		} else {
			out, err = Withdraw(tx, key, pl.Asset, pl.Amount)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Account: out.Clone()}, nil
}

func (p *Processor) placeOrder(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.PlaceOrder
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	account := domain.DeriveUserAccountKey(pl.Market, ins.Signer)
	matchLimit := p.matchLimit(pl.MatchLimit)

	var sum *OrderSummary
	err := p.store.Execute(ctx, []domain.Key{pl.Market, account}, func(tx *state.Tx) error {
		ms, err := tx.Market(pl.Market)
		if err != nil {
			return err
		}
		price, err := toPrice(pl.Price, ms.Market)
		if err != nil {
			return err
		}
		sum, err = PlaceOrder(tx, PlaceOrderParams{
			Market:     pl.Market,
			Account:    account,
			Side:       pl.Side,
			Price:      price,
			BaseQty:    pl.Size,
			Type:       pl.OrderType,
			SelfTrade:  pl.SelfTradeBehavior,
			CallbackID: pl.CallbackID,
			MatchLimit: matchLimit,
			Ts:         ins.Ts,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.recordMatch(sum)
	return &Result{Order: sum}, nil
}

func (p *Processor) swap(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.Swap
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	account := domain.DeriveUserAccountKey(pl.Market, ins.Signer)

	var sum *OrderSummary
	err := p.store.Execute(ctx, []domain.Key{pl.Market, account}, func(tx *state.Tx) error {
		var err error
		sum, err = Swap(tx, SwapParams{
			Market:     pl.Market,
			Account:    account,
			Side:       pl.Side,
			BaseQty:    pl.Size,
			QuoteLimit: pl.QuoteLimit,
			SelfTrade:  pl.SelfTradeBehavior,
			CallbackID: pl.CallbackID,
			MatchLimit: p.matchLimit(pl.MatchLimit),
			Ts:         ins.Ts,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.recordMatch(sum)
	return &Result{Order: sum}, nil
}

func (p *Processor) cancelOrder(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.CancelOrder
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	account := domain.DeriveUserAccountKey(pl.Market, ins.Signer)
	var out *book.Resting
	err := p.store.Execute(ctx, []domain.Key{pl.Market, account}, func(tx *state.Tx) error {
		var err error
		out, err = CancelOrder(tx, pl.Market, account, pl.OrderSeq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Cancelled: out}, nil
}

func (p *Processor) consumeEvents(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.ConsumeEvents
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	if len(pl.Accounts) == 0 || len(pl.Accounts) > MaxCrankAccounts {
		return nil, domain.NewValidationError("accounts", "need 1 to %d accounts, got %d", MaxCrankAccounts, len(pl.Accounts))
	}
	keys := append([]domain.Key{pl.Market}, pl.Accounts...)

	var report *CrankReport
	err := p.store.Execute(ctx, keys, func(tx *state.Tx) error {
		var err error
		report, err = ConsumeEvents(tx, ConsumeParams{
			Market:    pl.Market,
			Accounts:  pl.Accounts,
			MaxEvents: pl.MaxEvents,
			MinEvents: pl.MinEvents,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordCrank(report.Consumed)
	}
	if report.Consumed > 0 {
		slog.Info("EVENTS_CONSUMED",
			slog.String("market", pl.Market.String()),
			slog.Int("consumed", report.Consumed),
			slog.Int("remaining", report.Remaining),
		)
	}
	return &Result{Crank: report}, nil
}

func (p *Processor) claimRebates(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.ClaimRebates
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	account := domain.DeriveUserAccountKey(pl.Market, ins.Signer)
	var claimed uint64
	err := p.store.Execute(ctx, []domain.Key{account}, func(tx *state.Tx) error {
		var err error
		claimed, err = ClaimRebates(tx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Claimed: claimed}, nil
}

func (p *Processor) sweepFees(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.SweepFees
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	var out *SweepResult
	err := p.store.Execute(ctx, []domain.Key{pl.Market}, func(tx *state.Tx) error {
		var err error
		out, err = SweepFees(tx, pl.Market, ins.Signer)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("FEES_SWEPT",
		slog.String("market", pl.Market.String()),
		slog.Uint64("fees", out.Fees),
		slog.Uint64("royalties", out.Royalties),
	)
	return &Result{Sweep: out}, nil
}

func (p *Processor) setDiscount(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	var pl instruction.SetDiscount
	if err := ins.Decode(&pl); err != nil {
		return nil, err
	}
	account := domain.DeriveUserAccountKey(pl.Market, pl.Owner)
	var out *domain.UserAccount
	err := p.store.Execute(ctx, []domain.Key{pl.Market, account}, func(tx *state.Tx) error {
		ms, err := tx.Market(pl.Market)
		if err != nil {
			return err
		}
		if ins.Signer != ms.Market.SweepAuthority {
			return fmt.Errorf("%w: discount holdings are reported by the sweep authority", domain.ErrUnauthorized)
		}
		out, err = SetDiscountHolding(tx, account, pl.Holding)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Account: out.Clone()}, nil
}

func (p *Processor) matchLimit(requested int) int {
	if requested <= 0 || requested > p.opts.MatchLimit {
		return p.opts.MatchLimit
	}
	return requested
}

func (p *Processor) recordMatch(sum *OrderSummary) {
	if p.metrics != nil {
		p.metrics.RecordMatch(sum.Fills, sum.Outs)
	}
}
