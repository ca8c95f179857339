package engine

import (
	"fmt"

	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/internal/fee"
	"dex_go/internal/state"
)

// ConsumeParams names the market to crank and the accounts the caller has
// made available. Events are only consumed while both of their accounts are
// in Accounts.
type ConsumeParams struct {
	Market    domain.Key
	Accounts  []domain.Key
	MaxEvents int
	MinEvents int
}

// CrankReport summarises one crank.
type CrankReport struct {
	Consumed  int    `json:"consumed"`
	Fills     int    `json:"fills"`
	Outs      int    `json:"outs"`
	Remaining int    `json:"remaining"`
	HeadSeq   uint64 `json:"head_seq"`
}

// ConsumeEvents settles pending events in FIFO order. It stops at the first
// event that references an account the caller did not supply.
func ConsumeEvents(tx *state.Tx, p ConsumeParams) (*CrankReport, error) {
	if p.MaxEvents <= 0 {
		return nil, domain.NewValidationError("max_events", "must be positive")
	}
	if p.MinEvents < 0 || p.MinEvents > p.MaxEvents {
		return nil, domain.NewValidationError("min_events", "%d not in [0, %d]", p.MinEvents, p.MaxEvents)
	}
	ms, err := tx.Market(p.Market)
	if err != nil {
		return nil, err
	}

	supplied := make(map[domain.Key]bool, len(p.Accounts))
	for _, k := range p.Accounts {
		supplied[k] = true
	}

	pending := ms.Queue.Peek(p.MaxEvents)
	n := 0
	for _, e := range pending {
		ok := true
		for _, k := range e.Accounts() {
			if !supplied[k] {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		n++
	}
	if n < p.MinEvents {
		return nil, fmt.Errorf("%w: %d consumable, %d required", domain.ErrInsufficientEvents, n, p.MinEvents)
	}

	report := &CrankReport{}
	for _, e := range pending[:n] {
		if err := apply(tx, ms.Market, e); err != nil {
			return nil, err
		}
		if e.Kind == event.KindFill {
			report.Fills++
		} else {
			report.Outs++
		}
	}
	ms.Queue.Pop(n)

	report.Consumed = n
	report.Remaining = ms.Queue.Len()
	report.HeadSeq = ms.Queue.HeadSeq()
	return report, nil
}

func apply(tx *state.Tx, mk *domain.Market, e event.Event) error {
	maker, err := tx.UserAccount(e.Maker)
	if err != nil {
		return err
	}
	if maker.Market != mk.Key {
		return domain.NewInvariantError("crank", "maker %s not on market %s", e.Maker, mk.Key)
	}
	makerSide := e.TakerSide.Opposite()

	switch e.Kind {
	case event.KindOut:
		if err := maker.Unlock(sideAsset(makerSide), e.MakerLockedSpent); err != nil {
			return err
		}

	case event.KindFill:
		taker, err := tx.UserAccount(e.Taker)
		if err != nil {
			return err
		}
		if err := maker.SettleFill(domain.FillSettlement{
			Role:        domain.RoleMaker,
			Side:        makerSide,
			BaseQty:     e.BaseQty,
			QuoteQty:    e.QuoteQty,
			LockedSpent: e.MakerLockedSpent,
			Rebate:      e.Rebate,
			PayRebate:   mk.RebatePolicy == domain.RebatePayOnFill,
		}); err != nil {
			return err
		}
		if err := taker.SettleFill(domain.FillSettlement{
			Role:        domain.RoleTaker,
			Side:        e.TakerSide,
			BaseQty:     e.BaseQty,
			QuoteQty:    e.QuoteQty,
			LockedSpent: e.TakerLockedSpent,
			Fee:         e.Fee,
			Royalty:     e.Royalty,
		}); err != nil {
			return err
		}
		if err := mk.RecordFill(e.BaseQty, e.QuoteQty, fee.Breakdown{Fee: e.Fee, Rebate: e.Rebate, Royalty: e.Royalty}); err != nil {
			return err
		}

	default:
		return domain.NewInvariantError("crank", "unknown event kind %d", e.Kind)
	}

	if e.MakerOrderDone {
		maker.RemoveOrder(e.MakerOrder)
	}
	return nil
}
