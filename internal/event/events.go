package event

import (
	"fmt"

	"dex_go/internal/domain"
	"dex_go/pkg/quant"
)

// Kind defines the type of event.
type Kind uint8

const (
	KindFill Kind = iota + 1
	KindOut
)

func (k Kind) String() string {
	switch k {
	case KindFill:
		return "fill"
	case KindOut:
		return "out"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fill":
		*k = KindFill
	case "out":
		*k = KindOut
	default:
		return domain.NewValidationError("kind", "unknown event kind %q", b)
	}
	return nil
}

// Event is a deferred settlement record. Fill events move assets between a
// maker and a taker; Out events release a maker's lock for base that left
// the book without trading.
//
// Quantities are in tokens. MakerLockedSpent and TakerLockedSpent are the
// shares of each side's locked balance the event consumes; anything not owed
// to the counterparty goes back to free.
type Event struct {
	Seq  uint64          `json:"seq"`
	Ts   quant.TimeStamp `json:"ts"`
	Kind Kind            `json:"kind"`

	Maker      domain.Key     `json:"maker"`
	Taker      domain.Key     `json:"taker"`
	MakerOrder domain.OrderID `json:"maker_order"`
	TakerSide  domain.Side    `json:"taker_side"`
	Price      quant.Fp32     `json:"price"`

	BaseQty  uint64 `json:"base_qty"`
	QuoteQty uint64 `json:"quote_qty"`
	Fee      uint64 `json:"fee"`
	Rebate   uint64 `json:"rebate"`
	Royalty  uint64 `json:"royalty"`

	MakerLockedSpent uint64 `json:"maker_locked_spent"`
	TakerLockedSpent uint64 `json:"taker_locked_spent"`

	MakerCallback uint64 `json:"maker_callback"`
	TakerCallback uint64 `json:"taker_callback"`
	// MakerOrderDone is set when this event removed the maker order from the book.
	MakerOrderDone bool `json:"maker_order_done"`
}

// Accounts returns the user accounts an event settles against.
func (e Event) Accounts() []domain.Key {
	if e.Kind == KindOut {
		return []domain.Key{e.Maker}
	}
	return []domain.Key{e.Maker, e.Taker}
}
