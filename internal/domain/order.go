package domain

import (
	"fmt"

	"dex_go/pkg/quant"
)

// Side of an order.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order matches against.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bid", "buy":
		*s = SideBid
	case "ask", "sell":
		*s = SideAsk
	default:
		return NewValidationError("side", "unknown side %q", string(b))
	}
	return nil
}

// OrderType controls whether an unmatched remainder may rest.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypeFillOrKill
	OrderTypePostOnly
	OrderTypeMarket
)

var orderTypeNames = [...]string{"limit", "ioc", "fok", "post_only", "market"}

func (t OrderType) String() string {
	if int(t) < len(orderTypeNames) {
		return orderTypeNames[t]
	}
	return "unknown"
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	for i, n := range orderTypeNames {
		if n == string(b) {
			*t = OrderType(i)
			return nil
		}
	}
	return NewValidationError("order_type", "unknown order type %q", string(b))
}

// PostAllowed reports whether the remainder may rest on the book.
func (t OrderType) PostAllowed() bool {
	return t == OrderTypeLimit || t == OrderTypePostOnly
}

// SelfTradeBehavior decides what happens when an order meets the same
// account's resting order.
type SelfTradeBehavior uint8

const (
	SelfTradeAbortTransaction SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeDecrementTake
)

var selfTradeNames = [...]string{"abort_transaction", "cancel_provide", "decrement_take"}

func (b SelfTradeBehavior) String() string {
	if int(b) < len(selfTradeNames) {
		return selfTradeNames[b]
	}
	return "unknown"
}

func (b SelfTradeBehavior) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *SelfTradeBehavior) UnmarshalText(text []byte) error {
	for i, n := range selfTradeNames {
		if n == string(text) {
			*b = SelfTradeBehavior(i)
			return nil
		}
	}
	return NewValidationError("self_trade_behavior", "unknown behavior %q", string(text))
}

// OrderStatus is the outcome of a placement.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusResting         OrderStatus = "RESTING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFullyFilled     OrderStatus = "FULLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsOpen checks if the order still rests on the book.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusResting
}

// OrderID locates a resting order: the side selects the tree, (price, seq)
// is the index key.
type OrderID struct {
	Side  Side       `json:"side"`
	Price quant.Fp32 `json:"price"`
	Seq   uint64     `json:"seq"`
}

func (id OrderID) String() string {
	return fmt.Sprintf("%s:%d@%d", id.Side, id.Seq, uint64(id.Price))
}

// OrderRef is the open-order entry kept on a UserAccount.
type OrderRef struct {
	ID         OrderID `json:"id"`
	CallbackID uint64  `json:"callback_id"`
}
