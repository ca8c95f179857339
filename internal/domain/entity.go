package domain

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// KeySize is the length of a public identity.
const KeySize = 32

// Key identifies a trader, a market or any record owned by the exchange.
// It is rendered base58, like the public keys it stands for.
type Key [KeySize]byte

// ParseKey decodes a base58 key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base58.Decode(s)
	if err != nil {
		return k, NewValidationError("key", "invalid base58 %q: %v", s, err)
	}
	if len(b) != KeySize {
		return k, NewValidationError("key", "key %q has %d bytes, want %d", s, len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// MustParseKey panics on malformed input. For constants and tests.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string {
	return base58.Encode(k[:])
}

func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Less orders keys bytewise; used to take record locks in a fixed order.
func (k Key) Less(other Key) bool {
	for i := range k {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// DeriveKey derives a record address from seeds.
func DeriveKey(tag string, seeds ...Key) Key {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s[:])
	}
	h.Write([]byte(tag))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// DeriveUserAccountKey returns the address of owner's account on market.
func DeriveUserAccountKey(market, owner Key) Key {
	return DeriveKey("user_account", market, owner)
}

// Asset selects the base or quote leg of a market.
type Asset uint8

const (
	AssetBase Asset = iota
	AssetQuote
)

func (a Asset) String() string {
	switch a {
	case AssetBase:
		return "base"
	case AssetQuote:
		return "quote"
	default:
		return fmt.Sprintf("asset(%d)", uint8(a))
	}
}

func (a Asset) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Asset) UnmarshalText(b []byte) error {
	switch string(b) {
	case "base":
		*a = AssetBase
	case "quote":
		*a = AssetQuote
	default:
		return NewValidationError("asset", "unknown asset %q", string(b))
	}
	return nil
}

// Role of an account in a fill.
type Role uint8

const (
	RoleMaker Role = iota
	RoleTaker
)

func (r Role) String() string {
	if r == RoleMaker {
		return "maker"
	}
	return "taker"
}

// RebatePolicy decides whether maker rebates are credited on every fill
// or accrued for an explicit claim.
type RebatePolicy uint8

const (
	RebatePayOnFill RebatePolicy = iota
	RebateAccrue
)

func (p RebatePolicy) String() string {
	if p == RebateAccrue {
		return "accrue"
	}
	return "pay_on_fill"
}

func (p RebatePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *RebatePolicy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pay_on_fill", "":
		*p = RebatePayOnFill
	case "accrue":
		*p = RebateAccrue
	default:
		return NewValidationError("rebate_policy", "unknown policy %q", string(b))
	}
	return nil
}
