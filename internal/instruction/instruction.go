package instruction

import (
	"encoding/json"
	"fmt"

	"dex_go/internal/domain"
	"dex_go/pkg/quant"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Kind names an instruction.
type Kind string

const (
	KindCreateMarket  Kind = "CreateMarket"
	KindCreateAccount Kind = "CreateAccount"
	KindDeposit       Kind = "Deposit"
	KindWithdraw      Kind = "Withdraw"
	KindPlaceOrder    Kind = "PlaceOrder"
	KindSwap          Kind = "Swap"
	KindCancelOrder   Kind = "CancelOrder"
	KindConsumeEvents Kind = "ConsumeEvents"
	KindClaimRebates  Kind = "ClaimRebates"
	KindSweepFees     Kind = "SweepFees"
	KindSetDiscount   Kind = "SetDiscount"
)

var kinds = map[Kind]bool{
	KindCreateMarket: true, KindCreateAccount: true, KindDeposit: true, KindWithdraw: true,
	KindPlaceOrder: true, KindSwap: true, KindCancelOrder: true, KindConsumeEvents: true,
	KindClaimRebates: true, KindSweepFees: true, KindSetDiscount: true,
}

// Valid reports whether k is a known instruction.
func (k Kind) Valid() bool { return kinds[k] }

// Signature is an ed25519 signature, base58 on the wire.
type Signature []byte

func (s Signature) MarshalText() ([]byte, error) { return []byte(base58.Encode(s)), nil }

func (s *Signature) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = nil
		return nil
	}
	raw, err := base58.Decode(string(b))
	if err != nil {
		return domain.NewValidationError("signature", "invalid base58: %v", err)
	}
	*s = raw
	return nil
}

// Instruction is a signed request to mutate state. Seq and Ts are assigned
// by the sequencer and are not covered by the signature.
type Instruction struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Signer    domain.Key      `json:"signer"`
	Payload   json.RawMessage `json:"payload"`
	Signature Signature       `json:"signature,omitempty"`

	Seq uint64          `json:"seq,omitempty"`
	Ts  quant.TimeStamp `json:"ts,omitempty"`
}

// New builds an unsigned instruction with a fresh ID.
func New(kind Kind, signer domain.Key, payload any) (*Instruction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Instruction{
		ID:      uuid.NewString(),
		Kind:    kind,
		Signer:  signer,
		Payload: raw,
	}, nil
}

// SigningBytes is the message the signer signs.
func (ins *Instruction) SigningBytes() []byte {
	msg := struct {
		ID      string          `json:"id"`
		Kind    Kind            `json:"kind"`
		Signer  domain.Key      `json:"signer"`
		Payload json.RawMessage `json:"payload"`
	}{ins.ID, ins.Kind, ins.Signer, ins.Payload}
	// Every field marshals without error.
	b, _ := json.Marshal(msg)
	return b
}

// Validate checks the envelope; payloads are checked when decoded.
func (ins *Instruction) Validate() error {
	if _, err := uuid.Parse(ins.ID); err != nil {
		return domain.NewValidationError("id", "not a uuid: %q", ins.ID)
	}
	if !ins.Kind.Valid() {
		return domain.NewValidationError("kind", "unknown instruction %q", ins.Kind)
	}
	if ins.Signer.IsZero() {
		return domain.NewValidationError("signer", "required")
	}
	if len(ins.Payload) == 0 {
		return domain.NewValidationError("payload", "required")
	}
	return nil
}

// Decode unmarshals the payload into v.
func (ins *Instruction) Decode(v any) error {
	if err := json.Unmarshal(ins.Payload, v); err != nil {
		return domain.NewValidationError("payload", "%s: %v", ins.Kind, err)
	}
	return nil
}
