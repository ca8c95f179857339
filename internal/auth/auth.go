package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"

	"github.com/mr-tron/base58"
)

// Keypair is a trader or authority identity.
type Keypair struct {
	Public  domain.Key
	Private ed25519.PrivateKey
}

// NewKeypair generates a random identity.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	var k domain.Key
	copy(k[:], pub)
	return &Keypair{Public: k, Private: priv}, nil
}

// KeypairFromSeed derives an identity deterministically from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, domain.NewValidationError("seed", "%d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var k domain.Key
	copy(k[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{Public: k, Private: priv}, nil
}

// ParseKeypair decodes a base58 64-byte secret key.
func ParseKeypair(s string) (*Keypair, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, domain.NewValidationError("secret_key", "invalid base58: %v", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, domain.NewValidationError("secret_key", "%d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return KeypairFromSeed(raw[:ed25519.SeedSize])
}

// Secret encodes the private key base58.
func (kp *Keypair) Secret() string {
	return base58.Encode(kp.Private)
}

// Sign sets the instruction's signer and signature.
func (kp *Keypair) Sign(ins *instruction.Instruction) {
	ins.Signer = kp.Public
	ins.Signature = ed25519.Sign(kp.Private, ins.SigningBytes())
}

// Verifier checks instruction signatures.
type Verifier struct{}

// Verify reports ErrUnauthorized unless the signature is valid for Signer.
func (Verifier) Verify(ins *instruction.Instruction) error {
	if len(ins.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: missing or malformed signature", domain.ErrUnauthorized)
	}
	if !ed25519.Verify(ed25519.PublicKey(ins.Signer[:]), ins.SigningBytes(), ins.Signature) {
		return fmt.Errorf("%w: bad signature for %s", domain.ErrUnauthorized, ins.Signer)
	}
	return nil
}
