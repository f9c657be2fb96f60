// Package wallet derives and verifies ed25519 keypairs for the blockchain
// identity half of an agent or the Coordinator. Addresses are base58,
// matching Solana convention.
package wallet

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// KeyPair is a wallet's ed25519 signing key and its base58 address.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh random keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// FromSeed rebuilds a keypair from its 32-byte ed25519 seed (as persisted by
// blobstore). Used on restart to load an agent's wallet.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
}

// Seed returns the 32-byte seed suitable for persistence.
func (k *KeyPair) Seed() []byte {
	return k.PrivateKey.Seed()
}

// Address returns the base58 wallet address (the public key, base58-encoded).
func (k *KeyPair) Address() string {
	return base58.Encode(k.PublicKey)
}

// Sign produces a detached ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}

// ParseAddress decodes a base58 wallet address into an ed25519 public key.
func ParseAddress(addr string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode address %q: %w", addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("wallet: address %q decodes to %d bytes, want %d", addr, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks sig over msg against the wallet address's public key.
func Verify(addr string, msg, sig []byte) error {
	pub, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("wallet: invalid signature length %d", len(sig))
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("wallet: signature verification failed for %s", addr)
	}
	return nil
}

// VerifyHexPubkey checks sig over msg against a hex-encoded ed25519 public key
// (used for TEE keys, which are carried as hex rather than base58 addresses).
func VerifyHexPubkey(pubkeyHex string, msg, sig []byte) error {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return fmt.Errorf("wallet: decode hex pubkey: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("wallet: hex pubkey decodes to %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("wallet: invalid signature length %d", len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(raw), msg, sig) {
		return fmt.Errorf("wallet: TEE signature verification failed")
	}
	return nil
}
