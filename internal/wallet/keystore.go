// Package wallet normalizes house-wallet key material into one canonical
// in-memory form. Parsing is pure; nothing here talks to the chain.
package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// ErrInvalidAddress rejects destination strings that do not decode to a
// 32-byte ed25519 public key.
var ErrInvalidAddress = errors.New("wallet: invalid address")

// ErrBadKeyMaterial means no supported encoding could parse the input.
var ErrBadKeyMaterial = errors.New("wallet: unrecognized key material")

// Keypair is the canonical signing identity. The private key is read-only
// after Load and safe for concurrent signing.
type Keypair struct {
	priv    ed25519.PrivateKey
	Address string // base58 public key
}

// Load parses key material, trying each supported encoding in order:
//
//  1. base58 of the 64-byte ed25519 keypair (phantom-style export)
//  2. JSON array of 64 bytes (solana-keygen id.json)
//  3. base64 of the 32-byte seed
//
// The first encoding that parses wins.
func Load(raw string) (*Keypair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrBadKeyMaterial
	}
	for _, parse := range []func(string) (ed25519.PrivateKey, error){
		parseBase58Keypair,
		parseJSONKeypair,
		parseBase64Seed,
	} {
		priv, err := parse(raw)
		if err != nil {
			continue
		}
		return &Keypair{
			priv:    priv,
			Address: base58.Encode(priv.Public().(ed25519.PublicKey)),
		}, nil
	}
	return nil, ErrBadKeyMaterial
}

// Sign signs a transaction message with the keypair.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// PublicKey returns the raw 32-byte public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

func parseBase58Keypair(raw string) (ed25519.PrivateKey, error) {
	b, err := base58.Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: base58 keypair is %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

func parseJSONKeypair(raw string) (ed25519.PrivateKey, error) {
	// encoding/json decodes []byte from base64 strings, so the id.json
	// number array needs an explicit element type.
	var nums []int16
	if err := json.Unmarshal([]byte(raw), &nums); err != nil {
		return nil, err
	}
	if len(nums) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: json keypair is %d bytes, want %d", len(nums), ed25519.PrivateKeySize)
	}
	b := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("wallet: json keypair byte %d out of range", i)
		}
		b[i] = byte(n)
	}
	return ed25519.PrivateKey(b), nil
}

func parseBase64Seed(raw string) (ed25519.PrivateKey, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet: base64 seed is %d bytes, want %d", len(b), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(b), nil
}

// DecodeAddress validates a base58 address and returns its 32 raw bytes.
func DecodeAddress(addr string) ([]byte, error) {
	b, err := base58.Decode(addr)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, Redact(addr))
	}
	return b, nil
}

// Redact shortens an address for log output: first four and last four
// characters only.
func Redact(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "…" + addr[len(addr)-4:]
}
