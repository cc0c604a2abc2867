package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("signature does not match expected signer")

// Signer signs a stable caller identifier with a secp256k1 key.
// Signatures are produced over keccak256(message) in the 65-byte
// [R || S || V] format, so verifiers can recover the signer address.
type Signer struct {
	id  string
	key *ecdsa.PrivateKey
}

// NewSigner returns a signer for id backed by key.
func NewSigner(id string, key *ecdsa.PrivateKey) *Signer {
	return &Signer{id: id, key: key}
}

// NewSignerFromHex parses a hex-encoded secp256k1 private key, with or without 0x prefix.
func NewSignerFromHex(id string, hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return NewSigner(id, key), nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner(id string) (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewSigner(id, key), nil
}

// ID returns the identifier the signer signs for.
func (s *Signer) ID() string {
	return s.id
}

// Sign signs keccak256(msg).
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(crypto.Keccak256(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Address returns the Ethereum address of the signing key.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// RecoverAddress returns the address whose key produced sig over msg.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	pubkey, err := crypto.SigToPub(crypto.Keccak256(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}

// VerifySignature checks that sig over msg was produced by expected.
func VerifySignature(msg, sig []byte, expected common.Address) error {
	addr, err := RecoverAddress(msg, sig)
	if err != nil {
		return err
	}
	if addr != expected {
		return fmt.Errorf("%w: got %s, expected %s", ErrSignatureMismatch, addr.Hex(), expected.Hex())
	}
	return nil
}
