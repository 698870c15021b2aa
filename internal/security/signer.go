// Package security signs outgoing metric responses with a Solana ed25519 keypair
// so consumers can verify results came from this service.
package security

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Response headers carrying the signature and the signer's public key.
const (
	HeaderSignature = "X-Signature"
	HeaderSigner    = "X-Signer"
)

// ErrInvalidKey is returned for a private key that is not a 64-byte ed25519 key.
var ErrInvalidKey = errors.New("invalid signing key")

// Signer produces base58 ed25519 signatures over response bodies.
type Signer struct {
	key    solana.PrivateKey
	public solana.PublicKey
}

// NewSigner parses a base58-encoded Solana private key.
func NewSigner(base58Key string) (*Signer, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(key))
	}

	s := &Signer{key: key, public: key.PublicKey()}
	logrus.WithField("signer", s.public.String()).Info("Response signing enabled")
	return s, nil
}

// PublicKey returns the signer's address in base58.
func (s *Signer) PublicKey() string {
	return s.public.String()
}

// Sign returns the base58 signature of payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	sig, err := s.key.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return sig.String(), nil
}

// Verify checks a base58 signature over payload against a base58 public key.
func Verify(publicKey, signature string, payload []byte) (bool, error) {
	pub, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}
	return sig.Verify(pub, payload), nil
}
