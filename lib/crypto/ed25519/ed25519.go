package ed25519

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrInvalidPublicKeySize  = oops.Errorf("invalid ed25519 public key size")
	ErrInvalidPrivateKeySize = oops.Errorf("invalid ed25519 private key size")
)

// GenerateEd25519Key generates a new ed25519 signing keypair.
func GenerateEd25519Key() (types.SigningPrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, oops.Errorf("failed to generate ed25519 key: %w", err)
	}
	return Ed25519PrivateKey(priv), nil
}

// NewPrivateKey wraps a 64-byte ed25519 private key (seed || public).
func NewPrivateKey(data []byte) (Ed25519PrivateKey, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKeySize
	}
	k := make(Ed25519PrivateKey, ed25519.PrivateKeySize)
	copy(k, data)
	return k, nil
}

// NewPrivateKeyFromSeed derives the full private key from a 32-byte seed.
func NewPrivateKeyFromSeed(seed []byte) (Ed25519PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidPrivateKeySize
	}
	return Ed25519PrivateKey(ed25519.NewKeyFromSeed(seed)), nil
}
