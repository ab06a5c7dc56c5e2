package ecdsa

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrInvalidPublicKey  = oops.Errorf("invalid ECDSA P-256 public key")
	ErrInvalidPrivateKey = oops.Errorf("invalid ECDSA P-256 private key")
)

// Signatures are raw r || s, each scalar left-padded to 32 bytes. The
// algorithm-specific wire encoding (two mpints inside an ssh-string, RFC
// 5656) is applied by the caller.
const (
	ScalarSize    = 32
	SignatureSize = 2 * ScalarSize
)

// GenerateP256Key generates a new ECDSA key on the NIST P-256 curve.
func GenerateP256Key() (types.SigningPrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Errorf("failed to generate P-256 key: %w", err)
	}
	return &P256PrivateKey{k: priv}, nil
}

// NewPrivateKey wraps an existing stdlib P-256 key.
func NewPrivateKey(priv *ecdsa.PrivateKey) (*P256PrivateKey, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, ErrInvalidPrivateKey
	}
	return &P256PrivateKey{k: priv}, nil
}

// NewPublicKey wraps a SEC1 uncompressed point (0x04 || X || Y).
func NewPublicKey(point []byte) (P256PublicKey, error) {
	if len(point) != 1+2*ScalarSize || point[0] != 4 {
		return nil, ErrInvalidPublicKey
	}
	k := make(P256PublicKey, len(point))
	copy(k, point)
	return k, nil
}
