package rsa

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrInvalidPublicKey  = oops.Errorf("invalid RSA public key")
	ErrInvalidPrivateKey = oops.Errorf("invalid RSA private key")
	ErrKeyTooSmall       = oops.Errorf("RSA key smaller than 2048 bits")
)

const MinKeyBits = 2048

// GenerateRSAKey generates an RSA signing key of the given size (2048+).
func GenerateRSAKey(bits int) (types.SigningPrivateKey, error) {
	if bits < MinKeyBits {
		return nil, ErrKeyTooSmall
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, oops.Errorf("failed to generate RSA key: %w", err)
	}
	return &RSAPrivateKey{k: priv}, nil
}

// NewPrivateKey wraps an existing stdlib RSA key.
func NewPrivateKey(priv *rsa.PrivateKey) (*RSAPrivateKey, error) {
	if priv == nil || priv.N.BitLen() < MinKeyBits {
		return nil, ErrKeyTooSmall
	}
	return &RSAPrivateKey{k: priv}, nil
}

// NewPublicKey wraps an existing stdlib RSA public key.
func NewPublicKey(pub *rsa.PublicKey) (*RSAPublicKey, error) {
	if pub == nil || pub.N == nil {
		return nil, ErrInvalidPublicKey
	}
	return &RSAPublicKey{k: pub}, nil
}
