package ecdsa

import (
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

// P256PublicKey is a SEC1 uncompressed point (0x04 || X || Y).
type P256PublicKey []byte

func (k P256PublicKey) NewVerifier() (types.Verifier, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), k)
	if x == nil {
		log.WithField("key_length", len(k)).Error("Invalid P-256 public point")
		return nil, ErrInvalidPublicKey
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	return &P256Verifier{k: pub}, nil
}

func (k P256PublicKey) Len() int {
	return len(k)
}

func (k P256PublicKey) Bytes() []byte {
	return k
}
