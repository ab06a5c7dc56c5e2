package ed25519

import (
	"crypto/ed25519"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type Ed25519PublicKey []byte

func (k Ed25519PublicKey) NewVerifier() (types.Verifier, error) {
	if len(k) != ed25519.PublicKeySize {
		log.WithField("key_length", len(k)).Error("Invalid Ed25519 public key size")
		return nil, ErrInvalidPublicKeySize
	}
	return &Ed25519Verifier{k: k}, nil
}

func (k Ed25519PublicKey) Len() int {
	return len(k)
}

func (k Ed25519PublicKey) Bytes() []byte {
	return k
}
