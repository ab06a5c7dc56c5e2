package ed25519

import (
	"crypto/ed25519"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type Ed25519PrivateKey []byte

func (k Ed25519PrivateKey) NewSigner() (types.Signer, error) {
	if len(k) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKeySize
	}
	return &Ed25519Signer{k: k}, nil
}

func (k Ed25519PrivateKey) Len() int {
	return len(k)
}

func (k Ed25519PrivateKey) Public() (types.SigningPublicKey, error) {
	if len(k) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKeySize
	}
	pub := ed25519.PrivateKey(k).Public().(ed25519.PublicKey)
	return Ed25519PublicKey(pub), nil
}
