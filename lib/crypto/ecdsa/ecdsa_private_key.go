package ecdsa

import (
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type P256PrivateKey struct {
	k *ecdsa.PrivateKey
}

func (p *P256PrivateKey) NewSigner() (types.Signer, error) {
	if p.k == nil {
		return nil, ErrInvalidPrivateKey
	}
	return &P256Signer{k: p.k}, nil
}

func (p *P256PrivateKey) Len() int {
	return ScalarSize
}

func (p *P256PrivateKey) Public() (types.SigningPublicKey, error) {
	if p.k == nil {
		return nil, ErrInvalidPrivateKey
	}
	point := elliptic.Marshal(elliptic.P256(), p.k.PublicKey.X, p.k.PublicKey.Y)
	return P256PublicKey(point), nil
}

// Key exposes the underlying stdlib key for file marshalling.
func (p *P256PrivateKey) Key() *ecdsa.PrivateKey {
	return p.k
}
