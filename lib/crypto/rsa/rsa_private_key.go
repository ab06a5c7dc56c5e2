package rsa

import (
	"crypto/rsa"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type RSAPrivateKey struct {
	k *rsa.PrivateKey
}

func (p *RSAPrivateKey) NewSigner() (types.Signer, error) {
	if p.k == nil {
		return nil, ErrInvalidPrivateKey
	}
	return &RSASigner{k: p.k}, nil
}

func (p *RSAPrivateKey) Len() int {
	return p.k.Size()
}

func (p *RSAPrivateKey) Public() (types.SigningPublicKey, error) {
	if p.k == nil {
		return nil, ErrInvalidPrivateKey
	}
	return &RSAPublicKey{k: &p.k.PublicKey}, nil
}

// Key exposes the underlying stdlib key for wire encoding of e and n.
func (p *RSAPrivateKey) Key() *rsa.PrivateKey {
	return p.k
}
