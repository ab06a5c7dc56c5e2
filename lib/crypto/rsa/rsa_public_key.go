package rsa

import (
	"crypto/rsa"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type RSAPublicKey struct {
	k *rsa.PublicKey
}

func (k *RSAPublicKey) NewVerifier() (types.Verifier, error) {
	if k.k == nil {
		return nil, ErrInvalidPublicKey
	}
	return &RSAVerifier{k: k.k}, nil
}

func (k *RSAPublicKey) Len() int {
	return k.k.Size()
}

func (k *RSAPublicKey) Bytes() []byte {
	return k.k.N.Bytes()
}

// Key exposes the underlying stdlib key for wire encoding of e and n.
func (k *RSAPublicKey) Key() *rsa.PublicKey {
	return k.k
}
