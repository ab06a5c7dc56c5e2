package ecdsa

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type P256Verifier struct {
	k *ecdsa.PublicKey
}

func (v *P256Verifier) Verify(data, sig []byte) error {
	log.WithField("data_length", len(data)).Debug("Verifying data with ECDSA P-256")

	if len(sig) != SignatureSize {
		return types.ErrBadSignatureSize
	}
	r := new(big.Int).SetBytes(sig[:ScalarSize])
	s := new(big.Int).SetBytes(sig[ScalarSize:])

	h := sha256.Sum256(data)
	if !ecdsa.Verify(v.k, h[:], r, s) {
		log.Warn("Invalid P-256 signature")
		return types.ErrInvalidSignature
	}
	return nil
}
