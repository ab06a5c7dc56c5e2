package ecdsa

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"

	"github.com/samber/oops"
)

type P256Signer struct {
	k *ecdsa.PrivateKey
}

func (s *P256Signer) Sign(data []byte) (sig []byte, err error) {
	log.WithField("data_length", len(data)).Debug("Signing data with ECDSA P-256")

	h := sha256.Sum256(data)
	r, ss, err := ecdsa.Sign(rand.Reader, s.k, h[:])
	if err != nil {
		return nil, oops.Errorf("failed to sign with P-256: %w", err)
	}

	sig = make([]byte, SignatureSize)
	r.FillBytes(sig[:ScalarSize])
	ss.FillBytes(sig[ScalarSize:])
	return sig, nil
}
