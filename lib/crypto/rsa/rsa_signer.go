package rsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/samber/oops"
)

// RSASigner produces rsa-sha2-256 signatures (PKCS#1 v1.5 over SHA-256).
type RSASigner struct {
	k *rsa.PrivateKey
}

func (s *RSASigner) Sign(data []byte) (sig []byte, err error) {
	log.WithField("data_length", len(data)).Debug("Signing data with rsa-sha2-256")

	h := sha256.Sum256(data)
	sig, err = rsa.SignPKCS1v15(rand.Reader, s.k, crypto.SHA256, h[:])
	if err != nil {
		return nil, oops.Errorf("failed to sign with RSA: %w", err)
	}
	return sig, nil
}
