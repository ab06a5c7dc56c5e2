package rsa

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

// RSAVerifier checks rsa-sha2-256 signatures (PKCS#1 v1.5 over SHA-256).
type RSAVerifier struct {
	k *rsa.PublicKey
}

func (v *RSAVerifier) Verify(data, sig []byte) error {
	log.WithField("data_length", len(data)).Debug("Verifying data with rsa-sha2-256")

	h := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(v.k, crypto.SHA256, h[:], sig); err != nil {
		log.Warn("Invalid RSA signature")
		return types.ErrInvalidSignature
	}
	return nil
}
