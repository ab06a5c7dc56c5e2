package ed25519

import (
	"crypto/ed25519"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
)

type Ed25519Verifier struct {
	k []byte
}

func (v *Ed25519Verifier) Verify(data, sig []byte) error {
	log.WithField("data_length", len(data)).Debug("Verifying data with Ed25519")

	if len(sig) != ed25519.SignatureSize {
		return types.ErrBadSignatureSize
	}
	if !ed25519.Verify(v.k, data, sig) {
		log.Warn("Invalid Ed25519 signature")
		return types.ErrInvalidSignature
	}
	return nil
}
