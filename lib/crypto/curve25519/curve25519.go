package curve25519

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

var log = logger.GetLukkoLogger()

var (
	ErrInvalidPublicKeySize = oops.Errorf("invalid curve25519 public key size")
	ErrLowOrderPoint        = oops.Errorf("curve25519 public value has wrong order")
)

const (
	KeySize = 32
)

// KeyPair is an ephemeral X25519 keypair for one key exchange.
type KeyPair struct {
	priv [KeySize]byte
	pub  [KeySize]byte
}

// GenerateKeyPair generates an ephemeral X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

// NewKeyPairFromScalar builds a keypair from a fixed scalar. Used by tests
// that need deterministic exchanges.
func NewKeyPairFromScalar(scalar []byte) (*KeyPair, error) {
	if len(scalar) != KeySize {
		return nil, ErrInvalidPublicKeySize
	}
	kp := new(KeyPair)
	copy(kp.priv[:], scalar)
	curve25519.ScalarBaseMult(&kp.pub, &kp.priv)
	return kp, nil
}

func generateKeyPair(r io.Reader) (*KeyPair, error) {
	kp := new(KeyPair)
	if _, err := io.ReadFull(r, kp.priv[:]); err != nil {
		return nil, oops.Errorf("failed to generate curve25519 scalar: %w", err)
	}
	curve25519.ScalarBaseMult(&kp.pub, &kp.priv)
	log.Debug("Generated ephemeral curve25519 keypair")
	return kp, nil
}

// Public returns the public point of the keypair.
func (kp *KeyPair) Public() []byte {
	return kp.pub[:]
}

var zeros [KeySize]byte

// SharedSecret computes the X25519 shared secret with the peer's public
// point, rejecting low-order points that would yield an all-zero secret.
func (kp *KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != KeySize {
		return nil, ErrInvalidPublicKeySize
	}

	var peer, secret [KeySize]byte
	copy(peer[:], peerPublic)
	curve25519.ScalarMult(&secret, &kp.priv, &peer)

	if subtle.ConstantTimeCompare(secret[:], zeros[:]) == 1 {
		log.Warn("Rejecting low-order curve25519 point")
		return nil, ErrLowOrderPoint
	}
	return secret[:], nil
}
