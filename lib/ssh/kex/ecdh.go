package kex

import (
	"crypto/ecdh"
	"crypto/rand"
	"hash"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/curve25519"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/cipher"
	"github.com/samber/oops"
)

// KEX algorithm names.
const (
	Curve25519SHA256 = "curve25519-sha256"
	ECDHSHA2NISTP256 = "ecdh-sha2-nistp256"
)

var ErrUnknownKexAlgorithm = oops.Errorf("unknown key exchange algorithm")

// Exchange runs the server side of one ECDH exchange: generate an
// ephemeral keypair, multiply with the client's public value, return our
// public value and the shared secret.
type Exchange interface {
	// ServerExchange consumes the client's ephemeral public key Q_C and
	// returns the server's Q_S and the shared secret K (raw bytes, not yet
	// mpint-encoded).
	ServerExchange(clientPublic []byte) (serverPublic, secret []byte, err error)

	// Hash returns the exchange-hash algorithm of this KEX method.
	Hash() func() hash.Hash
}

// New returns the Exchange for a negotiated KEX algorithm name.
func New(name string) (Exchange, error) {
	switch name {
	case Curve25519SHA256:
		return &curve25519Exchange{}, nil
	case ECDHSHA2NISTP256:
		return &nistp256Exchange{}, nil
	}
	return nil, ErrUnknownKexAlgorithm
}

type curve25519Exchange struct {
	// fixed, when non-nil, replaces the random ephemeral scalar; only
	// tests set it to obtain deterministic exchanges
	fixed []byte
}

func (e *curve25519Exchange) ServerExchange(clientPublic []byte) ([]byte, []byte, error) {
	var kp *curve25519.KeyPair
	var err error
	if e.fixed != nil {
		kp, err = curve25519.NewKeyPairFromScalar(e.fixed)
	} else {
		kp, err = curve25519.GenerateKeyPair()
	}
	if err != nil {
		return nil, nil, err
	}

	secret, err := kp.SharedSecret(clientPublic)
	if err != nil {
		return nil, nil, err
	}
	return kp.Public(), secret, nil
}

func (e *curve25519Exchange) Hash() func() hash.Hash {
	return cipher.SHA256
}

type nistp256Exchange struct{}

func (e *nistp256Exchange) ServerExchange(clientPublic []byte) ([]byte, []byte, error) {
	curve := ecdh.P256()

	peer, err := curve.NewPublicKey(clientPublic)
	if err != nil {
		return nil, nil, oops.Errorf("invalid nistp256 client public key: %w", err)
	}

	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, oops.Errorf("failed to generate nistp256 ephemeral key: %w", err)
	}

	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, nil, oops.Errorf("nistp256 exchange failed: %w", err)
	}
	return priv.PublicKey().Bytes(), secret, nil
}

func (e *nistp256Exchange) Hash() func() hash.Hash {
	return cipher.SHA256
}
