package kex

import (
	"hash"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

// ExchangeHashInput collects the transcript fields hashed into H (RFC
// 5656 section 4): identification lines without CRLF, raw KEXINIT payloads
// including the message number, the host key blob, both ephemeral public
// values and the shared secret.
type ExchangeHashInput struct {
	ClientVersion string
	ServerVersion string
	ClientKexInit []byte
	ServerKexInit []byte
	HostKeyBlob   []byte
	ClientPublic  []byte
	ServerPublic  []byte
	Secret        []byte
}

// Build computes H. The strings are length-prefixed, the secret is an
// mpint.
func (in *ExchangeHashInput) Build(newHash func() hash.Hash) ([]byte, error) {
	var s wire.Serializer
	for _, blob := range [][]byte{
		[]byte(in.ClientVersion),
		[]byte(in.ServerVersion),
		in.ClientKexInit,
		in.ServerKexInit,
		in.HostKeyBlob,
		in.ClientPublic,
		in.ServerPublic,
	} {
		if err := s.WriteLengthEncoded(blob); err != nil {
			return nil, err
		}
	}
	if err := s.WriteBignum2(in.Secret); err != nil {
		return nil, err
	}

	h := newHash()
	h.Write(s.Finish())
	return h.Sum(nil), nil
}

// EncodeSecret returns the shared secret in its mpint encoding, the form
// key derivation consumes.
func EncodeSecret(secret []byte) ([]byte, error) {
	var s wire.Serializer
	if err := s.WriteBignum2(secret); err != nil {
		return nil, err
	}
	out := make([]byte, len(s.Finish()))
	copy(out, s.Finish())
	return out, nil
}
