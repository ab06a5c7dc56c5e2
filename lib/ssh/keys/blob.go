package keys

import (
	"crypto/rsa"
	"math/big"

	lukkoecdsa "github.com/pfirsich/cm4all-lukko/lib/crypto/ecdsa"
	lukkoed25519 "github.com/pfirsich/cm4all-lukko/lib/crypto/ed25519"
	lukkorsa "github.com/pfirsich/cm4all-lukko/lib/crypto/rsa"
	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/samber/oops"
)

var (
	ErrUnknownKeyAlgorithm = oops.Errorf("unknown public key algorithm")
	ErrMalformedKeyBlob    = oops.Errorf("malformed public key blob")
	ErrMalformedSignature  = oops.Errorf("malformed signature blob")
)

// encodePublicKeyBlob produces the wire form of a public key:
//
//	ssh-ed25519:         string name, string key
//	ecdsa-sha2-nistp256: string name, string "nistp256", string point
//	ssh-rsa:             string name, mpint e, mpint n
func encodePublicKeyBlob(algorithm string, pub types.SigningPublicKey) ([]byte, error) {
	var s wire.Serializer
	switch algorithm {
	case AlgoEd25519:
		if err := s.WriteString(AlgoEd25519); err != nil {
			return nil, err
		}
		if err := s.WriteLengthEncoded(pub.Bytes()); err != nil {
			return nil, err
		}
	case AlgoECDSA256:
		if err := s.WriteString(AlgoECDSA256); err != nil {
			return nil, err
		}
		if err := s.WriteString("nistp256"); err != nil {
			return nil, err
		}
		if err := s.WriteLengthEncoded(pub.Bytes()); err != nil {
			return nil, err
		}
	case AlgoRSA, AlgoRSA256:
		// the blob name stays ssh-rsa even when signatures use rsa-sha2-256
		rsaPub, ok := pub.(*lukkorsa.RSAPublicKey)
		if !ok {
			return nil, ErrUnknownKeyAlgorithm
		}
		k := rsaPub.Key()
		if err := s.WriteString(AlgoRSA); err != nil {
			return nil, err
		}
		if err := s.WriteBignum2(big.NewInt(int64(k.E)).Bytes()); err != nil {
			return nil, err
		}
		if err := s.WriteBignum2(k.N.Bytes()); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownKeyAlgorithm
	}

	blob := make([]byte, len(s.Finish()))
	copy(blob, s.Finish())
	return blob, nil
}

// encodeSignatureBlob wraps a raw signature in the wire form:
// string algorithm-name, string signature-data. For ECDSA the signature
// data is itself two mpints (RFC 5656), not the raw r || s scalars.
func encodeSignatureBlob(algorithm string, raw []byte) ([]byte, error) {
	var s wire.Serializer
	if err := s.WriteString(algorithm); err != nil {
		return nil, err
	}

	switch algorithm {
	case AlgoECDSA256:
		if len(raw) != lukkoecdsa.SignatureSize {
			return nil, ErrMalformedSignature
		}
		at, err := s.PrepareLength()
		if err != nil {
			return nil, err
		}
		if err := s.WriteBignum2(raw[:lukkoecdsa.ScalarSize]); err != nil {
			return nil, err
		}
		if err := s.WriteBignum2(raw[lukkoecdsa.ScalarSize:]); err != nil {
			return nil, err
		}
		s.CommitLength(at)
	default:
		if err := s.WriteLengthEncoded(raw); err != nil {
			return nil, err
		}
	}

	blob := make([]byte, len(s.Finish()))
	copy(blob, s.Finish())
	return blob, nil
}

// PublicKey is a parsed client public key: enough to rebuild a verifier
// and compare blobs.
type PublicKey struct {
	Algorithm string
	Blob      []byte

	verifier types.Verifier
}

// ParsePublicKeyBlob parses a wire public key blob into a verifier.
func ParsePublicKeyBlob(blob []byte) (*PublicKey, error) {
	r := wire.NewReader(blob)
	name, err := r.ReadText()
	if err != nil {
		return nil, ErrMalformedKeyBlob
	}

	var pub types.SigningPublicKey
	switch name {
	case AlgoEd25519:
		keyBytes, err := r.ReadString()
		if err != nil {
			return nil, ErrMalformedKeyBlob
		}
		pub = lukkoed25519.Ed25519PublicKey(keyBytes)
	case AlgoECDSA256:
		curveName, err := r.ReadText()
		if err != nil || curveName != "nistp256" {
			return nil, ErrMalformedKeyBlob
		}
		point, err := r.ReadString()
		if err != nil {
			return nil, ErrMalformedKeyBlob
		}
		pub, err = lukkoecdsa.NewPublicKey(point)
		if err != nil {
			return nil, err
		}
	case AlgoRSA:
		e, err := r.ReadBignum2()
		if err != nil {
			return nil, ErrMalformedKeyBlob
		}
		n, err := r.ReadBignum2()
		if err != nil {
			return nil, ErrMalformedKeyBlob
		}
		rsaPub, err := lukkorsa.NewPublicKey(&rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		})
		if err != nil {
			return nil, err
		}
		pub = rsaPub
	default:
		return nil, ErrUnknownKeyAlgorithm
	}

	verifier, err := pub.NewVerifier()
	if err != nil {
		return nil, err
	}

	stored := make([]byte, len(blob))
	copy(stored, blob)
	return &PublicKey{
		Algorithm: name,
		Blob:      stored,
		verifier:  verifier,
	}, nil
}

// VerifySignatureBlob checks a wire signature blob over data. The
// algorithm inside the blob must be compatible with the key.
func (pk *PublicKey) VerifySignatureBlob(data, sigBlob []byte) error {
	r := wire.NewReader(sigBlob)
	algo, err := r.ReadText()
	if err != nil {
		return ErrMalformedSignature
	}
	sigData, err := r.ReadString()
	if err != nil {
		return ErrMalformedSignature
	}

	switch pk.Algorithm {
	case AlgoEd25519:
		if algo != AlgoEd25519 {
			return ErrMalformedSignature
		}
		return pk.verifier.Verify(data, sigData)
	case AlgoECDSA256:
		if algo != AlgoECDSA256 {
			return ErrMalformedSignature
		}
		// unpack the two mpints into raw r || s
		sr := wire.NewReader(sigData)
		rBytes, err := sr.ReadBignum2()
		if err != nil {
			return ErrMalformedSignature
		}
		sBytes, err := sr.ReadBignum2()
		if err != nil {
			return ErrMalformedSignature
		}
		if len(rBytes) > lukkoecdsa.ScalarSize || len(sBytes) > lukkoecdsa.ScalarSize {
			return ErrMalformedSignature
		}
		raw := make([]byte, lukkoecdsa.SignatureSize)
		copy(raw[lukkoecdsa.ScalarSize-len(rBytes):lukkoecdsa.ScalarSize], rBytes)
		copy(raw[lukkoecdsa.SignatureSize-len(sBytes):], sBytes)
		return pk.verifier.Verify(data, raw)
	case AlgoRSA:
		if algo != AlgoRSA256 {
			// only rsa-sha2-256 signatures are accepted for ssh-rsa keys
			return ErrMalformedSignature
		}
		return pk.verifier.Verify(data, sigData)
	}
	return ErrUnknownKeyAlgorithm
}
