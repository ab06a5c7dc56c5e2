package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/pem"
	"os"
	"path/filepath"

	lukkoecdsa "github.com/pfirsich/cm4all-lukko/lib/crypto/ecdsa"
	lukkoed25519 "github.com/pfirsich/cm4all-lukko/lib/crypto/ed25519"
	lukkorsa "github.com/pfirsich/cm4all-lukko/lib/crypto/rsa"
	"github.com/pfirsich/cm4all-lukko/lib/crypto/types"
	"github.com/pfirsich/cm4all-lukko/lib/util"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
	xssh "golang.org/x/crypto/ssh"
)

var log = logger.GetLukkoLogger()

var (
	ErrUnsupportedKeyType = oops.Errorf("unsupported host key type")
	ErrNoHostKey          = oops.Errorf("no host key available")
)

// Host key algorithm names.
const (
	AlgoEd25519  = "ssh-ed25519"
	AlgoECDSA256 = "ecdsa-sha2-nistp256"
	AlgoRSA      = "ssh-rsa"
	AlgoRSA256   = "rsa-sha2-256"
)

// HostKey is the server's identity: a private key of one of the supported
// algorithms, its public key blob and a signer for KEX exchange hashes.
type HostKey struct {
	// Algorithm is the signature algorithm name sent on the wire.
	Algorithm string

	signer types.Signer
	blob   []byte
}

// PublicKeyBlob returns the wire encoding of the public key (K_S in the
// exchange hash).
func (hk *HostKey) PublicKeyBlob() []byte {
	return hk.blob
}

// Sign signs data (a KEX exchange hash) and returns the wire signature
// blob.
func (hk *HostKey) Sign(data []byte) ([]byte, error) {
	raw, err := hk.signer.Sign(data)
	if err != nil {
		return nil, err
	}
	return encodeSignatureBlob(hk.Algorithm, raw)
}

// Load reads a private key file in OpenSSH format.
func Load(path string) (*HostKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read host key %s: %w", path, err)
	}

	raw, err := xssh.ParseRawPrivateKey(pem)
	if err != nil {
		return nil, oops.Errorf("failed to parse host key %s: %w", path, err)
	}
	return fromRawKey(raw)
}

func fromRawKey(raw interface{}) (*HostKey, error) {
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		priv, err := lukkoed25519.NewPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return newHostKey(AlgoEd25519, priv)
	case *ed25519.PrivateKey:
		return fromRawKey(*k)
	case *ecdsa.PrivateKey:
		priv, err := lukkoecdsa.NewPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return newHostKey(AlgoECDSA256, priv)
	case *rsa.PrivateKey:
		priv, err := lukkorsa.NewPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return newHostKey(AlgoRSA256, priv)
	}
	return nil, ErrUnsupportedKeyType
}

func newHostKey(algorithm string, priv types.SigningPrivateKey) (*HostKey, error) {
	signer, err := priv.NewSigner()
	if err != nil {
		return nil, err
	}
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}
	blob, err := encodePublicKeyBlob(algorithm, pub)
	if err != nil {
		return nil, err
	}
	return &HostKey{
		Algorithm: algorithm,
		signer:    signer,
		blob:      blob,
	}, nil
}

// NewFromSigningKey builds a HostKey directly from a wrapped private key;
// tests use it with fixed seeds.
func NewFromSigningKey(algorithm string, priv types.SigningPrivateKey) (*HostKey, error) {
	return newHostKey(algorithm, priv)
}

// LoadOrGenerate loads the host key at path, generating one of keyType
// ("ed25519", "ecdsa", "rsa") when the file does not exist and generate is
// set.
func LoadOrGenerate(path, keyType string, generate bool) (*HostKey, error) {
	if !util.CheckFileExists(path) {
		if !generate {
			return nil, ErrNoHostKey
		}
		log.WithField("path", path).WithField("type", keyType).Debug("Generating host key")
		if err := Generate(path, keyType); err != nil {
			return nil, err
		}
	}
	return Load(path)
}

// Generate creates a new private key of keyType and writes it to path in
// OpenSSH format with 0600 permissions.
func Generate(path, keyType string) error {
	var raw interface{}
	switch keyType {
	case "ed25519":
		priv, err := lukkoed25519.GenerateEd25519Key()
		if err != nil {
			return err
		}
		raw = ed25519.PrivateKey(priv.(lukkoed25519.Ed25519PrivateKey))
	case "ecdsa":
		priv, err := lukkoecdsa.GenerateP256Key()
		if err != nil {
			return err
		}
		raw = priv.(*lukkoecdsa.P256PrivateKey).Key()
	case "rsa":
		priv, err := lukkorsa.GenerateRSAKey(lukkorsa.MinKeyBits)
		if err != nil {
			return err
		}
		raw = priv.(*lukkorsa.RSAPrivateKey).Key()
	default:
		return ErrUnsupportedKeyType
	}

	block, err := xssh.MarshalPrivateKey(raw, "")
	if err != nil {
		return oops.Errorf("failed to marshal host key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return oops.Errorf("failed to write host key: %w", err)
	}
	return nil
}
