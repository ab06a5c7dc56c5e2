package keys

import (
	"bytes"
	"path/filepath"
	"testing"

	lukkoecdsa "github.com/pfirsich/cm4all-lukko/lib/crypto/ecdsa"
	lukkoed25519 "github.com/pfirsich/cm4all-lukko/lib/crypto/ed25519"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndLoad(t *testing.T) {
	for _, keyType := range []string{"ed25519", "ecdsa"} {
		t.Run(keyType, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "host_key")
			require.NoError(t, Generate(path, keyType))

			hk, err := Load(path)
			require.NoError(t, err)
			assert.NotEmpty(t, hk.PublicKeyBlob())

			// the blob leads with the algorithm name
			r := wire.NewReader(hk.PublicKeyBlob())
			name, err := r.ReadText()
			require.NoError(t, err)
			assert.Equal(t, hk.Algorithm, map[string]string{
				"ed25519": AlgoEd25519,
				"ecdsa":   AlgoECDSA256,
			}[keyType])
			assert.Equal(t, hk.Algorithm, name)
		})
	}
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	hk1, err := LoadOrGenerate(path, "ed25519", true)
	require.NoError(t, err)

	// the second call loads the same key
	hk2, err := LoadOrGenerate(path, "ed25519", true)
	require.NoError(t, err)
	assert.Equal(t, hk1.PublicKeyBlob(), hk2.PublicKeyBlob())

	// missing file without generate fails
	_, err = LoadOrGenerate(filepath.Join(t.TempDir(), "missing"), "ed25519", false)
	assert.Error(t, err)
}

func TestUnsupportedKeyType(t *testing.T) {
	err := Generate(filepath.Join(t.TempDir(), "k"), "dsa")
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestEd25519SignatureBlobRoundTrip(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	priv, err := lukkoed25519.NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)

	hk, err := NewFromSigningKey(AlgoEd25519, priv)
	require.NoError(t, err)

	data := []byte("exchange hash bytes")
	sigBlob, err := hk.Sign(data)
	require.NoError(t, err)

	pk, err := ParsePublicKeyBlob(hk.PublicKeyBlob())
	require.NoError(t, err)
	assert.Equal(t, AlgoEd25519, pk.Algorithm)

	assert.NoError(t, pk.VerifySignatureBlob(data, sigBlob))
	assert.Error(t, pk.VerifySignatureBlob([]byte("other data"), sigBlob))

	// corrupt the signature bytes
	sigBlob[len(sigBlob)-1] ^= 0xff
	assert.Error(t, pk.VerifySignatureBlob(data, sigBlob))
}

func TestECDSASignatureBlobRoundTrip(t *testing.T) {
	priv, err := lukkoecdsa.GenerateP256Key()
	require.NoError(t, err)

	hk, err := NewFromSigningKey(AlgoECDSA256, priv)
	require.NoError(t, err)

	data := []byte("exchange hash bytes")
	sigBlob, err := hk.Sign(data)
	require.NoError(t, err)

	// the signature data holds two mpints, not raw scalars
	r := wire.NewReader(sigBlob)
	algo, err := r.ReadText()
	require.NoError(t, err)
	assert.Equal(t, AlgoECDSA256, algo)
	inner, err := r.ReadString()
	require.NoError(t, err)
	ir := wire.NewReader(inner)
	_, err = ir.ReadBignum2()
	require.NoError(t, err)
	_, err = ir.ReadBignum2()
	require.NoError(t, err)
	assert.Zero(t, ir.Len())

	pk, err := ParsePublicKeyBlob(hk.PublicKeyBlob())
	require.NoError(t, err)
	assert.NoError(t, pk.VerifySignatureBlob(data, sigBlob))
	assert.Error(t, pk.VerifySignatureBlob([]byte("other"), sigBlob))
}

func TestParsePublicKeyBlobRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyBlob([]byte{1, 2, 3})
	assert.Error(t, err)

	var s wire.Serializer
	require.NoError(t, s.WriteString("ssh-dss"))
	_, err = ParsePublicKeyBlob(s.Finish())
	assert.ErrorIs(t, err, ErrUnknownKeyAlgorithm)
}
