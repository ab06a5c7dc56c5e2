package kex

import (
	"bytes"
	"testing"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/curve25519"
	lukkoed25519 "github.com/pfirsich/cm4all-lukko/lib/crypto/ed25519"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKexInitRoundTrip(t *testing.T) {
	ki, err := NewServerKexInit()
	require.NoError(t, err)

	var s wire.Serializer
	require.NoError(t, ki.Marshal(&s))

	payload := s.Finish()
	require.Equal(t, uint8(wire.MsgKexInit), payload[0])

	parsed, err := ParseKexInit(wire.NewReader(payload[1:]))
	require.NoError(t, err)

	assert.Equal(t, ki.Cookie, parsed.Cookie)
	assert.Equal(t, ki.KexAlgorithms, parsed.KexAlgorithms)
	assert.Equal(t, ki.HostKeyAlgorithms, parsed.HostKeyAlgorithms)
	assert.Equal(t, ki.CiphersClientToServer, parsed.CiphersClientToServer)
	assert.Equal(t, ki.MACsServerToClient, parsed.MACsServerToClient)
	assert.False(t, parsed.FirstKexPacketFollows)
}

func TestNegotiatePrefersClientOrder(t *testing.T) {
	server, err := NewServerKexInit()
	require.NoError(t, err)

	client := &KexInit{
		KexAlgorithms:         []string{ECDHSHA2NISTP256, Curve25519SHA256},
		HostKeyAlgorithms:     []string{"rsa-sha2-256", "ssh-ed25519"},
		CiphersClientToServer: []string{"aes128-ctr"},
		CiphersServerToClient: []string{"chacha20-poly1305@openssh.com"},
		MACsClientToServer:    []string{"hmac-sha2-256"},
		MACsServerToClient:    []string{"hmac-sha2-256"},
		CompressionC2S:        []string{"none"},
		CompressionS2C:        []string{"none"},
	}

	algs, err := Negotiate(client, server)
	require.NoError(t, err)

	assert.Equal(t, ECDHSHA2NISTP256, algs.Kex)
	assert.Equal(t, "rsa-sha2-256", algs.HostKey)
	assert.Equal(t, "aes128-ctr", algs.CipherC2S)
	assert.Equal(t, "chacha20-poly1305@openssh.com", algs.CipherS2C)
	assert.Equal(t, "hmac-sha2-256", algs.MACC2S)
	// AEAD server-to-client implies its MAC
	assert.Empty(t, algs.MACS2C)
}

func TestNegotiateNoMatch(t *testing.T) {
	server, err := NewServerKexInit()
	require.NoError(t, err)

	client := &KexInit{
		KexAlgorithms:         []string{"diffie-hellman-group1-sha1"},
		HostKeyAlgorithms:     []string{"ssh-ed25519"},
		CiphersClientToServer: []string{"aes128-ctr"},
		CiphersServerToClient: []string{"aes128-ctr"},
		MACsClientToServer:    []string{"hmac-sha2-256"},
		MACsServerToClient:    []string{"hmac-sha2-256"},
		CompressionC2S:        []string{"none"},
		CompressionS2C:        []string{"none"},
	}

	_, err = Negotiate(client, server)
	assert.Error(t, err)
}

func TestCurve25519DeterministicExchange(t *testing.T) {
	// fixed ephemerals make the whole exchange reproducible
	clientScalar := bytes.Repeat([]byte{0x11}, 32)
	serverScalar := bytes.Repeat([]byte{0x22}, 32)

	clientKp, err := curve25519.NewKeyPairFromScalar(clientScalar)
	require.NoError(t, err)
	server := &curve25519Exchange{fixed: serverScalar}

	serverPub1, secret1, err := server.ServerExchange(clientKp.Public())
	require.NoError(t, err)
	serverPub2, secret2, err := server.ServerExchange(clientKp.Public())
	require.NoError(t, err)

	assert.Equal(t, serverPub1, serverPub2)
	assert.Equal(t, secret1, secret2)

	// the client computes the same secret from the server's public value
	clientSecret, err := clientKp.SharedSecret(serverPub1)
	require.NoError(t, err)
	assert.Equal(t, secret1, clientSecret)
}

func TestExchangeHashDeterministicAndSigned(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	priv, err := lukkoed25519.NewPrivateKeyFromSeed(seed)
	require.NoError(t, err)
	signer, err := priv.NewSigner()
	require.NoError(t, err)
	pub, err := priv.Public()
	require.NoError(t, err)

	clientScalar := bytes.Repeat([]byte{0x11}, 32)
	serverScalar := bytes.Repeat([]byte{0x22}, 32)
	clientKp, err := curve25519.NewKeyPairFromScalar(clientScalar)
	require.NoError(t, err)
	server := &curve25519Exchange{fixed: serverScalar}

	clientPub := clientKp.Public()
	serverPub, secret, err := server.ServerExchange(clientPub)
	require.NoError(t, err)

	in := &ExchangeHashInput{
		ClientVersion: "SSH-2.0-client",
		ServerVersion: "SSH-2.0-lukko",
		ClientKexInit: []byte{20, 1, 2, 3},
		ServerKexInit: []byte{20, 4, 5, 6},
		HostKeyBlob:   pub.Bytes(),
		ClientPublic:  clientPub,
		ServerPublic:  serverPub,
		Secret:        secret,
	}

	h1, err := in.Build(server.Hash())
	require.NoError(t, err)
	h2, err := in.Build(server.Hash())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)

	// any transcript change must change the hash
	in.ClientVersion = "SSH-2.0-other"
	h3, err := in.Build(server.Hash())
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	sig, err := signer.Sign(h1)
	require.NoError(t, err)
	verifier, err := pub.NewVerifier()
	require.NoError(t, err)
	assert.NoError(t, verifier.Verify(h1, sig))
	assert.Error(t, verifier.Verify(h3, sig))
}

func TestEncodeSecret(t *testing.T) {
	// high bit set: the mpint form grows by the sign byte
	encoded, err := EncodeSecret([]byte{0x80, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 3, 0, 0x80, 0x01}, encoded)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := New("diffie-hellman-group14-sha1")
	assert.ErrorIs(t, err, ErrUnknownKexAlgorithm)
}
