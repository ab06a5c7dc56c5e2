package kex

import (
	"github.com/pfirsich/cm4all-lukko/lib/ssh/cipher"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var ErrNoCommonAlgorithm = oops.Errorf("no common algorithm")

// Supported algorithm tables, in server preference order. Negotiation is
// client-preference: the first client name the server also supports wins.
var (
	SupportedKexAlgorithms = []string{
		Curve25519SHA256,
		ECDHSHA2NISTP256,
	}
	SupportedHostKeyAlgorithms = []string{
		"ssh-ed25519",
		"ecdsa-sha2-nistp256",
		"rsa-sha2-256",
	}
	SupportedCiphers = []string{
		cipher.ChaCha20Poly1305,
		cipher.AES128CTR,
	}
	SupportedMACs = []string{
		cipher.HMACSHA256,
	}
	SupportedCompression = []string{
		"none",
	}
)

// Algorithms is the outcome of KEXINIT negotiation.
type Algorithms struct {
	Kex            string
	HostKey        string
	CipherC2S      string
	CipherS2C      string
	MACC2S         string
	MACS2C         string
	CompressionC2S string
	CompressionS2C string
}

func findAgreed(client, server []string) (string, error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", ErrNoCommonAlgorithm
}

// Negotiate picks the agreed algorithm for every list. An AEAD cipher
// implies its own MAC, so the MAC lists are only consulted for non-AEAD
// ciphers.
func Negotiate(client, server *KexInit) (*Algorithms, error) {
	algs := new(Algorithms)
	var err error

	if algs.Kex, err = findAgreed(client.KexAlgorithms, server.KexAlgorithms); err != nil {
		return nil, oops.Errorf("no common key exchange algorithm: %w", err)
	}
	if algs.HostKey, err = findAgreed(client.HostKeyAlgorithms, server.HostKeyAlgorithms); err != nil {
		return nil, oops.Errorf("no common host key algorithm: %w", err)
	}
	if algs.CipherC2S, err = findAgreed(client.CiphersClientToServer, server.CiphersClientToServer); err != nil {
		return nil, oops.Errorf("no common client-to-server cipher: %w", err)
	}
	if algs.CipherS2C, err = findAgreed(client.CiphersServerToClient, server.CiphersServerToClient); err != nil {
		return nil, oops.Errorf("no common server-to-client cipher: %w", err)
	}

	if algs.CipherC2S != cipher.ChaCha20Poly1305 {
		if algs.MACC2S, err = findAgreed(client.MACsClientToServer, server.MACsClientToServer); err != nil {
			return nil, oops.Errorf("no common client-to-server MAC: %w", err)
		}
	}
	if algs.CipherS2C != cipher.ChaCha20Poly1305 {
		if algs.MACS2C, err = findAgreed(client.MACsServerToClient, server.MACsServerToClient); err != nil {
			return nil, oops.Errorf("no common server-to-client MAC: %w", err)
		}
	}

	if algs.CompressionC2S, err = findAgreed(client.CompressionC2S, server.CompressionC2S); err != nil {
		return nil, oops.Errorf("no common client-to-server compression: %w", err)
	}
	if algs.CompressionS2C, err = findAgreed(client.CompressionS2C, server.CompressionS2C); err != nil {
		return nil, oops.Errorf("no common server-to-client compression: %w", err)
	}

	log.WithField("kex", algs.Kex).WithField("host_key", algs.HostKey).Debug("Negotiated algorithms")
	return algs, nil
}
