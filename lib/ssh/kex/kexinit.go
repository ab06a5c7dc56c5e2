package kex

import (
	"crypto/rand"
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/samber/oops"
)

// KexInit is the algorithm advertisement each side sends at the start of
// every key exchange (RFC 4253 section 7.1).
type KexInit struct {
	Cookie                  [wire.KexCookieSize]byte
	KexAlgorithms           []string
	HostKeyAlgorithms       []string
	CiphersClientToServer   []string
	CiphersServerToClient   []string
	MACsClientToServer      []string
	MACsServerToClient      []string
	CompressionC2S          []string
	CompressionS2C          []string
	LanguagesClientToServer []string
	LanguagesServerToClient []string
	FirstKexPacketFollows   bool
}

// NewServerKexInit builds our KEXINIT from the supported algorithm tables
// with a fresh random cookie.
func NewServerKexInit() (*KexInit, error) {
	ki := &KexInit{
		KexAlgorithms:         SupportedKexAlgorithms,
		HostKeyAlgorithms:     SupportedHostKeyAlgorithms,
		CiphersClientToServer: SupportedCiphers,
		CiphersServerToClient: SupportedCiphers,
		MACsClientToServer:    SupportedMACs,
		MACsServerToClient:    SupportedMACs,
		CompressionC2S:        SupportedCompression,
		CompressionS2C:        SupportedCompression,
	}
	if _, err := io.ReadFull(rand.Reader, ki.Cookie[:]); err != nil {
		return nil, oops.Errorf("failed to generate KEXINIT cookie: %w", err)
	}
	return ki, nil
}

// Marshal appends the KEXINIT packet payload (message number included) to
// the serializer.
func (ki *KexInit) Marshal(s *wire.Serializer) error {
	if err := s.WriteMessageNumber(wire.MsgKexInit); err != nil {
		return err
	}
	if err := s.Write(ki.Cookie[:]); err != nil {
		return err
	}
	for _, list := range [][]string{
		ki.KexAlgorithms,
		ki.HostKeyAlgorithms,
		ki.CiphersClientToServer,
		ki.CiphersServerToClient,
		ki.MACsClientToServer,
		ki.MACsServerToClient,
		ki.CompressionC2S,
		ki.CompressionS2C,
		ki.LanguagesClientToServer,
		ki.LanguagesServerToClient,
	} {
		if err := s.WriteNameList(list); err != nil {
			return err
		}
	}
	if err := s.WriteBool(ki.FirstKexPacketFollows); err != nil {
		return err
	}
	return s.WriteU32(0) // reserved
}

// ParseKexInit parses a KEXINIT payload. The message number must already
// have been consumed by the dispatcher.
func ParseKexInit(r *wire.Reader) (*KexInit, error) {
	ki := new(KexInit)

	cookie, err := r.ReadN(wire.KexCookieSize)
	if err != nil {
		return nil, err
	}
	copy(ki.Cookie[:], cookie)

	for _, dst := range []*[]string{
		&ki.KexAlgorithms,
		&ki.HostKeyAlgorithms,
		&ki.CiphersClientToServer,
		&ki.CiphersServerToClient,
		&ki.MACsClientToServer,
		&ki.MACsServerToClient,
		&ki.CompressionC2S,
		&ki.CompressionS2C,
		&ki.LanguagesClientToServer,
		&ki.LanguagesServerToClient,
	} {
		list, err := r.ReadNameList()
		if err != nil {
			return nil, err
		}
		*dst = list
	}

	if ki.FirstKexPacketFollows, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if _, err = r.ReadU32(); err != nil { // reserved
		return nil, err
	}
	return ki, nil
}
