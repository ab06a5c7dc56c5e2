package cipher

import (
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrPacketTooLarge = oops.Errorf("packet exceeds maximum size")
	ErrPacketTooSmall = oops.Errorf("packet below minimum size")
	ErrBadPadding     = oops.Errorf("invalid packet padding")
	ErrMACFailure     = oops.Errorf("message authentication failure")
	ErrUnknownCipher  = oops.Errorf("unknown cipher algorithm")
)

// Cipher algorithm names negotiated in KEXINIT.
const (
	ChaCha20Poly1305 = "chacha20-poly1305@openssh.com"
	AES128CTR        = "aes128-ctr"

	HMACSHA256 = "hmac-sha2-256"
)

// PacketCipher frames, encrypts and authenticates packets for one
// direction. Implementations keep internal scratch buffers; a returned
// payload is only valid until the next call.
type PacketCipher interface {
	// ReadPacket reads one packet from r, verifies its MAC or AEAD tag,
	// decrypts it and returns the payload with padding stripped.
	ReadPacket(seqNum uint32, r io.Reader) ([]byte, error)

	// WritePacket pads, encrypts and authenticates payload and writes the
	// framed packet to w. rand supplies the padding bytes.
	WritePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error

	// BlockSize returns the padding alignment of the cipher.
	BlockSize() int
}

// Mode describes the key material one cipher algorithm consumes.
type Mode struct {
	KeySize    int
	IVSize     int
	MACKeySize int
	Create     func(key, iv, macKey []byte) (PacketCipher, error)
}

// Modes registers the supported cipher algorithms. hmac-sha2-256 is the
// only MAC offered for non-AEAD ciphers, so the MAC choice is folded into
// the mode.
var Modes = map[string]*Mode{
	ChaCha20Poly1305: {
		KeySize:    64,
		IVSize:     0,
		MACKeySize: 0,
		Create: func(key, iv, macKey []byte) (PacketCipher, error) {
			return newChaCha20Poly1305(key)
		},
	},
	AES128CTR: {
		KeySize:    16,
		IVSize:     16,
		MACKeySize: 32,
		Create: func(key, iv, macKey []byte) (PacketCipher, error) {
			return newCTRCipher(key, iv, macKey)
		},
	},
}

// New creates the packet cipher for the negotiated algorithm name.
func New(name string, key, iv, macKey []byte) (PacketCipher, error) {
	mode, ok := Modes[name]
	if !ok {
		return nil, ErrUnknownCipher
	}
	return mode.Create(key, iv, macKey)
}
