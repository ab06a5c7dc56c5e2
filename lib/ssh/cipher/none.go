package cipher

import (
	"encoding/binary"
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

// noneCipher is the initial transport state before the first NEWKEYS: no
// encryption, no MAC, 8-byte padding alignment.
type noneCipher struct {
	prefix     [5]byte
	packetData []byte
}

// NewNone returns the cleartext packet framing used before key exchange
// completes.
func NewNone() PacketCipher {
	return &noneCipher{}
}

func (c *noneCipher) BlockSize() int {
	return wire.MinBlockSize
}

func (c *noneCipher) ReadPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(r, c.prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(c.prefix[0:4])
	paddingLength := uint32(c.prefix[4])

	if length > wire.MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	if length < wire.MinPacketSize-4 || length <= paddingLength+1 {
		return nil, ErrPacketTooSmall
	}
	if paddingLength < wire.MinPaddingSize {
		return nil, ErrBadPadding
	}

	if cap(c.packetData) < int(length-1) {
		c.packetData = make([]byte, length-1)
	} else {
		c.packetData = c.packetData[:length-1]
	}
	if _, err := io.ReadFull(r, c.packetData); err != nil {
		return nil, err
	}

	return c.packetData[:length-1-paddingLength], nil
}

func (c *noneCipher) WritePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	if len(payload) > wire.MaxPacketSize-16 {
		return ErrPacketTooLarge
	}

	paddingLength := wire.PaddingLength(5+len(payload), wire.MinBlockSize)
	length := 1 + len(payload) + paddingLength

	binary.BigEndian.PutUint32(c.prefix[:4], uint32(length))
	c.prefix[4] = byte(paddingLength)

	padding := make([]byte, paddingLength)
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}

	if _, err := w.Write(c.prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write(padding)
	return err
}
