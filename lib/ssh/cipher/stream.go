package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"encoding/binary"
	"hash"
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/crypto/hmac"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

const prefixLen = 5

// ctrCipher is aes128-ctr with hmac-sha2-256 (MAC over the plaintext,
// RFC 4253 layout: the whole packet after the length field is encrypted).
type ctrCipher struct {
	mac    hash.Hash
	stream stdcipher.Stream

	// scratch buffers to avoid per-packet allocations
	prefix      [prefixLen]byte
	seqNumBytes [4]byte
	padding     [2 * aes.BlockSize]byte
	packetData  []byte
	macResult   []byte
}

func newCTRCipher(key, iv, macKey []byte) (PacketCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mac, err := hmac.NewSHA256(macKey)
	if err != nil {
		return nil, err
	}
	return &ctrCipher{
		mac:    mac,
		stream: stdcipher.NewCTR(block, iv),
	}, nil
}

func (c *ctrCipher) BlockSize() int {
	return aes.BlockSize
}

func (c *ctrCipher) ReadPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(r, c.prefix[:]); err != nil {
		return nil, err
	}
	c.stream.XORKeyStream(c.prefix[:], c.prefix[:])

	length := binary.BigEndian.Uint32(c.prefix[0:4])
	paddingLength := uint32(c.prefix[4])

	if length > wire.MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	if length <= paddingLength+1 || length < wire.MinPacketSize-4 {
		return nil, ErrPacketTooSmall
	}
	if paddingLength < wire.MinPaddingSize {
		return nil, ErrBadPadding
	}

	c.mac.Reset()
	binary.BigEndian.PutUint32(c.seqNumBytes[:], seqNum)
	c.mac.Write(c.seqNumBytes[:])
	c.mac.Write(c.prefix[:])

	macSize := uint32(c.mac.Size())
	if cap(c.packetData) < int(length-1+macSize) {
		c.packetData = make([]byte, length-1+macSize)
	} else {
		c.packetData = c.packetData[:length-1+macSize]
	}
	if _, err := io.ReadFull(r, c.packetData); err != nil {
		return nil, err
	}

	mac := c.packetData[length-1:]
	data := c.packetData[:length-1]
	c.stream.XORKeyStream(data, data)

	c.mac.Write(data)
	c.macResult = c.mac.Sum(c.macResult[:0])
	if !hmac.Equal(c.macResult, mac) {
		return nil, ErrMACFailure
	}

	return c.packetData[:length-paddingLength-1], nil
}

func (c *ctrCipher) WritePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	if len(payload) > wire.MaxPacketSize-16 {
		return ErrPacketTooLarge
	}

	paddingLength := wire.PaddingLength(prefixLen+len(payload), aes.BlockSize)
	length := len(payload) + 1 + paddingLength
	binary.BigEndian.PutUint32(c.prefix[:], uint32(length))
	c.prefix[4] = byte(paddingLength)

	padding := c.padding[:paddingLength]
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}

	c.mac.Reset()
	binary.BigEndian.PutUint32(c.seqNumBytes[:], seqNum)
	c.mac.Write(c.seqNumBytes[:])
	c.mac.Write(c.prefix[:])
	c.mac.Write(payload)
	c.mac.Write(padding)
	c.macResult = c.mac.Sum(c.macResult[:0])

	// encrypt in place: prefix, payload, padding
	total := prefixLen + len(payload) + paddingLength
	if cap(c.packetData) < total {
		c.packetData = make([]byte, total)
	} else {
		c.packetData = c.packetData[:total]
	}
	copy(c.packetData, c.prefix[:])
	copy(c.packetData[prefixLen:], payload)
	copy(c.packetData[prefixLen+len(payload):], padding)
	c.stream.XORKeyStream(c.packetData, c.packetData)

	if _, err := w.Write(c.packetData); err != nil {
		return err
	}
	_, err := w.Write(c.macResult)
	return err
}
