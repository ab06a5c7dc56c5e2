package cipher

import (
	"encoding/binary"
	"io"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// chacha20Poly1305 implements chacha20-poly1305@openssh.com: the packet
// length is encrypted with a separate key and authenticated together with
// the body, the Poly1305 key is derived from the first cipher block of
// each packet, and the nonce is the packet sequence number.
type chacha20Poly1305 struct {
	contentKey [32]byte
	lengthKey  [32]byte
	buf        []byte
}

func newChaCha20Poly1305(key []byte) (PacketCipher, error) {
	if len(key) != 64 {
		return nil, ErrUnknownCipher
	}
	c := &chacha20Poly1305{buf: make([]byte, 256)}
	copy(c.contentKey[:], key[:32])
	copy(c.lengthKey[:], key[32:])
	return c, nil
}

func (c *chacha20Poly1305) BlockSize() int {
	return wire.MinBlockSize
}

func (c *chacha20Poly1305) nonce(seqNum uint32) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint32(nonce[8:], seqNum)
	return nonce
}

func (c *chacha20Poly1305) ReadPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	nonce := c.nonce(seqNum)
	s, err := chacha20.NewUnauthenticatedCipher(c.contentKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	var polyKey [32]byte
	s.XORKeyStream(polyKey[:], polyKey[:])
	s.SetCounter(1) // skip the rest of the first block

	encryptedLength := c.buf[:4]
	if _, err := io.ReadFull(r, encryptedLength); err != nil {
		return nil, err
	}

	var lenBytes [4]byte
	ls, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	ls.XORKeyStream(lenBytes[:], encryptedLength)

	length := binary.BigEndian.Uint32(lenBytes[:])
	if length > wire.MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	if length < 4 {
		return nil, ErrPacketTooSmall
	}

	contentEnd := 4 + length
	packetEnd := contentEnd + poly1305.TagSize
	if uint32(cap(c.buf)) < packetEnd {
		grown := make([]byte, packetEnd)
		copy(grown, encryptedLength)
		c.buf = grown
	} else {
		c.buf = c.buf[:packetEnd]
	}

	if _, err := io.ReadFull(r, c.buf[4:packetEnd]); err != nil {
		return nil, err
	}

	var mac [poly1305.TagSize]byte
	copy(mac[:], c.buf[contentEnd:packetEnd])
	if !poly1305.Verify(&mac, c.buf[:contentEnd], &polyKey) {
		return nil, ErrMACFailure
	}

	plain := c.buf[4:contentEnd]
	s.XORKeyStream(plain, plain)

	if len(plain) == 0 {
		return nil, ErrPacketTooSmall
	}
	paddingLength := uint32(plain[0])
	if paddingLength < wire.MinPaddingSize || paddingLength+1 >= length {
		return nil, ErrBadPadding
	}

	return plain[1 : length-paddingLength], nil
}

func (c *chacha20Poly1305) WritePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	if len(payload) > wire.MaxPacketSize-16 {
		return ErrPacketTooLarge
	}

	nonce := c.nonce(seqNum)
	s, err := chacha20.NewUnauthenticatedCipher(c.contentKey[:], nonce[:])
	if err != nil {
		return err
	}
	var polyKey [32]byte
	s.XORKeyStream(polyKey[:], polyKey[:])
	s.SetCounter(1)

	// the length field is associated data, so it does not participate in
	// the padding alignment
	paddingLength := wire.PaddingLength(1+len(payload), wire.MinBlockSize)
	if 1+len(payload)+paddingLength < wire.MinPacketSize {
		// tiny payloads: one more block keeps the packet at the minimum
		paddingLength += wire.MinBlockSize
	}
	length := 1 + len(payload) + paddingLength

	required := 4 + length + poly1305.TagSize
	if cap(c.buf) < required {
		c.buf = make([]byte, required)
	} else {
		c.buf = c.buf[:required]
	}

	binary.BigEndian.PutUint32(c.buf[:4], uint32(length))
	ls, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return err
	}
	ls.XORKeyStream(c.buf[:4], c.buf[:4])

	c.buf[4] = byte(paddingLength)
	copy(c.buf[5:], payload)
	if _, err := io.ReadFull(rand, c.buf[5+len(payload):4+length]); err != nil {
		return err
	}

	s.XORKeyStream(c.buf[4:4+length], c.buf[4:4+length])

	var mac [poly1305.TagSize]byte
	poly1305.Sum(&mac, c.buf[:4+length], &polyKey)
	copy(c.buf[4+length:], mac[:])

	_, err = w.Write(c.buf)
	return err
}
