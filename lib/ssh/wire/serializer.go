package wire

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// ErrPacketTooLarge is returned when a write would exceed the fixed
// serializer buffer.
var ErrPacketTooLarge = oops.Errorf("packet too large")

// Serializer composes one outbound packet payload in a fixed buffer of
// MaxPacketSize bytes. It is not safe for concurrent use; callers declare
// one per outbound message.
type Serializer struct {
	skip     int
	position int
	buffer   [MaxPacketSize]byte
}

// Reset discards all written data, including any skip offset.
func (s *Serializer) Reset() {
	s.skip = 0
	s.position = 0
}

// Len returns the number of payload bytes written so far.
func (s *Serializer) Len() int {
	return s.position - s.skip
}

// BeginWriteN returns a scratch slice of n bytes at the current position
// without committing it.
func (s *Serializer) BeginWriteN(n int) ([]byte, error) {
	if n > len(s.buffer)-s.position {
		return nil, ErrPacketTooLarge
	}
	return s.buffer[s.position : s.position+n], nil
}

// CommitWriteN commits n bytes previously obtained from BeginWriteN.
func (s *Serializer) CommitWriteN(n int) {
	s.position += n
}

// WriteN returns a committed slice of n bytes for the caller to fill.
func (s *Serializer) WriteN(n int) ([]byte, error) {
	b, err := s.BeginWriteN(n)
	if err != nil {
		return nil, err
	}
	s.CommitWriteN(n)
	return b, nil
}

// WriteZero appends n zero bytes.
func (s *Serializer) WriteZero(n int) error {
	b, err := s.WriteN(n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = 0
	}
	return nil
}

// Write appends src.
func (s *Serializer) Write(src []byte) error {
	b, err := s.WriteN(len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (s *Serializer) WriteU8(v uint8) error {
	b, err := s.WriteN(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (s *Serializer) WriteMessageNumber(v MessageNumber) error {
	return s.WriteU8(uint8(v))
}

func (s *Serializer) WriteBool(v bool) error {
	if v {
		return s.WriteU8(1)
	}
	return s.WriteU8(0)
}

func (s *Serializer) WriteU16(v uint16) error {
	b, err := s.WriteN(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (s *Serializer) WriteU32(v uint32) error {
	b, err := s.WriteN(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (s *Serializer) WriteU64(v uint64) error {
	b, err := s.WriteN(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// WriteString appends an ssh-string: u32 length followed by the bytes.
// Used for both binary blobs and UTF-8 text.
func (s *Serializer) WriteString(v string) error {
	if err := s.WriteU32(uint32(len(v))); err != nil {
		return err
	}
	return s.Write([]byte(v))
}

// WriteLengthEncoded appends a binary blob as an ssh-string.
func (s *Serializer) WriteLengthEncoded(src []byte) error {
	if err := s.WriteU32(uint32(len(src))); err != nil {
		return err
	}
	return s.Write(src)
}

// WriteBignum2 appends an mpint: strip leading zeroes, then prepend a zero
// byte if the high bit of the first remaining byte is set so the value
// stays non-negative. Empty input serializes as length 0.
func (s *Serializer) WriteBignum2(src []byte) error {
	// skip leading zeroes
	for len(src) > 0 && src[0] == 0 {
		src = src[1:]
	}

	leadingMSB := len(src) > 0 && src[0]&0x80 != 0

	length := len(src)
	if leadingMSB {
		length++
	}
	if err := s.WriteU32(uint32(length)); err != nil {
		return err
	}

	if leadingMSB {
		// prepend zero, it's not negative
		if err := s.WriteU8(0); err != nil {
			return err
		}
	}

	return s.Write(src)
}

// WriteNameList appends a comma-separated name-list as an ssh-string.
func (s *Serializer) WriteNameList(names []string) error {
	total := 0
	for i, n := range names {
		if i > 0 {
			total++
		}
		total += len(n)
	}
	if err := s.WriteU32(uint32(total)); err != nil {
		return err
	}
	for i, n := range names {
		if i > 0 {
			if err := s.WriteU8(','); err != nil {
				return err
			}
		}
		if err := s.Write([]byte(n)); err != nil {
			return err
		}
	}
	return nil
}

// Mark returns the current position for a later Rewind or Since.
func (s *Serializer) Mark() int {
	return s.position
}

// Rewind truncates the buffer back to a position obtained from Mark.
func (s *Serializer) Rewind(old int) {
	s.position = old
}

// Since returns the bytes written after the given mark.
func (s *Serializer) Since(old int) []byte {
	return s.buffer[old:s.position]
}

// PrepareLength reserves a u32 length field and returns its position for
// CommitLength.
func (s *Serializer) PrepareLength() (int, error) {
	at := s.position
	if err := s.WriteU32(0); err != nil {
		return 0, err
	}
	return at, nil
}

// CommitLength patches a length field reserved with PrepareLength to the
// number of bytes written after it.
func (s *Serializer) CommitLength(at int) {
	binary.BigEndian.PutUint32(s.buffer[at:], uint32(s.position-at-4))
}

// Skip marks the first n written bytes as consumed; Finish will not return
// them.
func (s *Serializer) Skip(n int) {
	s.skip += n
}

// Finish returns the composed bytes.
func (s *Serializer) Finish() []byte {
	return s.buffer[s.skip:s.position]
}
