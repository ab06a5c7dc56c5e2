package wire

import (
	"encoding/binary"
	"strings"

	"github.com/samber/oops"
)

// ErrTruncated is returned when a packet payload ends in the middle of a
// field.
var ErrTruncated = oops.Errorf("truncated packet")

// Reader parses SSH primitive types out of one packet payload. The zero
// value reads from a nil slice; construct with NewReader.
type Reader struct {
	data []byte
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data)
}

// Rest returns all unread bytes and consumes them.
func (r *Reader) Rest() []byte {
	b := r.data
	r.data = nil
	return b
}

func (r *Reader) ReadN(n int) ([]byte, error) {
	if len(r.data) < n {
		return nil, ErrTruncated
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadMessageNumber() (MessageNumber, error) {
	v, err := r.ReadU8()
	return MessageNumber(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadString reads an ssh-string as raw bytes.
func (r *Reader) ReadString() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.data)) < n {
		return nil, ErrTruncated
	}
	return r.ReadN(int(n))
}

// ReadText reads an ssh-string as text.
func (r *Reader) ReadText() (string, error) {
	b, err := r.ReadString()
	return string(b), err
}

// ReadBignum2 reads an mpint and returns its magnitude bytes with any
// sign-padding zero stripped.
func (r *Reader) ReadBignum2() ([]byte, error) {
	b, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b, nil
}

// ReadNameList reads a comma-separated name-list.
func (r *Reader) ReadNameList() ([]string, error) {
	b, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return strings.Split(string(b), ","), nil
}
