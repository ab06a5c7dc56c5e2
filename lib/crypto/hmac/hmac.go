package hmac

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"

	"github.com/samber/oops"
)

var ErrShortKey = oops.Errorf("hmac key too short")

const (
	// SHA256Size is the output size of hmac-sha2-256.
	SHA256Size = sha256.Size

	// SHA256KeySize is the key length derived for hmac-sha2-256.
	SHA256KeySize = 32
)

// NewSHA256 returns a keyed hmac-sha2-256 instance.
func NewSHA256(key []byte) (hash.Hash, error) {
	if len(key) < SHA256KeySize {
		return nil, ErrShortKey
	}
	return hmac.New(sha256.New, key[:SHA256KeySize]), nil
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
