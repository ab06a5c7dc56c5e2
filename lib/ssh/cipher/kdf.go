package cipher

import (
	"crypto/sha256"
	"hash"
)

// Key derivation letters from RFC 4253 section 7.2: client-to-server IV,
// server-to-client IV, encryption keys, integrity keys.
type Direction struct {
	IVTag     byte
	KeyTag    byte
	MACKeyTag byte
}

var (
	ClientToServer = Direction{'A', 'C', 'E'}
	ServerToClient = Direction{'B', 'D', 'F'}
)

// KexResult is the key material a completed exchange feeds into key
// derivation.
type KexResult struct {
	// K is the shared secret, already encoded as an mpint.
	K []byte

	// H is the exchange hash of this exchange.
	H []byte

	// SessionID is the first exchange hash of the connection; it never
	// changes across rekeys.
	SessionID []byte

	// Hash is the KEX hash algorithm.
	Hash func() hash.Hash
}

// DeriveKeys produces IV, cipher key and MAC key for one direction per the
// negotiated mode's sizes.
func DeriveKeys(d Direction, mode *Mode, kex *KexResult) (iv, key, macKey []byte) {
	iv = make([]byte, mode.IVSize)
	key = make([]byte, mode.KeySize)
	macKey = make([]byte, mode.MACKeySize)

	generateKeyMaterial(iv, d.IVTag, kex)
	generateKeyMaterial(key, d.KeyTag, kex)
	generateKeyMaterial(macKey, d.MACKeyTag, kex)
	return
}

// NewPacketCipher derives the keys for one direction and constructs its
// packet cipher.
func NewPacketCipher(d Direction, algorithm string, kex *KexResult) (PacketCipher, error) {
	mode, ok := Modes[algorithm]
	if !ok {
		return nil, ErrUnknownCipher
	}
	iv, key, macKey := DeriveKeys(d, mode, kex)
	return mode.Create(key, iv, macKey)
}

// generateKeyMaterial fills out with key material: K1 = HASH(K || H || tag
// || session_id), Kn+1 = HASH(K || H || K1 || ... || Kn).
func generateKeyMaterial(out []byte, tag byte, r *KexResult) {
	var digestsSoFar []byte

	h := r.Hash()
	for len(out) > 0 {
		h.Reset()
		h.Write(r.K)
		h.Write(r.H)

		if len(digestsSoFar) == 0 {
			h.Write([]byte{tag})
			h.Write(r.SessionID)
		} else {
			h.Write(digestsSoFar)
		}

		digest := h.Sum(nil)
		n := copy(out, digest)
		out = out[n:]
		if len(out) > 0 {
			digestsSoFar = append(digestsSoFar, digest...)
		}
	}
}

// SHA256 is the hash constructor for the supported KEX algorithms.
func SHA256() hash.Hash {
	return sha256.New()
}
