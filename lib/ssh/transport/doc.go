// Package transport implements the SSH transport layer for server-side
// connections.
//
// # Overview
//
// The transport layer frames, encrypts and authenticates SSH packets:
//   - Version exchange: identification lines captured for the exchange hash
//   - Binary packet protocol: length, padding, payload, MAC (RFC 4253)
//   - Key exchange: curve25519-sha256 and ecdh-sha2-nistp256
//   - Rekeying: byte and packet counters restart the exchange mid-stream
//
// # Crypto contexts
//
// Each direction owns a packet cipher, a sequence number and traffic
// counters. Pending contexts built during key exchange are installed
// atomically at the NEWKEYS boundaries: the send context right after our
// NEWKEYS hits the wire, the receive context when the peer's NEWKEYS
// arrives. Until both transitions the old context still serves the other
// direction.
//
// # Thread Safety
//
// ReadPacket and the Handle* methods belong to the connection's read
// loop. WritePacket is safe from any goroutine: packets go through a
// bounded queue drained by a writer goroutine that owns all send-side
// state.
package transport
