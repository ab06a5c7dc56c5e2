// Package connection implements the SSH connection layer: the channel
// table, per-channel flow-control windows and request dispatch.
//
// A Channel carries the generic state (ids, windows, close handshake);
// the type-specific behavior is a Handler supplied by the channel
// factory. BufferedChannel adapts a datagram Handler into a contiguous
// byte stream for consumers that want bytes, not frames.
//
// Incoming CHANNEL_DATA debits the local window and triggers a
// WINDOW_ADJUST refill once it falls below half of the initial window.
// Outgoing data blocks while the peer window is exhausted; the channel's
// handler is notified through OnWriteBlocked/OnWriteUnblocked so it can
// pause its data source.
package connection
