package connection

import "github.com/pfirsich/cm4all-lukko/lib/ssh/wire"

// BufferedHandler is the consumer side of a BufferedChannel: it receives
// a contiguous byte stream instead of framed datagrams and reports how
// much of each slice it actually consumed.
type BufferedHandler interface {
	// OnBufferedData receives the largest contiguous slice available and
	// returns the number of bytes consumed; the rest stays buffered.
	OnBufferedData(data []byte) (int, error)

	// OnBufferedEOF fires after the peer's EOF once the buffer drained.
	OnBufferedEOF() error

	OnExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error
	OnRequest(requestType string, payload []byte) (bool, error)
	OnWriteBlocked()
	OnWriteUnblocked()
	OnClose()
}

// BufferedChannel adapts a BufferedHandler to the Handler interface: it
// reassembles partial payloads into a rolling buffer and retries after
// each arrival or explicit wakeup. The in-process SFTP server and the
// child stdin pump consume through it.
type BufferedChannel struct {
	inner BufferedHandler

	buf     []byte
	eof     bool
	eofSent bool
}

func NewBufferedChannel(inner BufferedHandler) *BufferedChannel {
	return &BufferedChannel{inner: inner}
}

// Pending returns the number of buffered, not yet consumed bytes.
func (b *BufferedChannel) Pending() int {
	return len(b.buf)
}

// Wakeup retries delivery of buffered data; consumers call it when they
// can accept bytes again (e.g. child stdin became writable).
func (b *BufferedChannel) Wakeup() error {
	return b.drain()
}

func (b *BufferedChannel) drain() error {
	for len(b.buf) > 0 {
		consumed, err := b.inner.OnBufferedData(b.buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			// consumer is saturated; keep the rest for the next wakeup
			return nil
		}
		remaining := len(b.buf) - consumed
		copy(b.buf, b.buf[consumed:])
		b.buf = b.buf[:remaining]
	}
	if b.eof && !b.eofSent {
		b.eofSent = true
		return b.inner.OnBufferedEOF()
	}
	return nil
}

func (b *BufferedChannel) OnData(payload []byte) error {
	if len(b.buf) == 0 {
		// fast path: hand the payload over without copying first
		consumed, err := b.inner.OnBufferedData(payload)
		if err != nil {
			return err
		}
		payload = payload[consumed:]
	}
	if len(payload) > 0 {
		b.buf = append(b.buf, payload...)
	}
	return b.drain()
}

func (b *BufferedChannel) OnExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error {
	return b.inner.OnExtendedData(dataType, payload)
}

func (b *BufferedChannel) OnEOF() error {
	b.eof = true
	return b.drain()
}

func (b *BufferedChannel) OnRequest(requestType string, payload []byte) (bool, error) {
	return b.inner.OnRequest(requestType, payload)
}

func (b *BufferedChannel) OnWriteBlocked() {
	b.inner.OnWriteBlocked()
}

func (b *BufferedChannel) OnWriteUnblocked() {
	b.inner.OnWriteUnblocked()
}

func (b *BufferedChannel) OnClose() {
	b.inner.OnClose()
}
