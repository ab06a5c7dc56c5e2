package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/cipher"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrConnClosed    = oops.Errorf("transport connection closed")
	ErrSendQueueFull = oops.Errorf("send queue overflow")
)

// sendQueueDepth bounds the outbound packet queue per connection.
const sendQueueDepth = 256

// writeStallTimeout is how long a sender may wait on a saturated queue
// before the connection is declared dead.
const writeStallTimeout = 2 * time.Minute

// Limits are the rekey thresholds of one connection.
type Limits struct {
	RekeyBytes   uint64
	RekeyPackets uint32
}

// directionState is one half of the crypto state: packet cipher, sequence
// number and the traffic counters feeding the rekey decision. The counters
// are atomic because the send half is mutated on the writer goroutine but
// inspected by the read loop's rekey check.
type directionState struct {
	cipher  cipher.PacketCipher
	seq     uint32
	bytes   atomic.Uint64
	packets atomic.Uint32
}

func (d *directionState) account(payloadLen int) {
	d.seq++ // wraps at 2^32 by uint32 arithmetic
	d.bytes.Add(uint64(payloadLen))
	d.packets.Add(1)
}

func (d *directionState) resetCounters() {
	d.bytes.Store(0)
	d.packets.Store(0)
}

type outPacket struct {
	payload []byte

	// newCipher, when non-nil, is installed as the send cipher after this
	// packet (it is the NEWKEYS boundary)
	newCipher cipher.PacketCipher
}

// Conn frames packets over a net.Conn: encryption and MAC per direction,
// sequence numbers, rekey accounting and a bounded send queue drained by a
// writer goroutine.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	clientVersion string
	serverVersion string

	// read state is owned by the read loop goroutine
	recv directionState

	// send state is owned by the writer goroutine
	send directionState

	limits Limits

	// KEX state; hostKey signs exchange hashes, sessionID is the first
	// exchange hash, kex is non-nil while an exchange is in progress
	hostKey   *keys.HostKey
	kex       *kexState
	sessionID []byte

	sendQueue chan outPacket

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	writeErr  error
	errorOnce sync.Once
}

// NewConn wraps an accepted socket. Versions must already have been
// exchanged; both lines are retained for the exchange hash.
func NewConn(ctx context.Context, conn net.Conn, clientVersion, serverVersion string, limits Limits) *Conn {
	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		clientVersion: clientVersion,
		serverVersion: serverVersion,
		recv:          directionState{cipher: cipher.NewNone()},
		send:          directionState{cipher: cipher.NewNone()},
		limits:        limits,
		sendQueue:     make(chan outPacket, sendQueueDepth),
		ctx:           connCtx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.writeWorker()
	return c
}

func (c *Conn) ClientVersion() string { return c.clientVersion }
func (c *Conn) ServerVersion() string { return c.serverVersion }

// Close tears the connection down and waits for the writer to stop. Safe
// to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// Done is closed when the connection is being torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) setWriteError(err error) {
	c.errorOnce.Do(func() {
		c.writeErr = err
		c.cancel()
	})
}

// writeWorker drains the send queue. All socket writes and all send-side
// crypto state live on this goroutine.
func (c *Conn) writeWorker() {
	defer c.wg.Done()

	for {
		select {
		case pkt := <-c.sendQueue:
			if err := c.send.cipher.WritePacket(c.send.seq, c.conn, rand.Reader, pkt.payload); err != nil {
				c.setWriteError(err)
				return
			}
			c.send.account(len(pkt.payload))
			if pkt.newCipher != nil {
				c.send.cipher = pkt.newCipher
				c.send.resetCounters()
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WritePacket enqueues one payload. It blocks while the queue is full and
// fails with ErrConnClosed once the connection is being torn down.
func (c *Conn) WritePacket(payload []byte) error {
	return c.enqueue(outPacket{payload: payload})
}

// WriteBlocked reports whether the send queue is saturated; channels use
// it to pause draining their data sources.
func (c *Conn) WriteBlocked() bool {
	return len(c.sendQueue) == cap(c.sendQueue)
}

func (c *Conn) enqueue(pkt outPacket) error {
	// the payload buffer may be reused by the caller once WritePacket
	// returns, so the queue owns a copy
	owned := make([]byte, len(pkt.payload))
	copy(owned, pkt.payload)
	pkt.payload = owned

	select {
	case c.sendQueue <- pkt:
		return nil
	default:
	}

	// queue full: block until the writer drains it or the connection
	// dies. A peer that stops reading for this long gets dropped instead
	// of growing the queue without bound.
	stall := time.NewTimer(writeStallTimeout)
	defer stall.Stop()
	select {
	case c.sendQueue <- pkt:
		return nil
	case <-stall.C:
		c.setWriteError(ErrSendQueueFull)
		return ErrSendQueueFull
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// writeNewKeys enqueues NEWKEYS with the pending send cipher attached;
// the writer installs it immediately after the packet hits the wire.
func (c *Conn) writeNewKeys(newCipher cipher.PacketCipher) error {
	return c.enqueue(outPacket{
		payload:   []byte{byte(wire.MsgNewKeys)},
		newCipher: newCipher,
	})
}

// ReadPacket reads, verifies and decrypts the next packet. Must only be
// called from the connection's read loop. The returned payload is valid
// until the next call.
func (c *Conn) ReadPacket() ([]byte, error) {
	payload, err := c.recv.cipher.ReadPacket(c.recv.seq, c.reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	c.recv.account(len(payload))

	if len(payload) == 0 {
		return nil, ssherr.Protocol("empty packet payload")
	}
	return payload, nil
}

// installReadCipher switches the receive direction to the negotiated
// cipher; called when the peer's NEWKEYS arrives.
func (c *Conn) installReadCipher(newCipher cipher.PacketCipher) {
	c.recv.cipher = newCipher
	c.recv.resetCounters()
}

// RekeyDue reports whether either direction crossed a rekey threshold.
func (c *Conn) RekeyDue() bool {
	if c.limits.RekeyBytes > 0 &&
		(c.recv.bytes.Load() >= c.limits.RekeyBytes || c.send.bytes.Load() >= c.limits.RekeyBytes) {
		return true
	}
	if c.limits.RekeyPackets > 0 &&
		(c.recv.packets.Load() >= c.limits.RekeyPackets || c.send.packets.Load() >= c.limits.RekeyPackets) {
		return true
	}
	return false
}

// WriteDisconnect sends a DISCONNECT packet. Best effort: the connection
// is going away anyway.
func (c *Conn) WriteDisconnect(reason wire.DisconnectReasonCode, description string) {
	var s wire.Serializer
	if s.WriteMessageNumber(wire.MsgDisconnect) != nil ||
		s.WriteU32(uint32(reason)) != nil ||
		s.WriteString(description) != nil ||
		s.WriteString("") != nil { // language tag
		return
	}
	_ = c.WritePacket(s.Finish())
}

// WriteUnimplemented answers a packet we do not handle (RFC 4253
// section 11.4).
func (c *Conn) WriteUnimplemented(badSeq uint32) error {
	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgUnimplemented); err != nil {
		return err
	}
	if err := s.WriteU32(badSeq); err != nil {
		return err
	}
	return c.WritePacket(s.Finish())
}

// LastReadSeq returns the sequence number of the most recently read
// packet.
func (c *Conn) LastReadSeq() uint32 {
	return c.recv.seq - 1
}
