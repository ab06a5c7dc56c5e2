package connection

import (
	"sync"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

// Handler is the polymorphic part of a channel: session, direct-tcpip and
// friends implement it. All methods run on the connection's read loop
// except OnWriteBlocked/OnWriteUnblocked, which may fire from a sender.
type Handler interface {
	// OnData delivers one CHANNEL_DATA payload.
	OnData(payload []byte) error

	// OnExtendedData delivers one CHANNEL_EXTENDED_DATA payload.
	OnExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error

	// OnEOF records that the peer will send no more data.
	OnEOF() error

	// OnRequest dispatches a CHANNEL_REQUEST; the return value selects
	// CHANNEL_SUCCESS or CHANNEL_FAILURE when a reply is wanted.
	OnRequest(requestType string, payload []byte) (bool, error)

	// OnWriteBlocked pauses draining the channel's data source.
	OnWriteBlocked()

	// OnWriteUnblocked resumes draining the channel's data source.
	OnWriteUnblocked()

	// OnClose releases the handler's resources. Called exactly once when
	// the channel is destroyed.
	OnClose()
}

// ChannelInit carries the parameters of a confirmed CHANNEL_OPEN.
type ChannelInit struct {
	LocalID       uint32
	PeerID        uint32
	PeerWindow    uint32
	PeerMaxPacket uint32
	LocalWindow   uint32
	LocalMaxPacket uint32
}

// Channel is the generic half of every channel: ids, flow-control windows
// and the close handshake. The type-specific behavior lives in its
// Handler.
type Channel struct {
	conn *Conn

	localID uint32
	peerID  uint32

	// localWindow is the byte credit we extend to the peer; incoming DATA
	// debits it, WINDOW_ADJUST we send refills it. Only touched on the
	// read loop.
	localWindow        uint32
	initialLocalWindow uint32
	localMaxPacket     uint32

	// peerWindow is the byte credit the peer extended to us. Senders block
	// on the cond while it is zero.
	mu            sync.Mutex
	sendCond      *sync.Cond
	peerWindow    uint32
	peerMaxPacket uint32
	writeBlocked  bool

	sentEOF   bool
	recvEOF   bool
	sentClose bool
	recvClose bool

	handler Handler
}

func newChannel(conn *Conn, init ChannelInit) *Channel {
	ch := &Channel{
		conn:               conn,
		localID:            init.LocalID,
		peerID:             init.PeerID,
		localWindow:        init.LocalWindow,
		initialLocalWindow: init.LocalWindow,
		localMaxPacket:     init.LocalMaxPacket,
		peerWindow:         init.PeerWindow,
		peerMaxPacket:      init.PeerMaxPacket,
	}
	ch.sendCond = sync.NewCond(&ch.mu)
	return ch
}

// LocalID returns the channel id we assigned.
func (ch *Channel) LocalID() uint32 {
	return ch.localID
}

// SendData writes payload as one or more CHANNEL_DATA packets, splitting
// at the peer's maximum packet size and blocking while the peer window is
// exhausted. Safe to call from any goroutine.
func (ch *Channel) SendData(payload []byte) error {
	return ch.sendData(wire.MsgChannelData, 0, payload)
}

// SendExtendedData writes payload as CHANNEL_EXTENDED_DATA (stderr).
func (ch *Channel) SendExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error {
	return ch.sendData(wire.MsgChannelExtendedData, dataType, payload)
}

func (ch *Channel) sendData(msg wire.MessageNumber, dataType wire.ChannelExtendedDataType, payload []byte) error {
	for len(payload) > 0 {
		n, err := ch.reserveWindow(len(payload))
		if err != nil {
			return err
		}

		var s wire.Serializer
		if err := s.WriteMessageNumber(msg); err != nil {
			return err
		}
		if err := s.WriteU32(ch.peerID); err != nil {
			return err
		}
		if msg == wire.MsgChannelExtendedData {
			if err := s.WriteU32(uint32(dataType)); err != nil {
				return err
			}
		}
		if err := s.WriteLengthEncoded(payload[:n]); err != nil {
			return err
		}
		if err := ch.conn.transport().WritePacket(s.Finish()); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// reserveWindow blocks until at least one byte of peer window is
// available, then debits and returns the number of bytes to send, capped
// by the peer's maximum packet size and the data overhead.
func (ch *Channel) reserveWindow(want int) (int, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for ch.peerWindow == 0 {
		if ch.sentClose || ch.recvClose {
			return 0, ssherr.ErrIO
		}
		if !ch.writeBlocked {
			ch.writeBlocked = true
			if ch.handler != nil {
				ch.handler.OnWriteBlocked()
			}
		}
		ch.sendCond.Wait()
	}
	if ch.sentClose || ch.recvClose {
		return 0, ssherr.ErrIO
	}

	n := want
	if uint32(n) > ch.peerWindow {
		n = int(ch.peerWindow)
	}
	// leave room for the data message header inside one packet
	maxData := int(ch.peerMaxPacket)
	if maxData > wire.MaxPacketSize-64 {
		maxData = wire.MaxPacketSize - 64
	}
	if n > maxData {
		n = maxData
	}
	ch.peerWindow -= uint32(n)
	return n, nil
}

// handleWindowAdjust credits the peer window and wakes blocked senders.
// Runs on the read loop.
func (ch *Channel) handleWindowAdjust(nbytes uint32) {
	ch.mu.Lock()
	wasZero := ch.peerWindow == 0
	ch.peerWindow += nbytes
	unblock := wasZero && ch.peerWindow > 0 && ch.writeBlocked
	if unblock {
		ch.writeBlocked = false
	}
	handler := ch.handler
	ch.mu.Unlock()

	ch.sendCond.Broadcast()
	if unblock && handler != nil {
		handler.OnWriteUnblocked()
	}
}

// consumeLocalWindow debits our receive window by an incoming payload
// length and refills it once it drops below half.
func (ch *Channel) consumeLocalWindow(n uint32) error {
	if n > ch.localWindow {
		return ssherr.Protocol("channel %d window exceeded by %d bytes",
			ch.localID, n-ch.localWindow)
	}
	ch.localWindow -= n

	if ch.localWindow < ch.initialLocalWindow/2 {
		refill := ch.initialLocalWindow - ch.localWindow
		var s wire.Serializer
		if err := s.WriteMessageNumber(wire.MsgChannelWindowAdjust); err != nil {
			return err
		}
		if err := s.WriteU32(ch.peerID); err != nil {
			return err
		}
		if err := s.WriteU32(refill); err != nil {
			return err
		}
		if err := ch.conn.transport().WritePacket(s.Finish()); err != nil {
			return err
		}
		ch.localWindow += refill
	}
	return nil
}

// SendEOF announces that we will send no more data. Idempotent.
func (ch *Channel) SendEOF() error {
	ch.mu.Lock()
	if ch.sentEOF || ch.sentClose {
		ch.mu.Unlock()
		return nil
	}
	ch.sentEOF = true
	ch.mu.Unlock()

	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgChannelEOF); err != nil {
		return err
	}
	if err := s.WriteU32(ch.peerID); err != nil {
		return err
	}
	return ch.conn.transport().WritePacket(s.Finish())
}

// SendClose starts (or answers) the close handshake. Idempotent.
func (ch *Channel) SendClose() error {
	ch.mu.Lock()
	if ch.sentClose {
		ch.mu.Unlock()
		return nil
	}
	ch.sentClose = true
	ch.mu.Unlock()
	ch.sendCond.Broadcast()

	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgChannelClose); err != nil {
		return err
	}
	if err := s.WriteU32(ch.peerID); err != nil {
		return err
	}
	if err := ch.conn.transport().WritePacket(s.Finish()); err != nil {
		return err
	}

	ch.conn.maybeDestroy(ch)
	return nil
}

// sendRequestReply answers a CHANNEL_REQUEST that wanted a reply.
func (ch *Channel) sendRequestReply(success bool) error {
	msg := wire.MsgChannelFailure
	if success {
		msg = wire.MsgChannelSuccess
	}
	var s wire.Serializer
	if err := s.WriteMessageNumber(msg); err != nil {
		return err
	}
	if err := s.WriteU32(ch.peerID); err != nil {
		return err
	}
	return ch.conn.transport().WritePacket(s.Finish())
}

// SendRequest emits a CHANNEL_REQUEST to the peer with want_reply false
// (exit-status, exit-signal).
func (ch *Channel) SendRequest(requestType string, marshalExtra func(*wire.Serializer) error) error {
	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgChannelRequest); err != nil {
		return err
	}
	if err := s.WriteU32(ch.peerID); err != nil {
		return err
	}
	if err := s.WriteString(requestType); err != nil {
		return err
	}
	if err := s.WriteBool(false); err != nil {
		return err
	}
	if marshalExtra != nil {
		if err := marshalExtra(&s); err != nil {
			return err
		}
	}
	return ch.conn.transport().WritePacket(s.Finish())
}
