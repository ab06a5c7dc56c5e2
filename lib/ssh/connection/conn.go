package connection

import (
	"errors"
	"sync"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/transport"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
)

var log = logger.GetLukkoLogger()

// OpenFailure rejects a CHANNEL_OPEN with a reason code.
type OpenFailure struct {
	Reason      wire.ChannelOpenFailureReasonCode
	Description string
}

func (e *OpenFailure) Error() string {
	return e.Description
}

// Factory constructs the Handler for an incoming CHANNEL_OPEN. Returning
// an *OpenFailure rejects the open with its reason code; any other error
// tears down the connection.
type Factory func(channelType string, ch *Channel, extra []byte) (Handler, error)

// Limits bound the channel table and size the per-channel windows.
type Limits struct {
	ReceiveWindow uint32
	MaxPacket     uint32
	MaxChannels   int
}

// Conn owns all channels of one authenticated connection and dispatches
// the post-auth message range.
type Conn struct {
	t       *transport.Conn
	factory Factory
	limits  Limits

	// mu guards the channel table; sends go through the transport's own
	// queue and do not take it
	mu       sync.Mutex
	channels map[uint32]*Channel
	nextID   uint32
}

func NewConn(t *transport.Conn, limits Limits, factory Factory) *Conn {
	return &Conn{
		t:        t,
		factory:  factory,
		limits:   limits,
		channels: make(map[uint32]*Channel),
	}
}

func (c *Conn) transport() *transport.Conn {
	return c.t
}

// ChannelCount returns the number of live channels.
func (c *Conn) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// Close destroys every channel; used at connection teardown.
func (c *Conn) Close() {
	c.mu.Lock()
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.channels = make(map[uint32]*Channel)
	c.mu.Unlock()

	for _, ch := range chans {
		ch.mu.Lock()
		ch.sentClose = true
		ch.recvClose = true
		ch.mu.Unlock()
		ch.sendCond.Broadcast()
		if ch.handler != nil {
			ch.handler.OnClose()
		}
	}
}

// HandlePacket dispatches one post-auth message.
func (c *Conn) HandlePacket(payload []byte) error {
	switch wire.MessageNumber(payload[0]) {
	case wire.MsgGlobalRequest:
		return c.handleGlobalRequest(payload)
	case wire.MsgChannelOpen:
		return c.handleChannelOpen(payload)
	case wire.MsgChannelWindowAdjust,
		wire.MsgChannelData,
		wire.MsgChannelExtendedData,
		wire.MsgChannelEOF,
		wire.MsgChannelClose,
		wire.MsgChannelRequest:
		return c.handleChannelMessage(payload)
	case wire.MsgChannelSuccess, wire.MsgChannelFailure,
		wire.MsgChannelOpenConfirmation, wire.MsgChannelOpenFailure:
		// replies to requests we never send with want_reply
		return nil
	case wire.MsgRequestSuccess, wire.MsgRequestFailure:
		return nil
	}
	return c.t.WriteUnimplemented(c.t.LastReadSeq())
}

func (c *Conn) handleGlobalRequest(payload []byte) error {
	r := wire.NewReader(payload[1:])
	requestType, err := r.ReadText()
	if err != nil {
		return ssherr.Protocol("malformed GLOBAL_REQUEST")
	}
	wantReply, err := r.ReadBool()
	if err != nil {
		return ssherr.Protocol("malformed GLOBAL_REQUEST")
	}

	log.WithField("request", requestType).Debug("Rejecting global request")
	if !wantReply {
		return nil
	}
	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgRequestFailure); err != nil {
		return err
	}
	return c.t.WritePacket(s.Finish())
}

func (c *Conn) handleChannelOpen(payload []byte) error {
	r := wire.NewReader(payload[1:])
	channelType, err := r.ReadText()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_OPEN")
	}
	peerID, err := r.ReadU32()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_OPEN")
	}
	peerWindow, err := r.ReadU32()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_OPEN")
	}
	peerMaxPacket, err := r.ReadU32()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_OPEN")
	}
	extra := r.Rest()

	c.mu.Lock()
	if c.limits.MaxChannels > 0 && len(c.channels) >= c.limits.MaxChannels {
		c.mu.Unlock()
		return c.sendOpenFailure(peerID, wire.OpenResourceShortage, "too many channels")
	}
	localID := c.nextID
	c.nextID++
	c.mu.Unlock()

	ch := newChannel(c, ChannelInit{
		LocalID:        localID,
		PeerID:         peerID,
		PeerWindow:     peerWindow,
		PeerMaxPacket:  peerMaxPacket,
		LocalWindow:    c.limits.ReceiveWindow,
		LocalMaxPacket: c.limits.MaxPacket,
	})

	handler, err := c.factory(channelType, ch, extra)
	if err != nil {
		var of *OpenFailure
		if errors.As(err, &of) {
			log.WithField("type", channelType).WithField("reason", of.Reason).
				Debug("Rejecting channel open")
			return c.sendOpenFailure(peerID, of.Reason, of.Description)
		}
		return err
	}
	ch.handler = handler

	c.mu.Lock()
	c.channels[localID] = ch
	c.mu.Unlock()

	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgChannelOpenConfirmation); err != nil {
		return err
	}
	if err := s.WriteU32(peerID); err != nil {
		return err
	}
	if err := s.WriteU32(localID); err != nil {
		return err
	}
	if err := s.WriteU32(ch.initialLocalWindow); err != nil {
		return err
	}
	if err := s.WriteU32(ch.localMaxPacket); err != nil {
		return err
	}
	if err := c.t.WritePacket(s.Finish()); err != nil {
		return err
	}

	log.WithField("type", channelType).WithField("local_id", localID).
		Debug("Channel opened")
	return nil
}

func (c *Conn) sendOpenFailure(peerID uint32, reason wire.ChannelOpenFailureReasonCode, description string) error {
	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgChannelOpenFailure); err != nil {
		return err
	}
	if err := s.WriteU32(peerID); err != nil {
		return err
	}
	if err := s.WriteU32(uint32(reason)); err != nil {
		return err
	}
	if err := s.WriteString(description); err != nil {
		return err
	}
	if err := s.WriteString(""); err != nil { // language tag
		return err
	}
	return c.t.WritePacket(s.Finish())
}

func (c *Conn) lookup(localID uint32) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[localID]
	if !ok {
		return nil, ssherr.Protocol("message for unknown channel %d", localID)
	}
	return ch, nil
}

func (c *Conn) handleChannelMessage(payload []byte) error {
	r := wire.NewReader(payload[1:])
	localID, err := r.ReadU32()
	if err != nil {
		return ssherr.Protocol("malformed channel message")
	}
	ch, err := c.lookup(localID)
	if err != nil {
		return err
	}

	switch wire.MessageNumber(payload[0]) {
	case wire.MsgChannelWindowAdjust:
		nbytes, err := r.ReadU32()
		if err != nil {
			return ssherr.Protocol("malformed CHANNEL_WINDOW_ADJUST")
		}
		ch.handleWindowAdjust(nbytes)
		return nil

	case wire.MsgChannelData:
		data, err := r.ReadString()
		if err != nil {
			return ssherr.Protocol("malformed CHANNEL_DATA")
		}
		if ch.recvEOF || ch.recvClose {
			return ssherr.Protocol("CHANNEL_DATA after EOF on channel %d", localID)
		}
		if err := ch.consumeLocalWindow(uint32(len(data))); err != nil {
			return err
		}
		return ch.handler.OnData(data)

	case wire.MsgChannelExtendedData:
		dataType, err := r.ReadU32()
		if err != nil {
			return ssherr.Protocol("malformed CHANNEL_EXTENDED_DATA")
		}
		data, err := r.ReadString()
		if err != nil {
			return ssherr.Protocol("malformed CHANNEL_EXTENDED_DATA")
		}
		if err := ch.consumeLocalWindow(uint32(len(data))); err != nil {
			return err
		}
		return ch.handler.OnExtendedData(wire.ChannelExtendedDataType(dataType), data)

	case wire.MsgChannelEOF:
		ch.recvEOF = true
		return ch.handler.OnEOF()

	case wire.MsgChannelClose:
		return c.handleChannelClose(ch)

	case wire.MsgChannelRequest:
		return c.handleChannelRequest(ch, r)
	}
	return nil
}

func (c *Conn) handleChannelClose(ch *Channel) error {
	ch.mu.Lock()
	ch.recvClose = true
	alreadySent := ch.sentClose
	ch.mu.Unlock()
	ch.sendCond.Broadcast()

	if !alreadySent {
		if err := ch.SendClose(); err != nil {
			return err
		}
	}
	c.maybeDestroy(ch)
	return nil
}

// maybeDestroy frees the channel once both sides have sent CLOSE. Local
// ids are not reused: nextID keeps counting.
func (c *Conn) maybeDestroy(ch *Channel) {
	ch.mu.Lock()
	done := ch.sentClose && ch.recvClose
	ch.mu.Unlock()
	if !done {
		return
	}

	c.mu.Lock()
	_, present := c.channels[ch.localID]
	delete(c.channels, ch.localID)
	c.mu.Unlock()

	if present && ch.handler != nil {
		log.WithField("local_id", ch.localID).Debug("Channel destroyed")
		ch.handler.OnClose()
	}
}

func (c *Conn) handleChannelRequest(ch *Channel, r *wire.Reader) error {
	requestType, err := r.ReadText()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_REQUEST")
	}
	wantReply, err := r.ReadBool()
	if err != nil {
		return ssherr.Protocol("malformed CHANNEL_REQUEST")
	}

	ok, err := ch.handler.OnRequest(requestType, r.Rest())
	if err != nil {
		return err
	}
	if wantReply {
		return ch.sendRequestReply(ok)
	}
	return nil
}
