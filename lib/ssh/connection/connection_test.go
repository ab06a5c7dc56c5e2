package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/cipher"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/transport"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPeer reads the cleartext frames the server writes before any key
// exchange.
type testPeer struct {
	conn   net.Conn
	cipher cipher.PacketCipher
	seq    uint32
}

func newTestPeer(conn net.Conn) *testPeer {
	return &testPeer{conn: conn, cipher: cipher.NewNone()}
}

func (p *testPeer) readPacket(t *testing.T) []byte {
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	payload, err := p.cipher.ReadPacket(p.seq, p.conn)
	require.NoError(t, err)
	p.seq++
	return append([]byte(nil), payload...)
}

// recordingHandler captures every callback for assertions.
type recordingHandler struct {
	data      [][]byte
	extended  [][]byte
	requests  []string
	reqResult bool
	eof       bool
	closed    bool
}

func (h *recordingHandler) OnData(p []byte) error {
	h.data = append(h.data, append([]byte(nil), p...))
	return nil
}

func (h *recordingHandler) OnExtendedData(dt wire.ChannelExtendedDataType, p []byte) error {
	h.extended = append(h.extended, append([]byte(nil), p...))
	return nil
}

func (h *recordingHandler) OnEOF() error {
	h.eof = true
	return nil
}

func (h *recordingHandler) OnRequest(requestType string, payload []byte) (bool, error) {
	h.requests = append(h.requests, requestType)
	return h.reqResult, nil
}

func (h *recordingHandler) OnWriteBlocked()   {}
func (h *recordingHandler) OnWriteUnblocked() {}
func (h *recordingHandler) OnClose()          { h.closed = true }

func newTestConn(t *testing.T, limits Limits) (*Conn, *testPeer, *recordingHandler, func()) {
	t.Helper()
	srvSock, cliSock := net.Pipe()

	tc := transport.NewConn(context.Background(), srvSock, "SSH-2.0-c", "SSH-2.0-s", transport.Limits{})

	handler := &recordingHandler{reqResult: true}
	conn := NewConn(tc, limits, func(channelType string, ch *Channel, extra []byte) (Handler, error) {
		if channelType != "session" {
			return nil, &OpenFailure{Reason: wire.OpenUnknownChannelType, Description: "nope"}
		}
		return handler, nil
	})

	cleanup := func() {
		tc.Close()
		cliSock.Close()
	}
	return conn, newTestPeer(cliSock), handler, cleanup
}

func marshalOpen(t *testing.T, channelType string, peerID, window, maxPacket uint32) []byte {
	t.Helper()
	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelOpen))
	require.NoError(t, s.WriteString(channelType))
	require.NoError(t, s.WriteU32(peerID))
	require.NoError(t, s.WriteU32(window))
	require.NoError(t, s.WriteU32(maxPacket))
	return append([]byte(nil), s.Finish()...)
}

func openChannel(t *testing.T, conn *Conn, peer *testPeer, peerWindow uint32) *Channel {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(marshalOpen(t, "session", 0, peerWindow, 0x8000)) }()

	reply := peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelOpenConfirmation), reply[0])
	r := wire.NewReader(reply[1:])
	peerID, _ := r.ReadU32()
	localID, _ := r.ReadU32()
	window, _ := r.ReadU32()
	assert.Equal(t, uint32(0), peerID)
	assert.Equal(t, conn.limits.ReceiveWindow, window)
	require.NoError(t, <-done)

	conn.mu.Lock()
	ch := conn.channels[localID]
	conn.mu.Unlock()
	require.NotNil(t, ch)
	return ch
}

func TestChannelOpenConfirm(t *testing.T) {
	conn, peer, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x200000)
	assert.Equal(t, uint32(0), ch.LocalID())
	assert.Equal(t, 1, conn.ChannelCount())
}

func TestChannelOpenUnknownType(t *testing.T) {
	conn, peer, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256})
	defer cleanup()

	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(marshalOpen(t, "x11", 3, 1000, 1000)) }()

	reply := peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelOpenFailure), reply[0])
	r := wire.NewReader(reply[1:])
	peerID, _ := r.ReadU32()
	reason, _ := r.ReadU32()
	assert.Equal(t, uint32(3), peerID)
	assert.Equal(t, uint32(wire.OpenUnknownChannelType), reason)
	require.NoError(t, <-done)
	assert.Equal(t, 0, conn.ChannelCount())
}

func TestChannelOpenResourceShortage(t *testing.T) {
	conn, peer, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 1})
	defer cleanup()

	openChannel(t, conn, peer, 1000)

	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(marshalOpen(t, "session", 1, 1000, 1000)) }()

	reply := peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelOpenFailure), reply[0])
	r := wire.NewReader(reply[1:])
	_, _ = r.ReadU32()
	reason, _ := r.ReadU32()
	assert.Equal(t, uint32(wire.OpenResourceShortage), reason)
	require.NoError(t, <-done)
}

func TestWindowExhaustionStallsAndResumes(t *testing.T) {
	conn, peer, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	// the peer grants only 5 bytes of window
	ch := openChannel(t, conn, peer, 5)

	sent := make(chan error, 1)
	go func() { sent <- ch.SendData([]byte("0123456789")) }()

	// first fragment: exactly the 5 available bytes
	pkt := peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelData), pkt[0])
	r := wire.NewReader(pkt[1:])
	_, _ = r.ReadU32()
	data, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, []byte("01234"), data)

	// the sender must now be stalled
	select {
	case err := <-sent:
		t.Fatalf("send finished while window was exhausted: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// grant 5 more bytes
	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelWindowAdjust))
	require.NoError(t, s.WriteU32(ch.LocalID()))
	require.NoError(t, s.WriteU32(5))
	require.NoError(t, conn.HandlePacket(s.Finish()))

	pkt = peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelData), pkt[0])
	r = wire.NewReader(pkt[1:])
	_, _ = r.ReadU32()
	data, err = r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), data)

	require.NoError(t, <-sent)
}

func marshalData(t *testing.T, localID uint32, data []byte) []byte {
	t.Helper()
	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelData))
	require.NoError(t, s.WriteU32(localID))
	require.NoError(t, s.WriteLengthEncoded(data))
	return append([]byte(nil), s.Finish()...)
}

func TestLocalWindowAccountingAndRefill(t *testing.T) {
	conn, peer, handler, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x100000)

	// under half the window: no adjustment yet
	require.NoError(t, conn.HandlePacket(marshalData(t, ch.LocalID(), make([]byte, 100))))
	assert.Equal(t, uint32(924), ch.localWindow)
	require.Len(t, handler.data, 1)

	// crossing the half mark triggers a refill back to the initial window
	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(marshalData(t, ch.LocalID(), make([]byte, 500))) }()

	pkt := peer.readPacket(t)
	require.Equal(t, uint8(wire.MsgChannelWindowAdjust), pkt[0])
	r := wire.NewReader(pkt[1:])
	_, _ = r.ReadU32()
	refill, _ := r.ReadU32()
	assert.Equal(t, uint32(600), refill)
	require.NoError(t, <-done)
	assert.Equal(t, uint32(1024), ch.localWindow)
}

func TestWindowViolationIsProtocolError(t *testing.T) {
	conn, peer, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 16, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x1000)
	err := conn.HandlePacket(marshalData(t, ch.LocalID(), make([]byte, 17)))
	require.Error(t, err)
}

func TestCloseHandshakeFreesChannel(t *testing.T) {
	conn, peer, handler, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x1000)

	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelClose))
	require.NoError(t, s.WriteU32(ch.LocalID()))

	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(s.Finish()) }()

	reply := peer.readPacket(t)
	assert.Equal(t, uint8(wire.MsgChannelClose), reply[0])
	require.NoError(t, <-done)

	assert.True(t, handler.closed)
	assert.Equal(t, 0, conn.ChannelCount())

	// the next channel gets a fresh id
	ch2 := openChannel(t, conn, peer, 0x1000)
	assert.Equal(t, uint32(1), ch2.LocalID())
}

func TestDataAfterEOFIsProtocolError(t *testing.T) {
	conn, peer, handler, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x1000)

	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelEOF))
	require.NoError(t, s.WriteU32(ch.LocalID()))
	require.NoError(t, conn.HandlePacket(s.Finish()))
	assert.True(t, handler.eof)

	err := conn.HandlePacket(marshalData(t, ch.LocalID(), []byte("late")))
	require.Error(t, err)
}

func TestChannelRequestReply(t *testing.T) {
	conn, peer, handler, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256, MaxChannels: 4})
	defer cleanup()

	ch := openChannel(t, conn, peer, 0x1000)

	var s wire.Serializer
	require.NoError(t, s.WriteMessageNumber(wire.MsgChannelRequest))
	require.NoError(t, s.WriteU32(ch.LocalID()))
	require.NoError(t, s.WriteString("exec"))
	require.NoError(t, s.WriteBool(true))
	require.NoError(t, s.WriteString("printf hi"))

	done := make(chan error, 1)
	go func() { done <- conn.HandlePacket(s.Finish()) }()

	reply := peer.readPacket(t)
	assert.Equal(t, uint8(wire.MsgChannelSuccess), reply[0])
	require.NoError(t, <-done)
	assert.Equal(t, []string{"exec"}, handler.requests)
}

func TestUnknownChannelIdIsProtocolError(t *testing.T) {
	conn, _, _, cleanup := newTestConn(t, Limits{ReceiveWindow: 1024, MaxPacket: 256})
	defer cleanup()

	err := conn.HandlePacket(marshalData(t, 42, []byte("x")))
	require.Error(t, err)
}
