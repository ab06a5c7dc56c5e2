package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/connection"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

// DirectTcpipChannel proxies one outgoing TCP stream: CHANNEL_DATA flows
// to the dialed socket, socket reads flow back as CHANNEL_DATA.
type DirectTcpipChannel struct {
	ch *connection.Channel

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

var _ connection.Handler = (*DirectTcpipChannel)(nil)

// openDirectTcpip parses the type-specific part of CHANNEL_OPEN
// "direct-tcpip" and dials the destination.
func openDirectTcpip(ch *connection.Channel, extra []byte) (*DirectTcpipChannel, error) {
	r := wire.NewReader(extra)
	host, err := r.ReadText()
	if err != nil {
		return nil, &connection.OpenFailure{
			Reason:      wire.OpenConnectFailed,
			Description: "malformed direct-tcpip request",
		}
	}
	port, err := r.ReadU32()
	if err != nil {
		return nil, &connection.OpenFailure{
			Reason:      wire.OpenConnectFailed,
			Description: "malformed direct-tcpip request",
		}
	}
	// originator address and port follow; the gateway does not use them
	_, _ = r.ReadText()
	_, _ = r.ReadU32()

	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.Dial("tcp", address)
	if err != nil {
		log.WithError(err).WithField("destination", address).Debug("direct-tcpip dial failed")
		return nil, &connection.OpenFailure{
			Reason:      wire.OpenConnectFailed,
			Description: "connect failed",
		}
	}

	d := &DirectTcpipChannel{ch: ch, conn: conn}
	go d.pump()
	return d, nil
}

func (d *DirectTcpipChannel) pump() {
	buf := make([]byte, 16*1024)
	for {
		n, err := d.conn.Read(buf)
		if n > 0 {
			if d.ch.SendData(buf[:n]) != nil {
				return
			}
		}
		if err != nil {
			_ = d.ch.SendEOF()
			_ = d.ch.SendClose()
			return
		}
	}
}

func (d *DirectTcpipChannel) OnData(payload []byte) error {
	_, err := d.conn.Write(payload)
	if err != nil {
		// destination is gone; initiate the close handshake
		_ = d.ch.SendClose()
	}
	return nil
}

func (d *DirectTcpipChannel) OnExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error {
	return nil
}

func (d *DirectTcpipChannel) OnEOF() error {
	if cw, ok := d.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (d *DirectTcpipChannel) OnRequest(requestType string, payload []byte) (bool, error) {
	// direct-tcpip channels take no requests
	return false, nil
}

func (d *DirectTcpipChannel) OnWriteBlocked() {}

func (d *DirectTcpipChannel) OnWriteUnblocked() {}

func (d *DirectTcpipChannel) OnClose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.conn.Close()
	}
}
