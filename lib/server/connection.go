package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/auth"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/connection"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/transport"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/translation"
)

// Connection glues one accepted socket to the transport, auth and channel
// layers and runs its read loop.
type Connection struct {
	id       uint64
	listener *Listener
	sock     net.Conn

	tconn *transport.Conn
	auth  *auth.Server
	cconn *connection.Conn

	identity *auth.Identity
	profile  *translation.Profile

	// buffered tracks the BufferedChannel adapter of each session channel
	// so stdin buffered before the start request can be flushed
	buffered map[*connection.Channel]*connection.BufferedChannel

	closeOnce sync.Once
}

func newConnection(id uint64, l *Listener, sock net.Conn) *Connection {
	return &Connection{
		id:       id,
		listener: l,
		sock:     sock,
		buffered: make(map[*connection.Channel]*connection.BufferedChannel),
	}
}

// User returns the authenticated user name, empty before auth.
func (c *Connection) User() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.User
}

func (c *Connection) proxyTarget(profile *translation.Profile) string {
	if profile != nil && profile.ProxyTo != "" {
		return profile.ProxyTo
	}
	return c.listener.cfg.ProxyTo
}

func (c *Connection) wakeupSession(ch *connection.Channel) {
	if bc, ok := c.buffered[ch]; ok {
		_ = bc.Wakeup()
	}
}

// run is the connection's read loop; it owns the socket from accept to
// teardown.
func (c *Connection) run(ctx context.Context) {
	defer c.teardown()

	serverVersion, clientVersion, err := transport.ExchangeVersions(
		c.sock, c.listener.cfg.VersionString)
	if err != nil {
		log.WithError(err).Debug("Version exchange failed")
		return
	}

	cfg := c.listener.cfg
	c.tconn = transport.NewConn(ctx, c.sock, clientVersion, serverVersion, transport.Limits{
		RekeyBytes:   cfg.Rekey.Bytes,
		RekeyPackets: cfg.Rekey.Packets,
	})
	c.tconn.SetHostKey(c.listener.hostKey)

	c.auth = auth.NewServer(c.tconn, auth.Config{
		MaxAttempts:       cfg.Auth.MaxAttempts,
		Banner:            cfg.Auth.Banner,
		PasswordCallback:  c.passwordCallback(),
		PublicKeyCallback: c.publicKeyCallback(),
	})

	if err := c.tconn.StartKex(); err != nil {
		log.WithError(err).Debug("Failed to start key exchange")
		return
	}

	for {
		payload, err := c.tconn.ReadPacket()
		if err != nil {
			c.fail(err)
			return
		}

		if err := c.dispatch(payload); err != nil {
			c.fail(err)
			return
		}

		if err := c.tconn.MaybeRekey(); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Connection) dispatch(payload []byte) error {
	handled, err := c.tconn.HandleTransportPacket(payload)
	if err != nil || handled {
		return err
	}

	if c.cconn != nil {
		return c.cconn.HandlePacket(payload)
	}

	done, err := c.auth.HandlePacket(payload)
	if err != nil {
		return err
	}
	if done {
		return c.authenticated()
	}
	return nil
}

// authenticated runs the translation lookup and switches dispatch to the
// channel layer.
func (c *Connection) authenticated() error {
	c.identity = c.auth.Identity()

	profile, err := c.listener.translation.Lookup(
		context.Background(), c.listener.cfg.Tag, c.identity.User, c.identity.Method)
	if err != nil {
		if errors.Is(err, translation.ErrRejected) {
			return &ssherr.DisconnectError{
				Reason: wire.DisconnectHostNotAllowedToConnect,
				Msg:    "access denied",
			}
		}
		return err
	}
	c.profile = profile

	cfg := c.listener.cfg
	c.cconn = connection.NewConn(c.tconn, connection.Limits{
		ReceiveWindow: cfg.Limits.ReceiveWindow,
		MaxPacket:     cfg.Limits.MaxPacket,
		MaxChannels:   cfg.Limits.MaxChannels,
	}, c.openChannel)

	log.WithField("user", c.identity.User).WithField("conn", c.id).
		Debug("Connection authenticated")
	return nil
}

// openChannel is the channel factory: sessions and direct-tcpip.
func (c *Connection) openChannel(channelType string, ch *connection.Channel, extra []byte) (connection.Handler, error) {
	switch channelType {
	case "session":
		sc := newSessionChannel(c, ch, c.profile)
		bc := connection.NewBufferedChannel(sc)
		c.buffered[ch] = bc
		return bc, nil
	case "direct-tcpip":
		if c.listener.cfg.ProxyTo != "" {
			// a pure gateway does not open arbitrary sockets
			return nil, &connection.OpenFailure{
				Reason:      wire.OpenAdministrativelyProhibited,
				Description: "forwarding disabled",
			}
		}
		return openDirectTcpip(ch, extra)
	}
	return nil, &connection.OpenFailure{
		Reason:      wire.OpenUnknownChannelType,
		Description: "unknown channel type " + channelType,
	}
}

func (c *Connection) passwordCallback() func(user, password string) error {
	if !c.listener.methodEnabled("password") {
		return nil
	}
	return func(user, password string) error {
		return c.listener.authenticator.VerifyPassword(user, password)
	}
}

func (c *Connection) publicKeyCallback() func(string, *keys.PublicKey) error {
	if !c.listener.methodEnabled("publickey") {
		return nil
	}
	return func(user string, key *keys.PublicKey) error {
		authorized, err := c.listener.authenticator.AuthorizedKeys(user)
		if err != nil {
			return err
		}
		if !KeyAccepted(authorized, key) {
			return ErrBadCredentials
		}
		return nil
	}
}

// fail maps an error to its protocol effect: DisconnectError sends
// DISCONNECT, i/o errors tear down silently.
func (c *Connection) fail(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrConnClosed) {
		return
	}
	if de, ok := ssherr.AsDisconnect(err); ok {
		log.WithField("conn", c.id).WithField("reason", de.Reason).
			Debug("Disconnecting: ", de.Msg)
		c.tconn.WriteDisconnect(de.Reason, de.Msg)
		return
	}
	log.WithError(err).WithField("conn", c.id).Debug("Connection failed")
	if c.tconn != nil {
		c.tconn.WriteDisconnect(wire.DisconnectProtocolError, "protocol error")
	}
}

// Disconnect sends DISCONNECT and closes; the listener uses it for
// graceful shutdown.
func (c *Connection) Disconnect(reason wire.DisconnectReasonCode, msg string) {
	if c.tconn != nil {
		c.tconn.WriteDisconnect(reason, msg)
	}
	c.teardown()
}

func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		if c.cconn != nil {
			c.cconn.Close()
		}
		if c.tconn != nil {
			c.tconn.Close()
		} else {
			c.sock.Close()
		}
		c.listener.removeConnection(c.id)
		log.WithField("conn", c.id).Debug("Connection closed")
	})
}
