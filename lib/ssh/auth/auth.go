package auth

import (
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/transport"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var ErrNotAuthenticated = oops.Errorf("connection not authenticated")

const serviceUserauth = "ssh-userauth"
const serviceConnection = "ssh-connection"

// Identity is the authenticated user of a connection.
type Identity struct {
	User   string
	Method string

	// PublicKey is set when Method is "publickey".
	PublicKey *keys.PublicKey
}

// Config wires the authentication backend. A nil callback disables the
// method.
type Config struct {
	// MaxAttempts is the USERAUTH_REQUEST budget; exceeding it
	// disconnects with NO_MORE_AUTH_METHODS_AVAILABLE.
	MaxAttempts int

	// Banner, when non-empty, is sent once before the first auth reply.
	Banner string

	// PasswordCallback returns nil when user/password is valid.
	PasswordCallback func(user, password string) error

	// PublicKeyCallback returns nil when the key is acceptable for the
	// user; it runs for both probe and signature phases.
	PublicKeyCallback func(user string, key *keys.PublicKey) error
}

func (c *Config) methods() []string {
	var m []string
	if c.PublicKeyCallback != nil {
		m = append(m, "publickey")
	}
	if c.PasswordCallback != nil {
		m = append(m, "password")
	}
	return m
}

// Server runs the userauth protocol for one connection.
type Server struct {
	conn *transport.Conn
	cfg  Config

	attempts   int
	bannerSent bool

	identity *Identity
}

func NewServer(conn *transport.Conn, cfg Config) *Server {
	return &Server{conn: conn, cfg: cfg}
}

// Identity returns the authenticated user, or nil before success.
func (s *Server) Identity() *Identity {
	return s.identity
}

// HandlePacket consumes service and userauth messages. done is true once
// USERAUTH_SUCCESS was sent; every later packet belongs to the connection
// layer.
func (s *Server) HandlePacket(payload []byte) (done bool, err error) {
	switch wire.MessageNumber(payload[0]) {
	case wire.MsgServiceRequest:
		return false, s.handleServiceRequest(payload)
	case wire.MsgUserauthRequest:
		return s.handleUserauthRequest(payload)
	}
	return false, ssherr.Protocol("unexpected message %d before authentication", payload[0])
}

func (s *Server) handleServiceRequest(payload []byte) error {
	r := wire.NewReader(payload[1:])
	service, err := r.ReadText()
	if err != nil {
		return ssherr.Protocol("malformed SERVICE_REQUEST")
	}
	if service != serviceUserauth {
		return &ssherr.DisconnectError{
			Reason: wire.DisconnectServiceNotAvailable,
			Msg:    "unknown service " + service,
		}
	}

	var out wire.Serializer
	if err := out.WriteMessageNumber(wire.MsgServiceAccept); err != nil {
		return err
	}
	if err := out.WriteString(service); err != nil {
		return err
	}
	return s.conn.WritePacket(out.Finish())
}

func (s *Server) handleUserauthRequest(payload []byte) (bool, error) {
	s.attempts++
	if s.attempts > s.cfg.MaxAttempts {
		log.WithField("attempts", s.attempts).Debug("Auth attempt budget exceeded")
		return false, ssherr.NoMoreAuth()
	}

	r := wire.NewReader(payload[1:])
	user, err := r.ReadText()
	if err != nil {
		return false, ssherr.Protocol("malformed USERAUTH_REQUEST")
	}
	service, err := r.ReadText()
	if err != nil {
		return false, ssherr.Protocol("malformed USERAUTH_REQUEST")
	}
	method, err := r.ReadText()
	if err != nil {
		return false, ssherr.Protocol("malformed USERAUTH_REQUEST")
	}

	if service != serviceConnection {
		return false, &ssherr.DisconnectError{
			Reason: wire.DisconnectServiceNotAvailable,
			Msg:    "unknown service " + service,
		}
	}

	if err := s.sendBanner(); err != nil {
		return false, err
	}

	log.WithField("user", user).WithField("method", method).Debug("Auth attempt")

	switch method {
	case "none":
		// always fails; clients use it to probe the method list
		return false, s.sendFailure(false)
	case "password":
		return s.handlePassword(user, r)
	case "publickey":
		return s.handlePublicKey(user, r)
	}
	return false, s.sendFailure(false)
}

func (s *Server) handlePassword(user string, r *wire.Reader) (bool, error) {
	// a TRUE flag here would mean password change, which we do not offer
	changeRequest, err := r.ReadBool()
	if err != nil || changeRequest {
		return false, ssherr.Protocol("malformed password request")
	}
	password, err := r.ReadText()
	if err != nil {
		return false, ssherr.Protocol("malformed password request")
	}

	if s.cfg.PasswordCallback == nil {
		return false, s.sendFailure(false)
	}
	if err := s.cfg.PasswordCallback(user, password); err != nil {
		log.WithField("user", user).Debug("Password rejected")
		return false, s.sendFailure(false)
	}

	return true, s.sendSuccess(&Identity{User: user, Method: "password"})
}

func (s *Server) handlePublicKey(user string, r *wire.Reader) (bool, error) {
	hasSignature, err := r.ReadBool()
	if err != nil {
		return false, ssherr.Protocol("malformed publickey request")
	}
	algorithm, err := r.ReadText()
	if err != nil {
		return false, ssherr.Protocol("malformed publickey request")
	}
	keyBlob, err := r.ReadString()
	if err != nil {
		return false, ssherr.Protocol("malformed publickey request")
	}

	key, err := keys.ParsePublicKeyBlob(keyBlob)
	if err != nil {
		log.WithField("user", user).WithError(err).Debug("Unparseable public key")
		return false, s.sendFailure(false)
	}

	if s.cfg.PublicKeyCallback == nil || s.cfg.PublicKeyCallback(user, key) != nil {
		return false, s.sendFailure(false)
	}

	if !hasSignature {
		// phase one: tell the client this key would be acceptable
		var out wire.Serializer
		if err := out.WriteMessageNumber(wire.MsgUserauthPKOK); err != nil {
			return false, err
		}
		if err := out.WriteString(algorithm); err != nil {
			return false, err
		}
		if err := out.WriteLengthEncoded(keyBlob); err != nil {
			return false, err
		}
		return false, s.conn.WritePacket(out.Finish())
	}

	signature, err := r.ReadString()
	if err != nil {
		return false, ssherr.Protocol("malformed publickey request")
	}

	signed, err := signedData(s.conn.SessionID(), user, algorithm, keyBlob)
	if err != nil {
		return false, err
	}
	if err := key.VerifySignatureBlob(signed, signature); err != nil {
		log.WithField("user", user).Debug("Public key signature rejected")
		return false, s.sendFailure(false)
	}

	return true, s.sendSuccess(&Identity{
		User:      user,
		Method:    "publickey",
		PublicKey: key,
	})
}

// signedData reproduces the byte string the client signs (RFC 4252
// section 7).
func signedData(sessionID []byte, user, algorithm string, keyBlob []byte) ([]byte, error) {
	var s wire.Serializer
	if err := s.WriteLengthEncoded(sessionID); err != nil {
		return nil, err
	}
	if err := s.WriteMessageNumber(wire.MsgUserauthRequest); err != nil {
		return nil, err
	}
	if err := s.WriteString(user); err != nil {
		return nil, err
	}
	if err := s.WriteString(serviceConnection); err != nil {
		return nil, err
	}
	if err := s.WriteString("publickey"); err != nil {
		return nil, err
	}
	if err := s.WriteBool(true); err != nil {
		return nil, err
	}
	if err := s.WriteString(algorithm); err != nil {
		return nil, err
	}
	if err := s.WriteLengthEncoded(keyBlob); err != nil {
		return nil, err
	}
	return s.Finish(), nil
}

func (s *Server) sendBanner() error {
	if s.cfg.Banner == "" || s.bannerSent {
		return nil
	}
	s.bannerSent = true

	var out wire.Serializer
	if err := out.WriteMessageNumber(wire.MsgUserauthBanner); err != nil {
		return err
	}
	if err := out.WriteString(s.cfg.Banner); err != nil {
		return err
	}
	if err := out.WriteString(""); err != nil { // language tag
		return err
	}
	return s.conn.WritePacket(out.Finish())
}

func (s *Server) sendFailure(partial bool) error {
	var out wire.Serializer
	if err := out.WriteMessageNumber(wire.MsgUserauthFailure); err != nil {
		return err
	}
	if err := out.WriteNameList(s.cfg.methods()); err != nil {
		return err
	}
	if err := out.WriteBool(partial); err != nil {
		return err
	}
	return s.conn.WritePacket(out.Finish())
}

func (s *Server) sendSuccess(id *Identity) error {
	s.identity = id
	log.WithField("user", id.User).WithField("method", id.Method).Debug("Authentication succeeded")

	var out wire.Serializer
	if err := out.WriteMessageNumber(wire.MsgUserauthSuccess); err != nil {
		return err
	}
	return s.conn.WritePacket(out.Finish())
}
