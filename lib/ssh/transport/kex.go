package transport

import (
	"github.com/pfirsich/cm4all-lukko/lib/ssh/cipher"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/kex"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/ssherr"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
)

// kexState is the transient state of one key exchange, initial or rekey.
type kexState struct {
	ourKexInit   []byte // raw payload including message number
	theirKexInit []byte
	algs         *kex.Algorithms
	exchange     kex.Exchange

	// pendingRead is installed when the peer's NEWKEYS arrives
	pendingRead cipher.PacketCipher
	newKeysSent bool
}

// SetHostKey attaches the server identity used to sign exchange hashes.
// Must be called before the first packet is processed.
func (c *Conn) SetHostKey(hk *keys.HostKey) {
	c.hostKey = hk
}

// SessionID returns the first exchange hash, fixed for the connection
// lifetime, or nil before the initial key exchange completes.
func (c *Conn) SessionID() []byte {
	return c.sessionID
}

// StartKex sends our KEXINIT, beginning the initial exchange or a rekey.
// It is idempotent while an exchange is in progress.
func (c *Conn) StartKex() error {
	if c.kex != nil && c.kex.ourKexInit != nil {
		return nil
	}

	ki, err := kex.NewServerKexInit()
	if err != nil {
		return err
	}

	var s wire.Serializer
	if err := ki.Marshal(&s); err != nil {
		return err
	}

	if c.kex == nil {
		c.kex = &kexState{}
	}
	c.kex.ourKexInit = append([]byte(nil), s.Finish()...)

	log.WithField("client", c.clientVersion).Debug("Sending KEXINIT")
	return c.WritePacket(s.Finish())
}

// MaybeRekey starts a rekey when the traffic counters crossed a
// threshold.
func (c *Conn) MaybeRekey() error {
	if c.kex != nil || !c.RekeyDue() {
		return nil
	}
	log.Debug("Rekey threshold reached, restarting key exchange")
	return c.StartKex()
}

// HandleTransportPacket processes transport-layer and KEX messages.
// Returns true when the message was consumed; connection- and auth-layer
// messages are left to the caller.
func (c *Conn) HandleTransportPacket(payload []byte) (bool, error) {
	switch wire.MessageNumber(payload[0]) {
	case wire.MsgDisconnect:
		return true, c.handleDisconnect(payload)
	case wire.MsgIgnore, wire.MsgDebug, wire.MsgUnimplemented:
		return true, nil
	case wire.MsgKexInit:
		return true, c.handleKexInit(payload)
	case wire.MsgECDHKexInit:
		return true, c.handleECDHKexInit(payload)
	case wire.MsgNewKeys:
		return true, c.handleNewKeys()
	}
	return false, nil
}

func (c *Conn) handleDisconnect(payload []byte) error {
	r := wire.NewReader(payload[1:])
	reason, _ := r.ReadU32()
	description, _ := r.ReadText()
	log.WithField("reason", reason).WithField("description", description).
		Debug("Peer sent DISCONNECT")
	return ErrConnClosed
}

func (c *Conn) handleKexInit(payload []byte) error {
	if c.kex != nil && c.kex.theirKexInit != nil {
		return ssherr.Protocol("unexpected KEXINIT during key exchange")
	}

	r := wire.NewReader(payload[1:])
	clientInit, err := kex.ParseKexInit(r)
	if err != nil {
		return ssherr.Protocol("malformed KEXINIT: %v", err)
	}

	// client-initiated rekey: we have not sent ours yet
	if c.kex == nil || c.kex.ourKexInit == nil {
		if err := c.StartKex(); err != nil {
			return err
		}
	}
	c.kex.theirKexInit = append([]byte(nil), payload...)

	serverInit, err := kex.ParseKexInit(wire.NewReader(c.kex.ourKexInit[1:]))
	if err != nil {
		return ssherr.Protocol("internal: bad server KEXINIT: %v", err)
	}

	algs, err := kex.Negotiate(clientInit, serverInit)
	if err != nil {
		return ssherr.KexFailed("%v", err)
	}
	c.kex.algs = algs

	if c.kex.exchange, err = kex.New(algs.Kex); err != nil {
		return ssherr.KexFailed("%v", err)
	}
	return nil
}

func (c *Conn) handleECDHKexInit(payload []byte) error {
	ks := c.kex
	if ks == nil || ks.algs == nil {
		return ssherr.Protocol("ECDH_KEX_INIT before KEXINIT")
	}
	if c.hostKey == nil {
		return ssherr.KexFailed("no host key configured")
	}

	r := wire.NewReader(payload[1:])
	clientPublic, err := r.ReadString()
	if err != nil {
		return ssherr.Protocol("malformed ECDH_KEX_INIT")
	}

	serverPublic, secret, err := ks.exchange.ServerExchange(clientPublic)
	if err != nil {
		return ssherr.KexFailed("ECDH exchange failed: %v", err)
	}

	hostKeyBlob := c.hostKey.PublicKeyBlob()
	hashInput := &kex.ExchangeHashInput{
		ClientVersion: c.clientVersion,
		ServerVersion: c.serverVersion,
		ClientKexInit: ks.theirKexInit,
		ServerKexInit: ks.ourKexInit,
		HostKeyBlob:   hostKeyBlob,
		ClientPublic:  clientPublic,
		ServerPublic:  serverPublic,
		Secret:        secret,
	}
	h, err := hashInput.Build(ks.exchange.Hash())
	if err != nil {
		return ssherr.KexFailed("exchange hash failed: %v", err)
	}

	signature, err := c.hostKey.Sign(h)
	if err != nil {
		return ssherr.KexFailed("host key signature failed: %v", err)
	}

	var s wire.Serializer
	if err := s.WriteMessageNumber(wire.MsgECDHKexInitReply); err != nil {
		return err
	}
	if err := s.WriteLengthEncoded(hostKeyBlob); err != nil {
		return err
	}
	if err := s.WriteLengthEncoded(serverPublic); err != nil {
		return err
	}
	if err := s.WriteLengthEncoded(signature); err != nil {
		return err
	}
	if err := c.WritePacket(s.Finish()); err != nil {
		return err
	}

	// first exchange hash becomes the session id and never changes
	if c.sessionID == nil {
		c.sessionID = append([]byte(nil), h...)
	}

	encodedSecret, err := kex.EncodeSecret(secret)
	if err != nil {
		return err
	}
	kexResult := &cipher.KexResult{
		K:         encodedSecret,
		H:         h,
		SessionID: c.sessionID,
		Hash:      ks.exchange.Hash(),
	}

	sendCipher, err := cipher.NewPacketCipher(cipher.ServerToClient, ks.algs.CipherS2C, kexResult)
	if err != nil {
		return ssherr.KexFailed("cipher setup failed: %v", err)
	}
	readCipher, err := cipher.NewPacketCipher(cipher.ClientToServer, ks.algs.CipherC2S, kexResult)
	if err != nil {
		return ssherr.KexFailed("cipher setup failed: %v", err)
	}

	// our NEWKEYS: every later outbound packet uses the new send context
	if err := c.writeNewKeys(sendCipher); err != nil {
		return err
	}
	ks.newKeysSent = true
	ks.pendingRead = readCipher

	log.WithField("kex", ks.algs.Kex).WithField("cipher", ks.algs.CipherC2S).
		Debug("Key exchange complete, NEWKEYS sent")
	return nil
}

func (c *Conn) handleNewKeys() error {
	ks := c.kex
	if ks == nil || ks.pendingRead == nil {
		return ssherr.Protocol("unexpected NEWKEYS")
	}

	// peer's NEWKEYS: every later inbound packet uses the new receive
	// context
	c.installReadCipher(ks.pendingRead)
	c.kex = nil
	return nil
}
