package ssherr

import (
	"errors"
	"fmt"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/samber/oops"
)

// Error kinds with well-defined effects on the connection (see the error
// handling design): a DisconnectError tears the connection down with its
// reason code, the per-channel kinds answer with a failure reply and keep
// the connection alive, IOError tears down silently.
var (
	ErrAuth               = oops.Errorf("authentication failed")
	ErrResourceExhaustion = oops.Errorf("resource shortage")
	ErrAdminProhibited    = oops.Errorf("administratively prohibited")
	ErrSpawn              = oops.Errorf("child process could not be started")
	ErrIO                 = oops.Errorf("connection i/o failed")
)

// DisconnectError carries the reason code for the DISCONNECT packet the
// connection sends before closing.
type DisconnectError struct {
	Reason wire.DisconnectReasonCode
	Msg    string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect (reason %d): %s", e.Reason, e.Msg)
}

// Protocol returns a DisconnectError with reason PROTOCOL_ERROR.
func Protocol(format string, args ...interface{}) error {
	return &DisconnectError{
		Reason: wire.DisconnectProtocolError,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// MAC returns a DisconnectError with reason MAC_ERROR.
func MAC(format string, args ...interface{}) error {
	return &DisconnectError{
		Reason: wire.DisconnectMACError,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// KexFailed returns a DisconnectError with reason KEY_EXCHANGE_FAILED.
func KexFailed(format string, args ...interface{}) error {
	return &DisconnectError{
		Reason: wire.DisconnectKeyExchangeFailed,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// NoMoreAuth returns a DisconnectError with reason
// NO_MORE_AUTH_METHODS_AVAILABLE (auth attempt budget exceeded).
func NoMoreAuth() error {
	return &DisconnectError{
		Reason: wire.DisconnectNoMoreAuthMethodsAvailable,
		Msg:    "too many authentication attempts",
	}
}

// AsDisconnect extracts a DisconnectError from err and reports false for
// any other error; the server's connection teardown maps those to
// PROTOCOL_ERROR so invariant violations still produce a clean disconnect.
func AsDisconnect(err error) (*DisconnectError, bool) {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
