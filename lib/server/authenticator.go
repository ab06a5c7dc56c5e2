package server

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/samber/oops"
	xssh "golang.org/x/crypto/ssh"
)

var (
	ErrBadCredentials = oops.Errorf("invalid credentials")
	ErrUnknownUser    = oops.Errorf("unknown user")
)

// Authenticator validates credentials. The gateway itself has no user
// database; implementations delegate to whatever backend the deployment
// uses.
type Authenticator interface {
	// VerifyPassword returns nil when user/password is valid.
	VerifyPassword(user, password string) error

	// AuthorizedKeys returns the public keys acceptable for user.
	AuthorizedKeys(user string) ([]*keys.PublicKey, error)
}

// FileAuthenticator reads authorized_keys files from
// <dir>/<user>/authorized_keys. Password logins always fail.
type FileAuthenticator struct {
	Dir string
}

func (a *FileAuthenticator) VerifyPassword(user, password string) error {
	return ErrBadCredentials
}

func (a *FileAuthenticator) AuthorizedKeys(user string) ([]*keys.PublicKey, error) {
	// reject path traversal through the user name
	if user == "" || user != filepath.Base(user) {
		return nil, ErrUnknownUser
	}

	data, err := os.ReadFile(filepath.Join(a.Dir, user, "authorized_keys"))
	if err != nil {
		return nil, ErrUnknownUser
	}
	return ParseAuthorizedKeys(data)
}

// ParseAuthorizedKeys parses an authorized_keys file into verifier keys.
// Unparseable lines are skipped.
func ParseAuthorizedKeys(data []byte) ([]*keys.PublicKey, error) {
	var result []*keys.PublicKey
	for len(data) > 0 {
		parsed, _, _, rest, err := xssh.ParseAuthorizedKey(data)
		if err != nil {
			// skip the broken line and continue with the next
			if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
				data = data[idx+1:]
				continue
			}
			break
		}
		data = rest

		pk, err := keys.ParsePublicKeyBlob(parsed.Marshal())
		if err != nil {
			log.WithError(err).Debug("Skipping unsupported authorized key")
			continue
		}
		result = append(result, pk)
	}
	return result, nil
}

// KeyAccepted reports whether key matches one of the user's authorized
// keys, by comparing wire blobs.
func KeyAccepted(authorized []*keys.PublicKey, key *keys.PublicKey) bool {
	for _, a := range authorized {
		if bytes.Equal(a.Blob, key.Blob) {
			return true
		}
	}
	return false
}
