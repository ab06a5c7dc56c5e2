package transport

import (
	"io"

	"github.com/samber/oops"
)

// maxVersionLineLength bounds the identification line per RFC 4253
// section 4.2.
const maxVersionLineLength = 255

var (
	ErrVersionLineTooLong = oops.Errorf("identification line too long")
	ErrNotSSH2            = oops.Errorf("peer does not speak SSH-2.0")
)

// ExchangeVersions writes our identification line and reads the client's.
// Both are returned without CRLF, the form the exchange hash consumes.
func ExchangeVersions(rw io.ReadWriter, softwareName string) (ours, theirs string, err error) {
	ours = "SSH-2.0-" + softwareName
	if _, err = rw.Write([]byte(ours + "\r\n")); err != nil {
		return "", "", err
	}

	theirs, err = readVersionLine(rw)
	if err != nil {
		return "", "", err
	}
	if len(theirs) < 8 || theirs[:8] != "SSH-2.0-" {
		return "", "", ErrNotSSH2
	}
	return ours, theirs, nil
}

// readVersionLine reads one line byte-by-byte so no payload bytes beyond
// the line are consumed; the first binary packet follows immediately.
func readVersionLine(r io.Reader) (string, error) {
	var line []byte
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			break
		}
		if len(line) >= maxVersionLineLength {
			return "", ErrVersionLineTooLong
		}
		line = append(line, buf[0])
	}
	// strip the CR of CRLF; bare LF is tolerated
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}
