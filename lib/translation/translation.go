package translation

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
)

var log = logger.GetLukkoLogger()

var (
	ErrRejected  = oops.Errorf("translation server rejected the login")
	ErrMalformed = oops.Errorf("malformed translation response")
)

// Profile is the per-login execution profile the translation server
// returns: which directory to start in, which credentials to drop to, and an
// optional upstream to proxy session channels to instead of spawning.
type Profile struct {
	ProxyTo string
	HomeDir string
	Shell   string
	UID     uint32
	GID     uint32
}

// Client queries the translation server over its unix socket. A nil
// client accepts every login with an empty profile.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	if socketPath == "" {
		return nil
	}
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

// Lookup asks for a decision on (listener tag, user, auth method). The
// wire format is line-based: one "KEY VALUE" pair per line, terminated by
// an empty line. The response is either "REJECT" or "ACCEPT" followed by
// profile pairs.
func (c *Client) Lookup(ctx context.Context, tag, user, method string) (*Profile, error) {
	if c == nil {
		return &Profile{}, nil
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, oops.Errorf("translation server unreachable: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	var req strings.Builder
	req.WriteString("LOGIN " + user + "\n")
	req.WriteString("SERVICE ssh\n")
	if tag != "" {
		req.WriteString("TAG " + tag + "\n")
	}
	req.WriteString("AUTH " + method + "\n\n")
	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, oops.Errorf("translation request failed: %w", err)
	}

	return parseResponse(bufio.NewReader(conn))
}

func parseResponse(r *bufio.Reader) (*Profile, error) {
	first, err := r.ReadString('\n')
	if err != nil {
		return nil, ErrMalformed
	}
	switch strings.TrimSpace(first) {
	case "ACCEPT":
	case "REJECT":
		return nil, ErrRejected
	default:
		return nil, ErrMalformed
	}

	profile := &Profile{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		switch key {
		case "PROXY_TO":
			profile.ProxyTo = value
		case "HOME":
			profile.HomeDir = value
		case "SHELL":
			profile.Shell = value
		case "UID":
			profile.UID = parseID(value)
		case "GID":
			profile.GID = parseID(value)
		default:
			log.WithField("key", key).Debug("Ignoring unknown translation pair")
		}
	}
	return profile, nil
}

func parseID(s string) uint32 {
	var id uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		id = id*10 + uint32(c-'0')
	}
	return id
}
