package translation

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers one translation request per connection with a fixed
// response and records what it received.
func fakeServer(t *testing.T, response string) (string, <-chan string) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "translation.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	requests := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				var req strings.Builder
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\n" {
						break
					}
					req.WriteString(line)
				}
				requests <- req.String()
				_, _ = conn.Write([]byte(response))
			}(conn)
		}
	}()
	return socket, requests
}

func TestLookupAccept(t *testing.T) {
	socket, requests := fakeServer(t,
		"ACCEPT\nHOME /home/alice\nSHELL /bin/bash\nUID 1000\nGID 1000\nPROXY_TO 10.0.0.1:22\n\n")

	c := NewClient(socket)
	profile, err := c.Lookup(context.Background(), "gw1", "alice", "publickey")
	require.NoError(t, err)

	assert.Equal(t, "/home/alice", profile.HomeDir)
	assert.Equal(t, "/bin/bash", profile.Shell)
	assert.Equal(t, uint32(1000), profile.UID)
	assert.Equal(t, uint32(1000), profile.GID)
	assert.Equal(t, "10.0.0.1:22", profile.ProxyTo)

	req := <-requests
	assert.Contains(t, req, "LOGIN alice\n")
	assert.Contains(t, req, "TAG gw1\n")
	assert.Contains(t, req, "AUTH publickey\n")
}

func TestLookupReject(t *testing.T) {
	socket, _ := fakeServer(t, "REJECT\n")

	c := NewClient(socket)
	_, err := c.Lookup(context.Background(), "", "mallory", "password")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestLookupMalformed(t *testing.T) {
	socket, _ := fakeServer(t, "WAT\n")

	c := NewClient(socket)
	_, err := c.Lookup(context.Background(), "", "alice", "password")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNilClientAcceptsEverything(t *testing.T) {
	c := NewClient("")
	require.Nil(t, c)

	profile, err := c.Lookup(context.Background(), "", "anyone", "none")
	require.NoError(t, err)
	assert.Empty(t, profile.ProxyTo)
}

func TestLookupUnreachable(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Lookup(context.Background(), "", "alice", "password")
	assert.Error(t, err)
}
