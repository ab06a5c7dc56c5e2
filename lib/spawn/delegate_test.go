package spawn

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newDelegatePair runs the helper loop in-process on one end of a
// SEQPACKET pair and returns the requesting end.
func newDelegatePair(t *testing.T) *DelegatedOpen {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = serveDelegate(fds[1])
		unix.Close(fds[1])
	}()

	d := &DelegatedOpen{control: os.NewFile(uintptr(fds[0]), "delegate-control")}
	t.Cleanup(func() {
		d.control.Close()
		<-done
	})
	return d
}

func TestDelegatedOpenReturnsDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("delegated contents"), 0o600))

	d := newDelegatePair(t)

	f, err := d.Open(path)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "delegated contents", string(data))
}

func TestDelegatedOpenMissingFile(t *testing.T) {
	d := newDelegatePair(t)

	_, err := d.Open(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.ErrorIs(t, err, ErrDelegateFailed)
}

func TestDelegatedOpenPathTooLong(t *testing.T) {
	d := newDelegatePair(t)

	long := make([]byte, maxDelegatePathLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := d.Open(string(long))
	assert.ErrorIs(t, err, ErrDelegatePathSize)
}

func TestDelegatedOpenServesMultipleRequests(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
	}

	d := newDelegatePair(t)

	for _, name := range []string{"a", "b"} {
		f, err := d.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, name, string(data))
		f.Close()
	}
}
