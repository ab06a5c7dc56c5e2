package spawn

import (
	"os"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"
)

// maxDelegatePathLength bounds one path message on the control socket.
const maxDelegatePathLength = 4096

var (
	ErrDelegateFailed   = oops.Errorf("delegated open failed")
	ErrDelegatePathSize = oops.Errorf("delegated path too long")
)

// DelegatedOpen opens a path on behalf of the server through a short-lived
// child process: the child runs inside the connection's namespace, receives
// the path over a SEQPACKET pair, opens it read-only and passes the
// descriptor back via SCM_RIGHTS. On error the child sends no descriptor.
type DelegatedOpen struct {
	control *os.File
	child   *ChildHandle
}

// NewDelegatedOpen spawns the helper. prepare configures the namespace
// side of the PreparedChildProcess (mounts, uid/gid) before the spawn.
func NewDelegatedOpen(service *Service, helperArgv []string, prepare func(*PreparedChildProcess)) (*DelegatedOpen, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, oops.Errorf("socketpair failed: %w", err)
	}
	ours := os.NewFile(uintptr(fds[0]), "delegate-control")
	theirs := os.NewFile(uintptr(fds[1]), "delegate-control-child")
	defer theirs.Close()

	p := &PreparedChildProcess{
		Argv:          helperArgv,
		ControlSocket: theirs,
	}
	if prepare != nil {
		prepare(p)
	}

	child, err := service.Spawn("delegate-open", p)
	if err != nil {
		ours.Close()
		return nil, err
	}

	return &DelegatedOpen{control: ours, child: child}, nil
}

// Open requests one file. The helper serves requests until the control
// socket closes.
func (d *DelegatedOpen) Open(path string) (*os.File, error) {
	if len(path) > maxDelegatePathLength {
		return nil, ErrDelegatePathSize
	}
	if err := unix.Send(int(d.control.Fd()), []byte(path), 0); err != nil {
		return nil, oops.Errorf("failed to send path: %w", err)
	}

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(int(d.control.Fd()), buf, oob, 0)
	if err != nil {
		return nil, oops.Errorf("failed to receive descriptor: %w", err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(cmsgs) == 0 {
		// the helper answered without a descriptor: open failed
		return nil, ErrDelegateFailed
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return nil, ErrDelegateFailed
	}
	return os.NewFile(uintptr(fds[0]), path), nil
}

// Close releases the helper; the child exits when its socket end closes.
func (d *DelegatedOpen) Close() {
	d.control.Close()
	d.child.Release()
}

// RunDelegateHelper is the child side: it serves open requests on the
// control socket (inherited as fd 3) until the peer closes it. The CLI
// invokes it from a hidden subcommand after the namespace setup applied.
func RunDelegateHelper() error {
	return serveDelegate(3)
}

func serveDelegate(controlFd int) error {
	buf := make([]byte, maxDelegatePathLength)
	for {
		n, _, err := unix.Recvfrom(controlFd, buf, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // peer closed
		}

		path := string(buf[:n])
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			// no descriptor attached signals failure
			if err := unix.Send(controlFd, []byte{0}, 0); err != nil {
				return err
			}
			continue
		}

		rights := unix.UnixRights(fd)
		if err := unix.Sendmsg(controlFd, []byte{1}, rights, nil, 0); err != nil {
			unix.Close(fd)
			return err
		}
		unix.Close(fd)
	}
}
