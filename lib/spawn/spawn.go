package spawn

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
	"golang.org/x/sys/unix"
)

var log = logger.GetLukkoLogger()

var (
	ErrNoCommand  = oops.Errorf("prepared child process has no command")
	ErrSpawnDenied = oops.Errorf("spawn service refused the request")
)

// ExitListener receives the child's exit status: the exit code, or the
// negated signal number when the child was killed.
type ExitListener interface {
	OnChildProcessExit(status int)
}

// Rlimit is one resource limit applied to the child.
type Rlimit struct {
	Resource int
	Cur      uint64
	Max      uint64
}

// PreparedChildProcess collects everything needed to start a child:
// command line, environment, descriptors and isolation parameters. The
// caller keeps ownership of the descriptors; Spawn duplicates them into
// the child.
type PreparedChildProcess struct {
	// Argv is the command line; Argv[0] is the executable unless ExecPath
	// overrides it.
	Argv     []string
	ExecPath string

	// Env is the full environment as NAME=VALUE strings.
	Env []string

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// ControlSocket is inherited as fd 3 when set (delegated-open
	// helpers).
	ControlSocket *os.File

	// Tty, when set, becomes the child's controlling terminal and its
	// stdio; Stdin/Stdout/Stderr are then ignored.
	Tty *os.File

	Dir string

	// UID/GID switch credentials when non-zero.
	UID uint32
	GID uint32

	Rlimits []Rlimit

	ExitListener ExitListener
}

// ChildHandle tracks one running child. Releasing the handle kills the
// process; the exit listener still fires.
type ChildHandle struct {
	name string
	cmd  *exec.Cmd

	killOnce sync.Once
	done     chan struct{}
}

// Service starts child processes. One instance is shared by all
// connections; it is safe for concurrent use.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Spawn starts the prepared child and watches for its exit.
func (s *Service) Spawn(name string, p *PreparedChildProcess) (*ChildHandle, error) {
	if len(p.Argv) == 0 {
		return nil, ErrNoCommand
	}

	path := p.ExecPath
	if path == "" {
		var err error
		if path, err = exec.LookPath(p.Argv[0]); err != nil {
			return nil, oops.Errorf("command not found: %w", err)
		}
	}

	cmd := &exec.Cmd{
		Path: path,
		Args: p.Argv,
		Env:  p.Env,
		Dir:  p.Dir,
	}

	sys := &syscall.SysProcAttr{}
	if p.Tty != nil {
		cmd.Stdin = p.Tty
		cmd.Stdout = p.Tty
		cmd.Stderr = p.Tty
		sys.Setsid = true
		sys.Setctty = true
		sys.Ctty = 0
	} else {
		cmd.Stdin = p.Stdin
		cmd.Stdout = p.Stdout
		cmd.Stderr = p.Stderr
	}
	if p.ControlSocket != nil {
		cmd.ExtraFiles = []*os.File{p.ControlSocket}
	}
	if p.UID != 0 || p.GID != 0 {
		sys.Credential = &syscall.Credential{Uid: p.UID, Gid: p.GID}
	}
	cmd.SysProcAttr = sys

	if err := cmd.Start(); err != nil {
		return nil, oops.Errorf("failed to start %s: %w", name, err)
	}

	// limits are applied with prlimit once Start returned, i.e. after the
	// child already exec'd the command; it runs without them until then
	for _, rl := range p.Rlimits {
		limit := unix.Rlimit{Cur: rl.Cur, Max: rl.Max}
		if err := unix.Prlimit(cmd.Process.Pid, rl.Resource, &limit, nil); err != nil {
			log.WithError(err).WithField("resource", rl.Resource).Warn("Failed to apply rlimit")
		}
	}

	log.WithField("name", name).WithField("pid", cmd.Process.Pid).Debug("Spawned child process")

	h := &ChildHandle{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.wait(p.ExitListener)
	return h, nil
}

func (h *ChildHandle) wait(listener ExitListener) {
	defer close(h.done)

	err := h.cmd.Wait()
	status := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			ws := exitErr.Sys().(syscall.WaitStatus)
			if ws.Signaled() {
				status = -int(ws.Signal())
			} else {
				status = ws.ExitStatus()
			}
		} else {
			status = -1
		}
	}

	log.WithField("name", h.name).WithField("status", status).Debug("Child process exited")
	if listener != nil {
		listener.OnChildProcessExit(status)
	}
}

// Pid returns the child's process id.
func (h *ChildHandle) Pid() int {
	return h.cmd.Process.Pid
}

// Signal delivers a signal to the child.
func (h *ChildHandle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}

// Release requests termination; the destructor semantics of the handle.
// Idempotent, never blocks on the child.
func (h *ChildHandle) Release() {
	h.killOnce.Do(func() {
		select {
		case <-h.done:
			// already exited
		default:
			_ = h.cmd.Process.Kill()
		}
	})
}
