package server

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/pfirsich/cm4all-lukko/lib/spawn"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/connection"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/translation"
)

// SessionChannel runs a shell, a command or a subsystem for one channel,
// or proxies the byte stream to an upstream when the profile says so.
// Stdin arrives through the buffered adapter so partial writes to the
// child stay buffered instead of lost.
type SessionChannel struct {
	ch      *connection.Channel
	conn    *Connection
	profile *translation.Profile

	mu sync.Mutex

	child *spawn.ChildHandle

	// PTY mode: ptmx is our side, slaveTty the child's
	ptmx     *os.File
	slaveTty *os.File

	// pipe mode
	stdinW  *os.File
	stdoutR *os.File
	stderrR *os.File

	// proxy mode
	upstream net.Conn

	env []string

	started  bool
	exitSent bool
	pumps    sync.WaitGroup
}

// compile-time interface check
var _ connection.BufferedHandler = (*SessionChannel)(nil)

func newSessionChannel(conn *Connection, ch *connection.Channel, profile *translation.Profile) *SessionChannel {
	return &SessionChannel{
		ch:      ch,
		conn:    conn,
		profile: profile,
	}
}

func (s *SessionChannel) OnRequest(requestType string, payload []byte) (bool, error) {
	log.WithField("request", requestType).Debug("Session channel request")

	switch requestType {
	case "pty-req":
		return s.handlePtyReq(payload), nil
	case "env":
		return s.handleEnv(payload), nil
	case "shell":
		return s.handleStart(nil, ""), nil
	case "exec":
		r := wire.NewReader(payload)
		command, err := r.ReadText()
		if err != nil {
			return false, nil
		}
		return s.handleStart([]string{"/bin/sh", "-c", command}, ""), nil
	case "subsystem":
		r := wire.NewReader(payload)
		name, err := r.ReadText()
		if err != nil {
			return false, nil
		}
		return s.handleStart(nil, name), nil
	case "window-change":
		return s.handleWindowChange(payload), nil
	case "signal":
		return s.handleSignal(payload), nil
	}
	return false, nil
}

func (s *SessionChannel) handlePtyReq(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.ptmx != nil {
		// a PTY must be requested before the process starts
		return false
	}

	r := wire.NewReader(payload)
	term, err := r.ReadText()
	if err != nil {
		return false
	}
	cols, _ := r.ReadU32()
	rows, _ := r.ReadU32()
	xpixel, _ := r.ReadU32()
	ypixel, _ := r.ReadU32()
	// the encoded terminal modes are not applied; the slave keeps its
	// defaults

	ptmx, tts, err := pty.Open()
	if err != nil {
		log.WithError(err).Error("Failed to allocate PTY")
		return false
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{
		Rows: uint16(rows), Cols: uint16(cols),
		X: uint16(xpixel), Y: uint16(ypixel),
	})

	s.ptmx = ptmx
	s.slaveTty = tts
	s.env = append(s.env, "TERM="+term)
	return true
}

func (s *SessionChannel) handleEnv(payload []byte) bool {
	r := wire.NewReader(payload)
	name, err := r.ReadText()
	if err != nil {
		return false
	}
	value, err := r.ReadText()
	if err != nil {
		return false
	}

	s.mu.Lock()
	s.env = append(s.env, name+"="+value)
	s.mu.Unlock()
	return true
}

func (s *SessionChannel) handleWindowChange(payload []byte) bool {
	r := wire.NewReader(payload)
	cols, _ := r.ReadU32()
	rows, _ := r.ReadU32()
	xpixel, _ := r.ReadU32()
	ypixel, _ := r.ReadU32()

	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return false
	}
	return pty.Setsize(ptmx, &pty.Winsize{
		Rows: uint16(rows), Cols: uint16(cols),
		X: uint16(xpixel), Y: uint16(ypixel),
	}) == nil
}

var signalNames = map[string]os.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

func (s *SessionChannel) handleSignal(payload []byte) bool {
	r := wire.NewReader(payload)
	name, err := r.ReadText()
	if err != nil {
		return false
	}

	s.mu.Lock()
	child := s.child
	s.mu.Unlock()

	sig, ok := signalNames[name]
	if !ok || child == nil {
		return false
	}
	return child.Signal(sig) == nil
}

// handleStart runs exactly one child (or connects the upstream proxy) for
// this session; a second shell/exec/subsystem request fails.
func (s *SessionChannel) handleStart(argv []string, subsystem string) bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return false
	}

	if proxyTo := s.conn.proxyTarget(s.profile); proxyTo != "" {
		if !s.startProxy(proxyTo) {
			return false
		}
	} else {
		if subsystem != "" {
			if subsystem != "sftp" {
				log.WithField("subsystem", subsystem).Debug("Unknown subsystem")
				return false
			}
			argv = []string{s.conn.listener.cfg.SftpServer}
		}
		if argv == nil {
			argv = []string{s.shellPath()}
		}

		if err := s.spawnChild(argv); err != nil {
			// the channel stays open; the client decides what to do next
			log.WithError(err).Error("Failed to spawn session child")
			return false
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	// flush stdin bytes that arrived before the start request
	s.conn.wakeupSession(s.ch)
	return true
}

func (s *SessionChannel) shellPath() string {
	if s.profile != nil && s.profile.Shell != "" {
		return s.profile.Shell
	}
	return "/bin/sh"
}

func (s *SessionChannel) spawnChild(argv []string) error {
	p := &spawn.PreparedChildProcess{
		Argv:         argv,
		Env:          s.buildEnv(),
		ExitListener: s,
	}
	if s.profile != nil {
		p.Dir = s.profile.HomeDir
		p.UID = s.profile.UID
		p.GID = s.profile.GID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ptmx != nil {
		p.Tty = s.slaveTty
	} else {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return err
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			return err
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			return err
		}
		p.Stdin = stdinR
		p.Stdout = stdoutW
		p.Stderr = stderrW
		s.stdinW = stdinW
		s.stdoutR = stdoutR
		s.stderrR = stderrR
		defer stdinR.Close()
		defer stdoutW.Close()
		defer stderrW.Close()
	}

	child, err := s.conn.listener.spawnService.Spawn("session", p)
	if err != nil {
		s.closeDescriptorsLocked()
		return err
	}
	s.child = child

	if s.ptmx != nil {
		// the child holds the slave now
		s.slaveTty.Close()
		s.slaveTty = nil
		s.pumps.Add(1)
		go s.pump(s.ptmx, false)
	} else {
		s.pumps.Add(2)
		go s.pump(s.stdoutR, false)
		go s.pump(s.stderrR, true)
	}
	return nil
}

func (s *SessionChannel) buildEnv() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := make([]string, 0, len(s.env)+2)
	env = append(env, s.env...)
	if s.profile != nil && s.profile.HomeDir != "" {
		env = append(env, "HOME="+s.profile.HomeDir)
	}
	env = append(env, "USER="+s.conn.User())
	return env
}

// pump drains one child output stream into the channel. Backpressure is
// inherent: SendData blocks on the peer window and the send queue.
func (s *SessionChannel) pump(src *os.File, stderr bool) {
	defer s.pumps.Done()

	buf := make([]byte, 16*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			var werr error
			if stderr {
				werr = s.ch.SendExtendedData(wire.ExtendedDataStderr, buf[:n])
			} else {
				werr = s.ch.SendData(buf[:n])
			}
			if werr != nil {
				return
			}
		}
		if err != nil {
			// EIO is the normal PTY hangup after the child exits
			return
		}
	}
}

// startProxy dials the upstream and forwards the raw byte stream in both
// directions.
func (s *SessionChannel) startProxy(address string) bool {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		log.WithError(err).WithField("upstream", address).Error("Upstream dial failed")
		return false
	}

	s.mu.Lock()
	s.upstream = conn
	s.mu.Unlock()

	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		buf := make([]byte, 16*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if s.ch.SendData(buf[:n]) != nil {
					return
				}
			}
			if err != nil {
				s.finish(0, "")
				return
			}
		}
	}()

	return true
}

// OnBufferedData feeds stdin. Before the child starts, nothing is
// consumed and the bytes stay buffered.
func (s *SessionChannel) OnBufferedData(data []byte) (int, error) {
	s.mu.Lock()
	var dst io.Writer
	switch {
	case s.upstream != nil:
		dst = s.upstream
	case s.ptmx != nil && s.child != nil:
		dst = s.ptmx
	case s.stdinW != nil:
		dst = s.stdinW
	}
	s.mu.Unlock()

	if dst == nil {
		return 0, nil
	}
	n, err := dst.Write(data)
	if err != nil {
		// stdin is gone (child exited); swallow the rest
		return len(data), nil
	}
	return n, nil
}

// OnBufferedEOF closes the child's stdin once all buffered bytes were
// delivered.
func (s *SessionChannel) OnBufferedEOF() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upstream != nil {
		if cw, ok := s.upstream.(interface{ CloseWrite() error }); ok {
			return cw.CloseWrite()
		}
		return nil
	}
	if s.stdinW != nil {
		err := s.stdinW.Close()
		s.stdinW = nil
		return err
	}
	return nil
}

func (s *SessionChannel) OnExtendedData(dataType wire.ChannelExtendedDataType, payload []byte) error {
	// clients do not send extended data on sessions
	return nil
}

// OnChildProcessExit latches the exit status and finishes the channel:
// exit-status or exit-signal, then EOF, then CLOSE.
func (s *SessionChannel) OnChildProcessExit(status int) {
	if status < 0 {
		s.finish(0, signalName(-status))
	} else {
		s.finish(uint32(status), "")
	}
}

func signalName(sig int) string {
	for name, s := range signalNames {
		if s == syscall.Signal(sig) {
			return name
		}
	}
	return "KILL"
}

func (s *SessionChannel) finish(status uint32, signal string) {
	s.mu.Lock()
	if s.exitSent {
		s.mu.Unlock()
		return
	}
	s.exitSent = true
	s.mu.Unlock()

	// let the output pumps deliver everything the child wrote first
	s.pumps.Wait()

	if s.upstream == nil {
		if signal != "" {
			_ = s.ch.SendRequest("exit-signal", func(w *wire.Serializer) error {
				if err := w.WriteString(signal); err != nil {
					return err
				}
				if err := w.WriteBool(false); err != nil { // core dumped
					return err
				}
				if err := w.WriteString(""); err != nil { // error message
					return err
				}
				return w.WriteString("") // language tag
			})
		} else {
			_ = s.ch.SendRequest("exit-status", func(w *wire.Serializer) error {
				return w.WriteU32(status)
			})
		}
	}

	_ = s.ch.SendEOF()
	_ = s.ch.SendClose()
}

// OnWriteBlocked pauses nothing explicitly: the pump goroutines already
// block inside SendData when the window or the send queue is exhausted.
func (s *SessionChannel) OnWriteBlocked() {}

func (s *SessionChannel) OnWriteUnblocked() {}

func (s *SessionChannel) OnClose() {
	s.mu.Lock()
	child := s.child
	s.child = nil
	s.closeDescriptorsLocked()
	upstream := s.upstream
	s.upstream = nil
	s.mu.Unlock()

	if upstream != nil {
		upstream.Close()
	}
	if child != nil {
		child.Release()
	}
}

func (s *SessionChannel) closeDescriptorsLocked() {
	for _, f := range []*os.File{s.ptmx, s.slaveTty, s.stdinW, s.stdoutR, s.stderrR} {
		if f != nil {
			f.Close()
		}
	}
	s.ptmx = nil
	s.slaveTty = nil
	s.stdinW = nil
	s.stdoutR = nil
	s.stderrR = nil
}
