package server

import (
	"context"
	"net"
	"sync"

	"github.com/pfirsich/cm4all-lukko/lib/config"
	"github.com/pfirsich/cm4all-lukko/lib/spawn"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/pfirsich/cm4all-lukko/lib/translation"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetLukkoLogger()

// Listener accepts connections and owns them until teardown. Connections
// are keyed by a monotonically increasing id so removal stays O(1).
type Listener struct {
	cfg           *config.ServerConfig
	hostKey       *keys.HostKey
	spawnService  *spawn.Service
	translation   *translation.Client
	authenticator Authenticator

	limiter *rate.Limiter

	ln net.Listener

	mu          sync.Mutex
	connections map[uint64]*Connection
	nextID      uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewListener wires the listener's collaborators. The host key is loaded
// (or generated) here so startup fails fast on a bad key file.
func NewListener(cfg *config.ServerConfig, authenticator Authenticator) (*Listener, error) {
	hostKey, err := keys.LoadOrGenerate(cfg.HostKey.Path, cfg.HostKey.Type, cfg.HostKey.Generate)
	if err != nil {
		return nil, oops.Errorf("host key unavailable: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:           cfg,
		hostKey:       hostKey,
		spawnService:  spawn.NewService(),
		translation:   translation.NewClient(cfg.Translation.Socket),
		authenticator: authenticator,
		limiter:       rate.NewLimiter(rate.Limit(cfg.Limits.AcceptRate), cfg.Limits.AcceptBurst),
		connections:   make(map[uint64]*Connection),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (l *Listener) methodEnabled(method string) bool {
	for _, m := range l.cfg.Auth.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Addr returns the bound address, nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the listen address and launches the accept loop.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.cfg.Listen)
	if err != nil {
		return oops.Errorf("failed to bind %s: %w", l.cfg.Listen, err)
	}
	l.ln = ln
	l.running = true

	log.WithField("address", ln.Addr().String()).Debug("Listener started")

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		if err := l.limiter.Wait(l.ctx); err != nil {
			return
		}

		sock, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			log.WithError(err).Warn("Accept failed")
			continue
		}

		l.mu.Lock()
		id := l.nextID
		l.nextID++
		conn := newConnection(id, l, sock)
		l.connections[id] = conn
		l.mu.Unlock()

		log.WithField("conn", id).WithField("remote", sock.RemoteAddr().String()).
			Debug("Accepted connection")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			conn.run(l.ctx)
		}()
	}
}

func (l *Listener) removeConnection(id uint64) {
	l.mu.Lock()
	delete(l.connections, id)
	l.mu.Unlock()
}

// DisconnectAll sends DISCONNECT (by-application) on every live
// connection; registered as the pre-shutdown handler.
func (l *Listener) DisconnectAll() {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.connections))
	for _, c := range l.connections {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.Disconnect(wire.DisconnectByApplication, "server shutting down")
	}
}

// Stop closes the listening socket and all connections.
func (l *Listener) Stop() {
	if !l.running {
		return
	}
	l.running = false

	l.cancel()
	if l.ln != nil {
		l.ln.Close()
	}
	l.DisconnectAll()
}

// Wait blocks until the accept loop and all connections finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Close stops the listener and waits for everything to drain.
func (l *Listener) Close() {
	l.Stop()
	l.Wait()
}
