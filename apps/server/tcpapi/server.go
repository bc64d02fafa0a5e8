package tcpapi

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/protocol"
)

type Deps struct {
	Conf    *core.Config
	Logger  core.Logger
	UserSvc user.Service
	AcadSvc academic.Service
	Advisor core.AdvisorService
}

// Server accepts framed-protocol connections, one goroutine per client.
type Server struct {
	conf   *core.Config
	logger core.Logger

	registry   *registry
	dispatcher *dispatcher

	mu  sync.Mutex
	lis net.Listener

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
	errs     chan error
}

func NewServer(deps Deps) *Server {
	s := &Server{
		conf:     deps.Conf,
		logger:   deps.Logger,
		registry: newRegistry(),
		quit:     make(chan struct{}),
		errs:     make(chan error, 1),
	}
	s.dispatcher = newDispatcher(deps, s.registry, s.signalShutdown)
	return s
}

// Errors delivers a fatal server error; the run loop in main selects on
// it against the OS signals.
func (s *Server) Errors() <-chan error { return s.errs }

func (s *Server) signalShutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
	select {
	case s.errs <- core.NewShutdownError("integrity failure"):
	default:
	}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.conf.Server.Addr())
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.conf.Server.Addr())
	}
	return s.Serve(lis)
}

// Serve runs the accept loop on lis. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("server listening", "addr", lis.Addr().String())
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, "accepting connection")
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr reports the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Sessions reports the live session count.
func (s *Server) Sessions() int { return s.registry.count() }

// DisconnectUser force-closes every session of the user; combined with
// token revocation this is the forced-logout path.
func (s *Server) DisconnectUser(userID string) int {
	return s.registry.closeUser(userID)
}

// Stop closes the listener and every session, then waits for the
// connection goroutines up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
	s.mu.Unlock()

	s.registry.closeAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for connections to drain")
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.Server.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			if n := s.registry.sweepIdle(s.conf.Server.IdleTimeout); n > 0 {
				s.logger.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// handleConn owns the connection: register, read loop, unregister. A
// framing violation or unreadable stream ends the session; everything
// else is answered and the loop continues.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	sess := newSession(conn, s.conf.Server.MaxFrameBytes)
	s.registry.add(sess)
	s.logger.Debug("session opened", "session", sess.id, "remote", conn.RemoteAddr().String())

	defer func() {
		sess.close()
		sess.markClosed()
		s.registry.remove(sess)
		s.logger.Debug("session closed", "session", sess.id)
	}()

	for {
		req, err := sess.codec.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFrameTooLarge):
				s.logger.Info("dropping session: oversized frame", "session", sess.id)
			case errors.Is(err, protocol.ErrMalformedFrame):
				s.logger.Info("dropping session: malformed frame", "session", sess.id)
			}
			return
		}
		sess.touch()

		resp := s.dispatcher.dispatch(sess, req)
		if err = sess.send(resp); err != nil {
			// the mutation, if any, has committed; client re-queries
			s.logger.Info("response write failed", "session", sess.id, "err", err)
			return
		}
	}
}
