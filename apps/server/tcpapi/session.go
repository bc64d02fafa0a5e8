package tcpapi

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/protocol"
)

type sessionState int

const (
	stateConnected sessionState = iota
	stateAuthenticated
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateAuthenticated:
		return "authenticated"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// session is one client connection. The read loop is the only reader;
// writes go through send which serializes concurrent senders (handler
// responses and forced-logout notices).
type session struct {
	id    string
	conn  net.Conn
	codec *protocol.Codec

	sendMu sync.Mutex

	mu         sync.Mutex
	state      sessionState
	token      string
	claims     *user.Claims
	lastActive time.Time

	closeOnce sync.Once
}

func newSession(conn net.Conn, maxFrame int) *session {
	return &session{
		id:         uuid.New().String(),
		conn:       conn,
		codec:      protocol.NewCodec(conn, maxFrame),
		state:      stateConnected,
		lastActive: time.Now(),
	}
}

func (s *session) send(msg protocol.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.codec.WriteMessage(msg)
}

// authenticate moves the session to the authenticated state, binding the
// token so later requests are checked against live revocation state.
func (s *session) authenticate(token string, claims *user.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.claims = claims
	if s.state == stateConnected {
		s.state = stateAuthenticated
	}
}

// clearAuth drops the session back to connected; the connection stays
// usable for a fresh login.
func (s *session) clearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = nil
	if s.state == stateAuthenticated {
		s.state = stateConnected
	}
}

func (s *session) credentials() (token string, claims *user.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.claims
}

func (s *session) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims == nil {
		return ""
	}
	return s.claims.Subject
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// close is idempotent; closing the conn unblocks the read loop, which
// marks the session closed on its way out.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosing
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *session) markClosed() {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
}

// registry tracks live sessions for the idle sweeper, forced logout and
// shutdown.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) add(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *registry) remove(s *session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *registry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// sweepIdle closes sessions idle past the timeout and reports how many.
func (r *registry) sweepIdle(timeout time.Duration) int {
	now := time.Now()
	var swept int
	for _, s := range r.all() {
		if s.idleFor(now) > timeout {
			s.close()
			swept++
		}
	}
	return swept
}

// closeUser force-closes every session of the given user.
func (r *registry) closeUser(userID string) int {
	var closed int
	for _, s := range r.all() {
		if s.userID() == userID {
			s.close()
			closed++
		}
	}
	return closed
}

func (r *registry) closeAll() {
	for _, s := range r.all() {
		s.close()
	}
}
