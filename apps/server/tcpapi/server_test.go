package tcpapi

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/protocol"
	inmemdb "github.com/trezcool/chuo/storage/database/inmem"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type dummyMailer struct{}

func (dummyMailer) SendMessages(...*core.EmailMessage) {}

type advisorFunc func(ctx context.Context, prompt string) (string, error)

func (f advisorFunc) Advise(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const testPassword = "Sekret#123"

func seedUser(t *testing.T, repo user.Repository, id, uname string, roles ...string) user.User {
	t.Helper()
	usr := user.User{
		ID:       id,
		Name:     "Test " + uname,
		Username: uname,
		Email:    uname + "@chuo.test",
		IsActive: true,
		Roles:    roles,
	}
	require.NoError(t, usr.SetPassword(testPassword))
	usr, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func seedCatalog(t *testing.T, store *academic.Store) {
	t.Helper()
	require.NoError(t, store.AddCourse(academic.Course{Code: "CS101", Title: "Intro to CS", Credits: 3, Department: "CS"}))
	require.NoError(t, store.AddCourse(academic.Course{Code: "MA101", Title: "Calculus I", Credits: 4, Department: "Math"}))
	require.NoError(t, store.AddTerm(academic.Term{ID: "2026F", Name: "Fall 2026"}))
	require.NoError(t, store.AddSection(academic.Section{
		ID: "CS101-A", CourseCode: "CS101", TeacherID: "T001", TermID: "2026F",
		Capacity: 2, Schedule: "Mon 08:00", Room: "A1",
	}))
	require.NoError(t, store.AddSection(academic.Section{
		ID: "MA101-A", CourseCode: "MA101", TeacherID: "T002", TermID: "2026F",
		Capacity: 30, Schedule: "Wed 14:00", Room: "C1",
	}))
}

type testEnv struct {
	srv    *Server
	addr   string
	usrSvc user.Service
	store  *academic.Store
}

func startServer(t *testing.T) *testEnv {
	t.Helper()

	conf := core.NewConfig()
	conf.Server.SweepInterval = 50 * time.Millisecond

	db, err := inmemdb.Open()
	require.NoError(t, err)
	repo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(repo, dummyMailer{}, conf)

	seedUser(t, repo, "S001", "alice", user.RoleStudent)
	seedUser(t, repo, "S002", "bob", user.RoleStudent)
	seedUser(t, repo, "T001", "tracy", user.RoleTeacher)
	seedUser(t, repo, "T002", "tom", user.RoleTeacher)
	seedUser(t, repo, "A001", "root", user.RoleAdminRegistrar)

	store := academic.NewStore()
	seedCatalog(t, store)
	acadSvc := academic.NewService(store, nil, nopLogger{})

	srv := NewServer(Deps{
		Conf:    conf,
		Logger:  nopLogger{},
		UserSvc: usrSvc,
		AcadSvc: acadSvc,
		Advisor: advisorFunc(func(_ context.Context, prompt string) (string, error) {
			return "advice for: " + prompt, nil
		}),
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		acadSvc.Close()
	})
	return &testEnv{srv: srv, addr: lis.Addr().String(), usrSvc: usrSvc, store: store}
}

type testClient struct {
	t     *testing.T
	conn  net.Conn
	codec *protocol.Codec
	seq   int
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return &testClient{t: t, conn: conn, codec: protocol.NewCodec(conn, 0)}
}

// do sends one request and waits for its response, checking the
// correlation id is echoed.
func (c *testClient) do(kind string, payload interface{}) protocol.Message {
	c.t.Helper()
	c.seq++
	corr := fmt.Sprintf("corr-%d", c.seq)
	req, err := protocol.NewRequest(kind, corr, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.codec.WriteMessage(req))

	resp, err := c.codec.ReadMessage()
	require.NoError(c.t, err)
	assert.Equal(c.t, protocol.TypeResponse, resp.Type)
	assert.Equal(c.t, kind, resp.Kind)
	assert.Equal(c.t, corr, resp.CorrelationID)
	return resp
}

func (c *testClient) login(username string) protocol.Message {
	c.t.Helper()
	resp := c.do(protocol.KindLogin, loginRequest{Username: username, Password: testPassword})
	require.Equal(c.t, protocol.StatusSuccess, resp.Status, "login failed: %+v", resp.Error)
	return resp
}

func TestServer_login(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)

	t.Run("wrong password", func(t *testing.T) {
		resp := c.do(protocol.KindLogin, loginRequest{Username: "alice", Password: "nope"})
		assert.Equal(t, protocol.StatusUnauthorized, resp.Status)
		assert.Equal(t, protocol.ErrKindUnauthenticated, resp.Error.Kind)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := c.do(protocol.KindLogin, loginRequest{Username: "alice"})
		assert.Equal(t, protocol.ErrKindValidation, resp.Error.Kind)
		require.NotEmpty(t, resp.Error.Fields)
		assert.Equal(t, "password", resp.Error.Fields[0].Field)
	})

	t.Run("ok", func(t *testing.T) {
		resp := c.login("alice")
		var out loginResponse
		require.NoError(t, json.Unmarshal(resp.Payload, &out))
		assert.NotEmpty(t, out.Token)
		assert.Equal(t, "S001", out.User.ID)
		assert.Contains(t, out.User.Roles, user.RoleStudent)
		assert.True(t, out.ExpiresAt.After(time.Now()))
	})
}

func TestServer_authGate(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)

	// ping is open
	resp := c.do(protocol.KindPing, nil)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)

	// everything else is not
	resp = c.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})
	assert.Equal(t, protocol.StatusUnauthorized, resp.Status)
	assert.Equal(t, protocol.ErrKindUnauthenticated, resp.Error.Kind)

	// the session survives the rejection
	c.login("alice")
	resp = c.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}

func TestServer_roleTable(t *testing.T) {
	env := startServer(t)

	student := dial(t, env.addr)
	student.login("alice")
	teacher := dial(t, env.addr)
	teacher.login("tracy")
	admin := dial(t, env.addr)
	admin.login("root")

	tests := []struct {
		name    string
		client  *testClient
		kind    string
		payload interface{}
		granted bool
	}{
		{name: "student cannot record grades", client: student, kind: protocol.KindRecordGrade,
			payload: recordGradeRequest{SectionID: "CS101-A", StudentID: "S001", Score: 90}},
		{name: "student cannot finalize", client: student, kind: protocol.KindFinalizeTerm,
			payload: termRequest{TermID: "2026F"}},
		{name: "teacher cannot enroll", client: teacher, kind: protocol.KindEnroll,
			payload: sectionRequest{SectionID: "CS101-A"}},
		{name: "teacher cannot finalize", client: teacher, kind: protocol.KindFinalizeTerm,
			payload: termRequest{TermID: "2026F"}},
		{name: "admin cannot enroll", client: admin, kind: protocol.KindEnroll,
			payload: sectionRequest{SectionID: "CS101-A"}},
		{name: "teacher sees own roster", client: teacher, kind: protocol.KindRoster,
			payload: sectionRequest{SectionID: "CS101-A"}, granted: true},
		{name: "teacher denied another's roster", client: teacher, kind: protocol.KindRoster,
			payload: sectionRequest{SectionID: "MA101-A"}},
		{name: "admin sees any roster", client: admin, kind: protocol.KindRoster,
			payload: sectionRequest{SectionID: "MA101-A"}, granted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.client.do(tt.kind, tt.payload)
			if tt.granted {
				assert.Equal(t, protocol.StatusSuccess, resp.Status)
			} else {
				assert.Equal(t, protocol.StatusUnauthorized, resp.Status)
				assert.Equal(t, protocol.ErrKindForbidden, resp.Error.Kind)
			}
		})
	}
}

func TestServer_enrollmentFlow(t *testing.T) {
	env := startServer(t)

	alice := dial(t, env.addr)
	alice.login("alice")
	bob := dial(t, env.addr)
	bob.login("bob")

	// browse
	resp := alice.do(protocol.KindListCourses, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var courses []academic.Course
	require.NoError(t, json.Unmarshal(resp.Payload, &courses))
	assert.Len(t, courses, 2)

	resp = alice.do(protocol.KindListSections, academic.SectionFilter{CourseCode: "CS101"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var sections []academic.SectionView
	require.NoError(t, json.Unmarshal(resp.Payload, &sections))
	require.Len(t, sections, 1)
	assert.Equal(t, 2, sections[0].Capacity)

	// both students take the 2 seats
	resp = alice.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	resp = bob.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	// duplicate and full are business rejections, not session killers
	resp = alice.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})
	assert.Equal(t, protocol.ErrKindRejected, resp.Error.Kind)
	assert.Equal(t, academic.ErrAlreadyEnrolled.Error(), resp.Error.Message)

	// drop frees the seat
	resp = alice.do(protocol.KindDrop, sectionRequest{SectionID: "CS101-A"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = alice.do(protocol.KindListMySchedule, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var schedule []academic.SectionView
	require.NoError(t, json.Unmarshal(resp.Payload, &schedule))
	assert.Empty(t, schedule)

	// grade + transcript
	teacher := dial(t, env.addr)
	teacher.login("tracy")
	resp = teacher.do(protocol.KindRecordGrade, recordGradeRequest{SectionID: "CS101-A", StudentID: "S002", Score: 88.5})
	require.Equal(t, protocol.StatusSuccess, resp.Status, "record grade: %+v", resp.Error)

	resp = bob.do(protocol.KindListMyGrades, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var grades gradesResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &grades))
	require.Len(t, grades.Grades, 1)
	assert.Equal(t, "A-", grades.Grades[0].Level)
	assert.InDelta(t, 3.7, grades.GPA, 0.001)

	// unknown payload section
	resp = alice.do(protocol.KindEnroll, sectionRequest{SectionID: "CS999-Z"})
	assert.Equal(t, protocol.ErrKindNotFound, resp.Error.Kind)
}

func TestServer_biddingFlow(t *testing.T) {
	env := startServer(t)
	require.NoError(t, env.store.OpenBidding("CS101-A"))

	alice := dial(t, env.addr)
	alice.login("alice")

	resp := alice.do(protocol.KindMyPoints, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var points pointsResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &points))
	assert.Equal(t, academic.DefaultPoints, points.Balance)

	resp = alice.do(protocol.KindPlaceBid, bidRequest{SectionID: "CS101-A", Points: 60})
	require.Equal(t, protocol.StatusSuccess, resp.Status, "place bid: %+v", resp.Error)

	resp = alice.do(protocol.KindBidStatus, sectionRequest{SectionID: "CS101-A"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var bid academic.Bid
	require.NoError(t, json.Unmarshal(resp.Payload, &bid))
	assert.Equal(t, 60, bid.Points)

	admin := dial(t, env.addr)
	admin.login("root")
	resp = admin.do(protocol.KindSettleBids, sectionRequest{SectionID: "CS101-A"})
	require.Equal(t, protocol.StatusSuccess, resp.Status, "settle: %+v", resp.Error)
	var results []academic.BidResult
	require.NoError(t, json.Unmarshal(resp.Payload, &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Won)

	// seat awarded
	resp = alice.do(protocol.KindListMySchedule, nil)
	var schedule []academic.SectionView
	require.NoError(t, json.Unmarshal(resp.Payload, &schedule))
	require.Len(t, schedule, 1)
	assert.Equal(t, "CS101-A", schedule[0].ID)
}

func TestServer_advise(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)
	c.login("alice")
	c.do(protocol.KindEnroll, sectionRequest{SectionID: "CS101-A"})

	resp := c.do(protocol.KindAdvise, adviseRequest{Question: "should I add MA101?"})
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	var out adviseResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Contains(t, out.Advice, "should I add MA101?")
	assert.Contains(t, out.Advice, "CS101")
	assert.Contains(t, out.Advice, "3 credits")
	assert.NotContains(t, out.Advice, "%!")
}

func TestServer_unknownKindKeepsSession(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)

	resp := c.do("make_coffee", nil)
	assert.Equal(t, protocol.ErrKindBadRequest, resp.Error.Kind)

	resp = c.do(protocol.KindPing, nil)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}

func TestServer_malformedFrameClosesConnection(t *testing.T) {
	env := startServer(t)
	conn, err := net.Dial("tcp", env.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// well-framed garbage: valid prefix, invalid JSON
	body := []byte("{not json")
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	// server closes without a response
	var buf [1]byte
	_, err = conn.Read(buf[:])
	assert.Error(t, err)
}

func TestServer_oversizedFrameClosesConnection(t *testing.T) {
	env := startServer(t)
	conn, err := net.Dial("tcp", env.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30) // 1 GiB claim
	_, err = conn.Write(prefix[:])
	require.NoError(t, err)

	var buf [1]byte
	_, err = conn.Read(buf[:])
	assert.Error(t, err)
}

func TestServer_forcedLogout(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)
	c.login("alice")

	resp := c.do(protocol.KindListCourses, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	env.usrSvc.RevokeUserTokens("S001")

	resp = c.do(protocol.KindListCourses, nil)
	assert.Equal(t, protocol.StatusUnauthorized, resp.Status)
	assert.Equal(t, protocol.ErrKindUnauthenticated, resp.Error.Kind)

	// a fresh login restores service on the same connection; the
	// revocation cutoff has second granularity, so step past it
	time.Sleep(1100 * time.Millisecond)
	c.login("alice")
	resp = c.do(protocol.KindListCourses, nil)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}

func TestServer_logoutRevokesToken(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)
	c.login("alice")

	resp := c.do(protocol.KindLogout, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	resp = c.do(protocol.KindListMySchedule, nil)
	assert.Equal(t, protocol.StatusUnauthorized, resp.Status)
}

func TestServer_idleSweeper(t *testing.T) {
	env := startServer(t)
	c := dial(t, env.addr)
	resp := c.do(protocol.KindPing, nil)
	require.Equal(t, protocol.StatusSuccess, resp.Status)

	env.srv.registry.mu.Lock()
	for _, s := range env.srv.registry.sessions {
		s.mu.Lock()
		s.lastActive = time.Now().Add(-time.Hour)
		s.mu.Unlock()
	}
	env.srv.registry.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Sessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, env.srv.Sessions())
}
