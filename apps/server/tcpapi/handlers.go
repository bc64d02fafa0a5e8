package tcpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/protocol"
)

// wire payloads

type (
	loginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	userInfo struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Username string   `json:"username"`
		Email    string   `json:"email"`
		Roles    []string `json:"roles"`
	}
	loginResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      userInfo  `json:"user"`
	}

	sectionRequest struct {
		SectionID string `json:"section_id" validate:"required"`
	}
	termRequest struct {
		TermID string `json:"term_id" validate:"required"`
	}
	scheduleRequest struct {
		TermID string `json:"term_id"`
	}

	gradesResponse struct {
		Grades []academic.Grade `json:"grades"`
		GPA    float64          `json:"gpa"`
	}

	recordGradeRequest struct {
		SectionID string  `json:"section_id" validate:"required"`
		StudentID string  `json:"student_id" validate:"required"`
		Score     float64 `json:"score" validate:"min=0,max=100"`
		Remarks   string  `json:"remarks"`
	}

	bidRequest struct {
		SectionID string `json:"section_id" validate:"required"`
		Points    int    `json:"points" validate:"required,gt=0"`
	}
	pointsResponse struct {
		Balance int                  `json:"balance"`
		History []academic.PointsTxn `json:"history"`
	}

	adviseRequest struct {
		Question string `json:"question" validate:"required"`
	}
	adviseResponse struct {
		Advice string `json:"advice"`
	}

	pingResponse struct {
		Time time.Time `json:"time"`
	}
)

func (d *dispatcher) handleLogin(ctx context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in loginRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	usr, err := d.usrSvc.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		return nil, err
	}
	token, claims, err := d.usrSvc.GenerateToken(usr)
	if err != nil {
		return nil, err
	}
	sess.authenticate(token, claims)
	d.logger.Info("login", "user", usr.Username, "session", sess.id)

	return loginResponse{
		Token:     token,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
		User: userInfo{
			ID:       usr.ID,
			Name:     usr.Name,
			Username: usr.Username,
			Email:    usr.Email,
			Roles:    usr.Roles,
		},
	}, nil
}

func (d *dispatcher) handleLogout(_ context.Context, sess *session, _ protocol.Message) (interface{}, error) {
	if _, claims := sess.credentials(); claims != nil {
		d.usrSvc.RevokeToken(claims)
		d.logger.Info("logout", "user", claims.Username, "session", sess.id)
	}
	sess.clearAuth()
	return nil, nil
}

// handleChangePassword revokes every outstanding token on success, so
// other devices (and this session) must log in again.
func (d *dispatcher) handleChangePassword(ctx context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in user.PasswordChange
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	_, claims := sess.credentials()
	if err := d.usrSvc.ChangePassword(ctx, claims.Subject, in); err != nil {
		return nil, err
	}
	d.usrSvc.RevokeUserTokens(claims.Subject)
	sess.clearAuth()
	return nil, nil
}

func (d *dispatcher) handleListCourses(_ context.Context, _ *session, _ protocol.Message) (interface{}, error) {
	return d.acadSvc.Courses(), nil
}

func (d *dispatcher) handleListSections(_ context.Context, _ *session, req protocol.Message) (interface{}, error) {
	var filter academic.SectionFilter
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &filter); err != nil {
			return nil, err
		}
	}
	return d.acadSvc.Sections(filter), nil
}

func (d *dispatcher) handleListMySchedule(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in scheduleRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
	}
	return d.acadSvc.Schedule(sess.userID(), in.TermID), nil
}

func (d *dispatcher) handleListMyGrades(_ context.Context, sess *session, _ protocol.Message) (interface{}, error) {
	grades := d.acadSvc.Grades(sess.userID())
	return gradesResponse{Grades: grades, GPA: gradePointAverage(grades)}, nil
}

func gradePointAverage(grades []academic.Grade) float64 {
	if len(grades) == 0 {
		return 0
	}
	var sum float64
	for _, g := range grades {
		sum += g.GradePoints
	}
	return sum / float64(len(grades))
}

func (d *dispatcher) handleEnroll(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.Enroll(sess.userID(), in.SectionID)
}

func (d *dispatcher) handleDrop(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.Drop(sess.userID(), in.SectionID)
}

// handleRoster serves teachers their own sections only; admins see all.
func (d *dispatcher) handleRoster(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	_, claims := sess.credentials()
	if !claims.IsAdmin {
		view, err := d.acadSvc.Section(in.SectionID)
		if err != nil {
			return nil, err
		}
		if view.TeacherID != claims.Subject {
			return nil, errForbidden
		}
	}
	return d.acadSvc.Roster(in.SectionID)
}

func (d *dispatcher) handleRecordGrade(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in recordGradeRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.RecordGrade(sess.userID(), in.StudentID, in.SectionID, in.Score, in.Remarks)
}

func (d *dispatcher) handleFinalizeTerm(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in termRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	term, err := d.acadSvc.FinalizeTerm(sess.userID(), in.TermID)
	if err != nil {
		return nil, err
	}
	d.logger.Info("term finalized", "term", term.ID, "by", sess.userID())
	return term, nil
}

func (d *dispatcher) handlePlaceBid(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in bidRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.PlaceBid(sess.userID(), in.SectionID, in.Points)
}

func (d *dispatcher) handleModifyBid(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in bidRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.ModifyBid(sess.userID(), in.SectionID, in.Points)
}

func (d *dispatcher) handleCancelBid(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return nil, d.acadSvc.CancelBid(sess.userID(), in.SectionID)
}

func (d *dispatcher) handleBidStatus(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	return d.acadSvc.Bid(sess.userID(), in.SectionID)
}

func (d *dispatcher) handleMyPoints(_ context.Context, sess *session, _ protocol.Message) (interface{}, error) {
	id := sess.userID()
	return pointsResponse{
		Balance: d.acadSvc.Points(id),
		History: d.acadSvc.PointsHistory(id),
	}, nil
}

func (d *dispatcher) handleSettleBids(_ context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in sectionRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	results, err := d.acadSvc.SettleBidding(sess.userID(), in.SectionID)
	if err != nil {
		return nil, err
	}
	d.logger.Info("bidding settled", "section", in.SectionID, "bids", len(results))
	return results, nil
}

// handleAdvise prepares the student snapshot and hands it to the advisor
// outside any store lock; the request context caps how long we wait.
func (d *dispatcher) handleAdvise(ctx context.Context, sess *session, req protocol.Message) (interface{}, error) {
	var in adviseRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	snap := d.acadSvc.Snapshot(sess.userID())
	advice, err := d.advisor.Advise(ctx, advisorPrompt(snap, in.Question))
	if err != nil {
		return nil, err
	}
	return adviseResponse{Advice: advice}, nil
}

func advisorPrompt(snap academic.StudentSnapshot, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Student %s has %d bidding points.\n", snap.StudentID, snap.Points)
	if len(snap.Enrollments) > 0 {
		b.WriteString("Current enrollments:\n")
		for _, e := range snap.Enrollments {
			fmt.Fprintf(&b, "- %s %s (%s, %g credits)\n", e.CourseCode, e.Course.Title, e.Schedule, e.Course.Credits)
		}
	}
	if len(snap.Grades) > 0 {
		b.WriteString("Grades so far:\n")
		for _, g := range snap.Grades {
			fmt.Fprintf(&b, "- %s: %.1f (%s)\n", g.SectionID, g.Score, g.Level)
		}
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

func (d *dispatcher) handlePing(_ context.Context, _ *session, _ protocol.Message) (interface{}, error) {
	return pingResponse{Time: time.Now().UTC()}, nil
}
