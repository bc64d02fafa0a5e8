package academic

import (
	"context"
	"time"

	"github.com/trezcool/chuo/core"
)

// EventKind tags archive records.
type EventKind string

const (
	EventEnrolled      EventKind = "enrolled"
	EventDropped       EventKind = "dropped"
	EventGradeRecorded EventKind = "grade_recorded"
	EventTermFinalized EventKind = "term_finalized"
	EventBidPlaced     EventKind = "bid_placed"
	EventBidCancelled  EventKind = "bid_cancelled"
	EventBidSettled    EventKind = "bid_settled"
)

// Event is one archived state change.
type Event struct {
	Kind      EventKind `json:"kind" db:"kind"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	StudentID string    `json:"student_id,omitempty" db:"student_id"`
	SectionID string    `json:"section_id,omitempty" db:"section_id"`
	TermID    string    `json:"term_id,omitempty" db:"term_id"`
	Score     *float64  `json:"score,omitempty" db:"score"`
	Points    int       `json:"points,omitempty" db:"points"`
	At        time.Time `json:"at" db:"at"`
}

// Archive persists events. Implementations block on their own I/O; the
// service only talks to them from its background writer, never while a
// section exclusion is held.
type Archive interface {
	RecordEvent(ctx context.Context, evt Event) error
}

type (
	// Service is the academic API consumed by the transports.
	Service interface {
		Courses() []Course
		Course(code string) (Course, error)
		Term(id string) (Term, error)
		Sections(filter SectionFilter) []SectionView
		Section(id string) (SectionView, error)
		Schedule(studentID, termID string) []SectionView
		Grades(studentID string) []Grade
		Roster(sectionID string) ([]RosterEntry, error)
		Snapshot(studentID string) StudentSnapshot

		Enroll(studentID, sectionID string) (Enrollment, error)
		Drop(studentID, sectionID string) (Enrollment, error)
		RecordGrade(teacherID, studentID, sectionID string, score float64, remarks string) (Grade, error)
		FinalizeTerm(actorID, termID string) (Term, error)

		Points(studentID string) int
		PointsHistory(studentID string) []PointsTxn
		PlaceBid(studentID, sectionID string, points int) (Bid, error)
		ModifyBid(studentID, sectionID string, points int) (Bid, error)
		CancelBid(studentID, sectionID string) error
		Bid(studentID, sectionID string) (Bid, error)
		SettleBidding(actorID, sectionID string) ([]BidResult, error)

		Close()
	}

	service struct {
		store   *Store
		archive Archive
		logger  core.Logger

		events chan Event
		done   chan struct{}
	}
)

var _ Service = (*service)(nil)

// NewService wraps the store and starts the archive writer. Call Close
// to drain pending events on shutdown.
func NewService(store *Store, archive Archive, logger core.Logger) Service {
	svc := &service{
		store:   store,
		archive: archive,
		logger:  logger,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go svc.writeEvents()
	return svc
}

// writeEvents drains the event channel into the archive. Archive I/O
// happens here, off the mutation path.
func (svc *service) writeEvents() {
	defer close(svc.done)
	for evt := range svc.events {
		if svc.archive == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := svc.archive.RecordEvent(ctx, evt); err != nil {
			svc.logger.Error("academic: archiving event failed", "kind", evt.Kind, "err", err)
		}
		cancel()
	}
}

// record enqueues without blocking; a full archive queue loses the
// event rather than stalling enrollments.
func (svc *service) record(evt Event) {
	evt.At = timeNow().UTC()
	select {
	case svc.events <- evt:
	default:
		svc.logger.Error("academic: archive queue full, dropping event", "kind", evt.Kind)
	}
}

func (svc *service) Close() {
	close(svc.events)
	select {
	case <-svc.done:
	case <-time.After(5 * time.Second):
		svc.logger.Error("academic: archive writer did not drain in time")
	}
}

func (svc *service) Courses() []Course                      { return svc.store.ListCourses() }
func (svc *service) Course(code string) (Course, error)     { return svc.store.GetCourse(code) }
func (svc *service) Term(id string) (Term, error)           { return svc.store.GetTerm(id) }
func (svc *service) Sections(f SectionFilter) []SectionView { return svc.store.ListSections(f) }
func (svc *service) Section(id string) (SectionView, error) { return svc.store.GetSection(id) }
func (svc *service) Grades(studentID string) []Grade        { return svc.store.StudentGrades(studentID) }
func (svc *service) Snapshot(studentID string) StudentSnapshot {
	return svc.store.Snapshot(studentID)
}

func (svc *service) Schedule(studentID, termID string) []SectionView {
	return svc.store.StudentSchedule(studentID, termID)
}

func (svc *service) Roster(sectionID string) ([]RosterEntry, error) {
	return svc.store.Roster(sectionID)
}

func (svc *service) Enroll(studentID, sectionID string) (Enrollment, error) {
	enr, err := svc.store.Enroll(studentID, sectionID)
	if err != nil {
		return Enrollment{}, err
	}
	svc.record(Event{Kind: EventEnrolled, ActorID: studentID, StudentID: studentID, SectionID: sectionID})
	return enr, nil
}

func (svc *service) Drop(studentID, sectionID string) (Enrollment, error) {
	enr, err := svc.store.Drop(studentID, sectionID)
	if err != nil {
		return Enrollment{}, err
	}
	svc.record(Event{Kind: EventDropped, ActorID: studentID, StudentID: studentID, SectionID: sectionID})
	return enr, nil
}

func (svc *service) RecordGrade(teacherID, studentID, sectionID string, score float64, remarks string) (Grade, error) {
	grade, err := svc.store.RecordGrade(teacherID, studentID, sectionID, score, remarks)
	if err != nil {
		return Grade{}, err
	}
	svc.record(Event{Kind: EventGradeRecorded, ActorID: teacherID, StudentID: studentID, SectionID: sectionID, Score: &grade.Score})
	return grade, nil
}

func (svc *service) FinalizeTerm(actorID, termID string) (Term, error) {
	term, err := svc.store.FinalizeTerm(actorID, termID)
	if err != nil {
		return Term{}, err
	}
	svc.record(Event{Kind: EventTermFinalized, ActorID: actorID, TermID: termID})
	return term, nil
}

func (svc *service) Points(studentID string) int { return svc.store.PointsBalance(studentID) }

func (svc *service) PointsHistory(studentID string) []PointsTxn {
	return svc.store.PointsHistory(studentID)
}

func (svc *service) PlaceBid(studentID, sectionID string, points int) (Bid, error) {
	bid, err := svc.store.PlaceBid(studentID, sectionID, points)
	if err != nil {
		return Bid{}, err
	}
	svc.record(Event{Kind: EventBidPlaced, ActorID: studentID, StudentID: studentID, SectionID: sectionID, Points: points})
	return bid, nil
}

func (svc *service) ModifyBid(studentID, sectionID string, points int) (Bid, error) {
	return svc.store.ModifyBid(studentID, sectionID, points)
}

func (svc *service) CancelBid(studentID, sectionID string) error {
	if err := svc.store.CancelBid(studentID, sectionID); err != nil {
		return err
	}
	svc.record(Event{Kind: EventBidCancelled, ActorID: studentID, StudentID: studentID, SectionID: sectionID})
	return nil
}

func (svc *service) Bid(studentID, sectionID string) (Bid, error) {
	return svc.store.GetBid(studentID, sectionID)
}

func (svc *service) SettleBidding(actorID, sectionID string) ([]BidResult, error) {
	results, err := svc.store.SettleBidding(sectionID)
	if err != nil {
		return nil, err
	}
	svc.record(Event{Kind: EventBidSettled, ActorID: actorID, SectionID: sectionID})
	return results, nil
}
