package academic

import "time"

// Course is reference data: one catalog entry, offered as any number of
// Sections per term.
type Course struct {
	Code        string  `json:"code"`
	Title       string  `json:"title"`
	Credits     float64 `json:"credits"`
	Hours       int     `json:"hours"`
	Department  string  `json:"department"`
	Description string  `json:"description,omitempty"`
}

type TermStatus string

const (
	TermOpen      TermStatus = "open"
	TermFinalized TermStatus = "finalized"
)

// Term groups sections into an academic period. Finalizing a term is
// terminal: grades and enrollments in it are frozen afterwards.
type Term struct {
	ID          string     `json:"id"` // e.g. "2026-fall"
	Name        string     `json:"name"`
	Status      TermStatus `json:"status"`
	FinalizedAt time.Time  `json:"finalized_at,omitempty"`
	FinalizedBy string     `json:"finalized_by,omitempty"`
}

type SectionStatus string

const (
	SectionOpen   SectionStatus = "open"
	SectionFull   SectionStatus = "full"
	SectionClosed SectionStatus = "closed"
)

// Section is one scheduled, capacity-bounded offering of a Course.
// Capacity is fixed at creation; Enrolled is bookkeeping kept strictly
// under the section's exclusion.
type Section struct {
	ID         string        `json:"id"` // e.g. "CS101-A"
	CourseCode string        `json:"course_code"`
	TeacherID  string        `json:"teacher_id"`
	TermID     string        `json:"term_id"`
	Capacity   int           `json:"capacity"`
	Enrolled   int           `json:"enrolled"`
	Schedule   string        `json:"schedule"` // slot label, e.g. "Mon 10:00-11:40"
	Room       string        `json:"room,omitempty"`
	Status     SectionStatus `json:"status"`

	BiddingOpen bool `json:"bidding_open,omitempty"`
}

func (s Section) OpenSeats() int {
	return s.Capacity - s.Enrolled
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentDropped   EnrollmentStatus = "dropped"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// Enrollment links a student to a section. Dropped records are retained
// for history; at most one non-dropped record exists per
// (student, section) pair.
type Enrollment struct {
	StudentID  string           `json:"student_id"`
	SectionID  string           `json:"section_id"`
	Status     EnrollmentStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolled_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (e Enrollment) IsActive() bool {
	return e.Status == EnrollmentActive || e.Status == EnrollmentCompleted
}

// Grade records a score for an enrollment. Only the teacher owning the
// section may write it, and never after the term is finalized.
type Grade struct {
	StudentID   string    `json:"student_id"`
	SectionID   string    `json:"section_id"`
	Score       float64   `json:"score"`
	Level       string    `json:"level"`
	GradePoints float64   `json:"grade_points"`
	Remarks     string    `json:"remarks,omitempty"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// GradeLevel maps a 0-100 score to a letter level and grade points.
func GradeLevel(score float64) (string, float64) {
	switch {
	case score >= 90:
		return "A", 4.0
	case score >= 85:
		return "A-", 3.7
	case score >= 82:
		return "B+", 3.3
	case score >= 78:
		return "B", 3.0
	case score >= 75:
		return "B-", 2.7
	case score >= 72:
		return "C+", 2.3
	case score >= 68:
		return "C", 2.0
	case score >= 64:
		return "C-", 1.5
	case score >= 60:
		return "D", 1.0
	default:
		return "F", 0.0
	}
}

// SectionFilter narrows section listings; zero values match everything.
type SectionFilter struct {
	TermID        string `json:"term_id,omitempty"`
	CourseCode    string `json:"course_code,omitempty"`
	Department    string `json:"department,omitempty"`
	TeacherID     string `json:"teacher_id,omitempty"`
	OpenSeatsOnly bool   `json:"open_seats_only,omitempty"`
}

// SectionView is a section joined with its course for listings.
type SectionView struct {
	Section
	Course Course `json:"course"`
}

// RosterEntry is one student on a section roster.
type RosterEntry struct {
	StudentID  string           `json:"student_id"`
	Status     EnrollmentStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolled_at"`
	Score      *float64         `json:"score,omitempty"`
	Level      string           `json:"level,omitempty"`
}

// StudentSnapshot is the read-only view handed to external collaborators
// (AI advisor, reporting): the student's active enrollments as of the
// moment of the call.
type StudentSnapshot struct {
	StudentID   string        `json:"student_id"`
	Enrollments []SectionView `json:"enrollments"`
	Grades      []Grade       `json:"grades"`
	Points      int           `json:"points"`
}
