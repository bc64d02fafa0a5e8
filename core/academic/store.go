package academic

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// lookup errors
	ErrCourseNotFound  = errors.New("course not found")
	ErrSectionNotFound = errors.New("section not found")
	ErrTermNotFound    = errors.New("term not found")

	// business rule errors; these are expected outcomes, not failures
	ErrSectionFull      = errors.New("section is full")
	ErrAlreadyEnrolled  = errors.New("already enrolled in this section")
	ErrScheduleConflict = errors.New("schedule conflict with an enrolled section")
	ErrSectionClosed    = errors.New("section is closed for enrollment")
	ErrNotEnrolled      = errors.New("not enrolled in this section")
	ErrDropWindowClosed = errors.New("section can no longer be dropped")
	ErrTermFinalized    = errors.New("term has been finalized")
	ErrNotSectionOwner  = errors.New("section is owned by another teacher")
	ErrInvalidScore     = errors.New("score must be between 0 and 100")

	// bookkeeping errors
	ErrCourseExists  = errors.New("a course with this code already exists")
	ErrSectionExists = errors.New("a section with this id already exists")
	ErrTermExists    = errors.New("a term with this id already exists")
	ErrCapacityBelow = errors.New("capacity cannot drop below the enrolled count")
)

var timeNow = time.Now // mockable

// sectionState bundles a section with everything mutated under its
// exclusion: enrollments, grades and bids. mu is the per-section lock of
// the acquire-recheck-apply-release discipline; it is never held across
// I/O.
type sectionState struct {
	mu          sync.Mutex
	sec         Section
	enrollments map[string]*Enrollment // by student ID
	grades      map[string]*Grade      // by student ID
	bids        map[string]*Bid        // by student ID
}

// Store holds the canonical academic tables. It is the single writer of
// truth: every mutation goes through one entry point per logical
// operation so invariant checks sit next to their writes.
//
// Locking: each section has its own mutex; unrelated sections never
// contend. The store-level mutex only guards the maps' structure and
// term records, is always acquired AFTER a section mutex and is held for
// map access only. The course catalog is republished as an immutable
// snapshot so browsing takes no lock at all.
type Store struct {
	mu       sync.RWMutex
	terms    map[string]*Term
	sections map[string]*sectionState

	courses map[string]Course
	catalog atomic.Value // []Course, immutable after publish

	schedule *scheduleIndex
	ledger   *pointsLedger
}

func NewStore() *Store {
	s := &Store{
		terms:    make(map[string]*Term),
		sections: make(map[string]*sectionState),
		courses:  make(map[string]Course),
		schedule: newScheduleIndex(),
		ledger:   newPointsLedger(),
	}
	s.publishCatalog()
	return s
}

// publishCatalog republishes the immutable course list.
// Callers must hold s.mu.
func (s *Store) publishCatalog() {
	courses := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	s.catalog.Store(courses)
}

func (s *Store) section(id string) (*sectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sections[id]
	if !ok {
		return nil, ErrSectionNotFound
	}
	return st, nil
}

// termStatus reads the status of a term. Safe to call while holding a
// section mutex (section mutex always comes before s.mu).
func (s *Store) termStatus(id string) (TermStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term, ok := s.terms[id]
	if !ok {
		return "", ErrTermNotFound
	}
	return term.Status, nil
}

// Bookkeeping (catalog & reference data)

func (s *Store) AddCourse(c Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[c.Code]; ok {
		return ErrCourseExists
	}
	s.courses[c.Code] = c
	s.publishCatalog()
	return nil
}

func (s *Store) AddTerm(t Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terms[t.ID]; ok {
		return ErrTermExists
	}
	if t.Status == "" {
		t.Status = TermOpen
	}
	term := t
	s.terms[t.ID] = &term
	return nil
}

func (s *Store) AddSection(sec Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sections[sec.ID]; ok {
		return ErrSectionExists
	}
	if _, ok := s.courses[sec.CourseCode]; !ok {
		return ErrCourseNotFound
	}
	if _, ok := s.terms[sec.TermID]; !ok {
		return ErrTermNotFound
	}
	if sec.Status == "" {
		sec.Status = SectionOpen
	}
	sec.Enrolled = 0
	s.sections[sec.ID] = &sectionState{
		sec:         sec,
		enrollments: make(map[string]*Enrollment),
		grades:      make(map[string]*Grade),
		bids:        make(map[string]*Bid),
	}
	return nil
}

// SetSectionCapacity adjusts capacity; it never drops below the current
// enrolled count.
func (s *Store) SetSectionCapacity(sectionID string, capacity int) error {
	st, err := s.section(sectionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if capacity < st.sec.Enrolled {
		return ErrCapacityBelow
	}
	st.sec.Capacity = capacity
	switch {
	case st.sec.Status == SectionFull && st.sec.Enrolled < capacity:
		st.sec.Status = SectionOpen
	case st.sec.Status == SectionOpen && st.sec.Enrolled >= capacity:
		st.sec.Status = SectionFull
	}
	return nil
}

// Mutations

// Enroll enrolls the student into the section. Capacity, duplicate and
// schedule-conflict checks run with the section exclusion held so the
// decision is always made against current state, never a stale snapshot.
func (s *Store) Enroll(studentID, sectionID string) (Enrollment, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return Enrollment{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// recheck against current state
	status, err := s.termStatus(st.sec.TermID)
	if err != nil {
		return Enrollment{}, err
	}
	if status == TermFinalized {
		return Enrollment{}, ErrSectionClosed
	}
	if st.sec.Status == SectionClosed {
		return Enrollment{}, ErrSectionClosed
	}
	if prior, ok := st.enrollments[studentID]; ok && prior.IsActive() {
		return Enrollment{}, ErrAlreadyEnrolled
	}
	if st.sec.Enrolled >= st.sec.Capacity {
		return Enrollment{}, ErrSectionFull
	}
	// last gate: on success the slot is claimed and the mutation below
	// commits unconditionally, so no rollback is ever needed
	if !s.schedule.reserve(st.sec.TermID, studentID, st.sec.Schedule, sectionID) {
		return Enrollment{}, ErrScheduleConflict
	}

	// apply
	now := timeNow().UTC()
	enr, ok := st.enrollments[studentID]
	if ok {
		// a dropped record exists: reactivate it rather than insert a
		// duplicate, so one (student, section) pair keeps one record
		enr.Status = EnrollmentActive
		enr.EnrolledAt = now
		enr.UpdatedAt = now
	} else {
		enr = &Enrollment{
			StudentID:  studentID,
			SectionID:  sectionID,
			Status:     EnrollmentActive,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		st.enrollments[studentID] = enr
	}
	st.sec.Enrolled++
	if st.sec.Enrolled >= st.sec.Capacity {
		st.sec.Status = SectionFull
	}

	return *enr, nil
}

// Drop releases the student's seat. Dropped records are retained for
// history, never deleted.
func (s *Store) Drop(studentID, sectionID string) (Enrollment, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return Enrollment{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	enr, ok := st.enrollments[studentID]
	if !ok || enr.Status == EnrollmentDropped {
		return Enrollment{}, ErrNotEnrolled
	}
	status, err := s.termStatus(st.sec.TermID)
	if err != nil {
		return Enrollment{}, err
	}
	if status == TermFinalized {
		return Enrollment{}, ErrDropWindowClosed
	}
	// a recorded grade closes the drop window for this enrollment
	if enr.Status == EnrollmentCompleted || st.grades[studentID] != nil {
		return Enrollment{}, ErrDropWindowClosed
	}

	enr.Status = EnrollmentDropped
	enr.UpdatedAt = timeNow().UTC()
	st.sec.Enrolled--
	if st.sec.Status == SectionFull {
		st.sec.Status = SectionOpen
	}
	s.schedule.remove(st.sec.TermID, studentID, st.sec.Schedule)

	return *enr, nil
}

// RecordGrade writes or overwrites the grade for an active enrollment.
// Only the owning teacher may record, and never once the term is
// finalized.
func (s *Store) RecordGrade(teacherID, studentID, sectionID string, score float64, remarks string) (Grade, error) {
	if score < 0 || score > 100 {
		return Grade{}, ErrInvalidScore
	}
	st, err := s.section(sectionID)
	if err != nil {
		return Grade{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sec.TeacherID != teacherID {
		return Grade{}, ErrNotSectionOwner
	}
	status, err := s.termStatus(st.sec.TermID)
	if err != nil {
		return Grade{}, err
	}
	if status == TermFinalized {
		return Grade{}, ErrTermFinalized
	}
	enr, ok := st.enrollments[studentID]
	if !ok || enr.Status == EnrollmentDropped {
		return Grade{}, ErrNotEnrolled
	}

	level, points := GradeLevel(score)
	grade := &Grade{
		StudentID:   studentID,
		SectionID:   sectionID,
		Score:       score,
		Level:       level,
		GradePoints: points,
		Remarks:     remarks,
		RecordedBy:  teacherID,
		RecordedAt:  timeNow().UTC(),
	}
	st.grades[studentID] = grade
	enr.Status = EnrollmentCompleted
	enr.UpdatedAt = grade.RecordedAt

	return *grade, nil
}

// FinalizeTerm freezes a term: the term record flips first so new
// enrollments stop, then every section of the term is closed under its
// own exclusion, refunding any standing bids. Racing mutations that
// already hold a section lock commit before the close; the term check
// stops everything after.
func (s *Store) FinalizeTerm(actorID, termID string) (Term, error) {
	s.mu.Lock()
	term, ok := s.terms[termID]
	if !ok {
		s.mu.Unlock()
		return Term{}, ErrTermNotFound
	}
	if term.Status == TermFinalized {
		s.mu.Unlock()
		return Term{}, ErrTermFinalized
	}
	term.Status = TermFinalized
	term.FinalizedAt = timeNow().UTC()
	term.FinalizedBy = actorID
	final := *term

	states := make([]*sectionState, 0)
	for _, st := range s.sections {
		if st.sec.TermID == termID {
			states = append(states, st)
		}
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		st.sec.Status = SectionClosed
		st.sec.BiddingOpen = false
		// standing bids die with the term: refund the holds, no seats
		// are awarded
		for studentID, bid := range st.bids {
			_ = s.ledger.move(studentID, bid.Points, "bid refund: "+st.sec.ID)
			delete(st.bids, studentID)
		}
		st.mu.Unlock()
	}
	return final, nil
}

// Reads

// ListCourses browses the catalog without taking any lock: the slice is
// immutable after publish.
func (s *Store) ListCourses() []Course {
	return s.catalog.Load().([]Course)
}

func (s *Store) GetCourse(code string) (Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[code]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

func (s *Store) GetTerm(id string) (Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[id]
	if !ok {
		return Term{}, ErrTermNotFound
	}
	return *t, nil
}

// snapshotSection copies a section under its exclusion so the view is
// never half-applied.
func (st *sectionState) snapshot() Section {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sec
}

func (s *Store) sectionStates() []*sectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]*sectionState, 0, len(s.sections))
	for _, st := range s.sections {
		states = append(states, st)
	}
	return states
}

func (s *Store) GetSection(id string) (SectionView, error) {
	st, err := s.section(id)
	if err != nil {
		return SectionView{}, err
	}
	sec := st.snapshot()
	course, err := s.GetCourse(sec.CourseCode)
	if err != nil {
		return SectionView{}, err
	}
	return SectionView{Section: sec, Course: course}, nil
}

// ListSections returns sections matching the filter, each copied under
// its own exclusion.
func (s *Store) ListSections(filter SectionFilter) []SectionView {
	views := make([]SectionView, 0)
	for _, st := range s.sectionStates() {
		sec := st.snapshot()
		if filter.TermID != "" && sec.TermID != filter.TermID {
			continue
		}
		if filter.CourseCode != "" && sec.CourseCode != filter.CourseCode {
			continue
		}
		if filter.TeacherID != "" && sec.TeacherID != filter.TeacherID {
			continue
		}
		course, err := s.GetCourse(sec.CourseCode)
		if err != nil {
			continue
		}
		if filter.Department != "" && course.Department != filter.Department {
			continue
		}
		if filter.OpenSeatsOnly && (sec.Status != SectionOpen || sec.OpenSeats() <= 0) {
			continue
		}
		views = append(views, SectionView{Section: sec, Course: course})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// StudentSchedule returns the student's active enrollments, optionally
// narrowed to a term.
func (s *Store) StudentSchedule(studentID, termID string) []SectionView {
	views := make([]SectionView, 0)
	for _, st := range s.sectionStates() {
		st.mu.Lock()
		enr, ok := st.enrollments[studentID]
		active := ok && enr.IsActive()
		sec := st.sec
		st.mu.Unlock()

		if !active {
			continue
		}
		if termID != "" && sec.TermID != termID {
			continue
		}
		course, err := s.GetCourse(sec.CourseCode)
		if err != nil {
			continue
		}
		views = append(views, SectionView{Section: sec, Course: course})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// StudentGrades returns every grade recorded for the student.
func (s *Store) StudentGrades(studentID string) []Grade {
	grades := make([]Grade, 0)
	for _, st := range s.sectionStates() {
		st.mu.Lock()
		if g, ok := st.grades[studentID]; ok {
			grades = append(grades, *g)
		}
		st.mu.Unlock()
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].SectionID < grades[j].SectionID })
	return grades
}

// Roster lists every enrollment of a section (dropped included, for
// history) with grades joined in; the whole view is taken under one
// acquisition of the section exclusion.
func (s *Store) Roster(sectionID string) ([]RosterEntry, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	entries := make([]RosterEntry, 0, len(st.enrollments))
	for studentID, enr := range st.enrollments {
		entry := RosterEntry{
			StudentID:  studentID,
			Status:     enr.Status,
			EnrolledAt: enr.EnrolledAt,
		}
		if g, ok := st.grades[studentID]; ok {
			score := g.Score
			entry.Score = &score
			entry.Level = g.Level
		}
		entries = append(entries, entry)
	}
	st.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].StudentID < entries[j].StudentID })
	return entries, nil
}

// ActiveCount reports the section's active enrollment count as of now,
// taken under the section exclusion rather than racing the counter.
func (s *Store) ActiveCount(sectionID string) (int, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sec.Enrolled, nil
}

// Snapshot assembles the read-only student view consumed by the advisor
// and reporting collaborators.
func (s *Store) Snapshot(studentID string) StudentSnapshot {
	return StudentSnapshot{
		StudentID:   studentID,
		Enrollments: s.StudentSchedule(studentID, ""),
		Grades:      s.StudentGrades(studentID),
		Points:      s.ledger.balance(studentID),
	}
}

// scheduleIndex tracks which schedule slot each student occupies per
// term, so the conflict recheck inside Enroll does not have to walk (and
// lock) every other section.
type scheduleIndex struct {
	mu    sync.Mutex
	slots map[string]map[string]string // term|student -> slot -> section ID
}

func newScheduleIndex() *scheduleIndex {
	return &scheduleIndex{slots: make(map[string]map[string]string)}
}

func scheduleKey(termID, studentID string) string {
	return termID + "|" + studentID
}

// reserve claims the slot for the student, failing if another section
// already holds it. Check and insert happen under one lock acquisition:
// the same student racing into two different sections sharing a slot is
// serialized here, where the per-section mutexes cannot do it.
func (idx *scheduleIndex) reserve(termID, studentID, slot, sectionID string) bool {
	if slot == "" {
		return true
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := scheduleKey(termID, studentID)
	if held, ok := idx.slots[key][slot]; ok && held != sectionID {
		return false
	}
	if idx.slots[key] == nil {
		idx.slots[key] = make(map[string]string)
	}
	idx.slots[key][slot] = sectionID
	return true
}

func (idx *scheduleIndex) remove(termID, studentID, slot string) {
	if slot == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.slots[scheduleKey(termID, studentID)], slot)
}
