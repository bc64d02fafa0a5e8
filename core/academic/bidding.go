package academic

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultPoints is the bidding allowance granted to every student
// account when it is provisioned.
const DefaultPoints = 100

var (
	ErrInsufficientPoints = errors.New("not enough bidding points")
	ErrBidExists          = errors.New("a bid is already placed on this section")
	ErrBidNotFound        = errors.New("no bid placed on this section")
	ErrBiddingClosed      = errors.New("bidding is closed on this section")
	ErrInvalidBid         = errors.New("bid must be a positive number of points")
)

// Bid is a student's standing offer of points for a seat in an
// oversubscribed section. Points are held (deducted) while the bid
// stands and refunded if it is cancelled or loses.
type Bid struct {
	StudentID string    `json:"student_id"`
	SectionID string    `json:"section_id"`
	Points    int       `json:"points"`
	PlacedAt  time.Time `json:"placed_at"`
}

// PointsTxn is one movement on a student's points account.
type PointsTxn struct {
	Delta  int       `json:"delta"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// BidResult reports one bid's outcome after settlement.
type BidResult struct {
	StudentID string `json:"student_id"`
	Points    int    `json:"points"`
	Won       bool   `json:"won"`
	Reason    string `json:"reason,omitempty"`
}

// pointsLedger tracks balances and history. Its mutex is always
// acquired after a section mutex, never before.
type pointsLedger struct {
	mu       sync.Mutex
	balances map[string]int
	history  map[string][]PointsTxn
}

func newPointsLedger() *pointsLedger {
	return &pointsLedger{
		balances: make(map[string]int),
		history:  make(map[string][]PointsTxn),
	}
}

// ensure provisions the account on first touch.
func (l *pointsLedger) ensure(studentID string) {
	if _, ok := l.balances[studentID]; !ok {
		l.balances[studentID] = DefaultPoints
		l.history[studentID] = []PointsTxn{{Delta: DefaultPoints, Reason: "initial allowance", At: timeNow().UTC()}}
	}
}

func (l *pointsLedger) balance(studentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(studentID)
	return l.balances[studentID]
}

func (l *pointsLedger) transactions(studentID string) []PointsTxn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(studentID)
	txns := make([]PointsTxn, len(l.history[studentID]))
	copy(txns, l.history[studentID])
	return txns
}

// move applies a delta; a negative delta fails rather than overdraws.
func (l *pointsLedger) move(studentID string, delta int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(studentID)
	if l.balances[studentID]+delta < 0 {
		return ErrInsufficientPoints
	}
	l.balances[studentID] += delta
	l.history[studentID] = append(l.history[studentID], PointsTxn{Delta: delta, Reason: reason, At: timeNow().UTC()})
	return nil
}

// PointsBalance reports the student's current balance, provisioning the
// default allowance on first touch.
func (s *Store) PointsBalance(studentID string) int {
	return s.ledger.balance(studentID)
}

// PointsHistory returns the student's transaction history, oldest first.
func (s *Store) PointsHistory(studentID string) []PointsTxn {
	return s.ledger.transactions(studentID)
}

// PlaceBid holds points against a seat in the section. The hold runs
// under the section exclusion, so a concurrent settlement never sees a
// half-placed bid.
func (s *Store) PlaceBid(studentID, sectionID string, points int) (Bid, error) {
	if points <= 0 {
		return Bid{}, ErrInvalidBid
	}
	st, err := s.section(sectionID)
	if err != nil {
		return Bid{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.sec.BiddingOpen || st.sec.Status == SectionClosed {
		return Bid{}, ErrBiddingClosed
	}
	if enr, ok := st.enrollments[studentID]; ok && enr.IsActive() {
		return Bid{}, ErrAlreadyEnrolled
	}
	if _, ok := st.bids[studentID]; ok {
		return Bid{}, ErrBidExists
	}
	if err := s.ledger.move(studentID, -points, "bid hold: "+sectionID); err != nil {
		return Bid{}, err
	}

	bid := &Bid{StudentID: studentID, SectionID: sectionID, Points: points, PlacedAt: timeNow().UTC()}
	st.bids[studentID] = bid
	return *bid, nil
}

// ModifyBid re-prices a standing bid, adjusting the held points by the
// difference. The placement time is kept so raising a bid does not also
// improve its tie-break position.
func (s *Store) ModifyBid(studentID, sectionID string, points int) (Bid, error) {
	if points <= 0 {
		return Bid{}, ErrInvalidBid
	}
	st, err := s.section(sectionID)
	if err != nil {
		return Bid{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.sec.BiddingOpen || st.sec.Status == SectionClosed {
		return Bid{}, ErrBiddingClosed
	}
	bid, ok := st.bids[studentID]
	if !ok {
		return Bid{}, ErrBidNotFound
	}
	if delta := bid.Points - points; delta != 0 {
		if err := s.ledger.move(studentID, delta, "bid adjust: "+sectionID); err != nil {
			return Bid{}, err
		}
		bid.Points = points
	}
	return *bid, nil
}

// CancelBid refunds and removes a standing bid.
func (s *Store) CancelBid(studentID, sectionID string) error {
	st, err := s.section(sectionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	bid, ok := st.bids[studentID]
	if !ok {
		return ErrBidNotFound
	}
	delete(st.bids, studentID)
	return s.ledger.move(studentID, bid.Points, "bid refund: "+sectionID)
}

// GetBid returns the student's standing bid on the section.
func (s *Store) GetBid(studentID, sectionID string) (Bid, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return Bid{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	bid, ok := st.bids[studentID]
	if !ok {
		return Bid{}, ErrBidNotFound
	}
	return *bid, nil
}

// OpenBidding opens a section for bidding; only meaningful while the
// section itself accepts students.
func (s *Store) OpenBidding(sectionID string) error {
	st, err := s.section(sectionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sec.Status == SectionClosed {
		return ErrSectionClosed
	}
	st.sec.BiddingOpen = true
	return nil
}

// SettleBidding closes bidding and awards remaining seats to the
// highest bids, earliest placement breaking ties. Winners' held points
// stay spent; every other bid is refunded. The whole settlement runs
// under one acquisition of the section exclusion, so it cannot race a
// direct enrollment.
func (s *Store) SettleBidding(sectionID string) ([]BidResult, error) {
	st, err := s.section(sectionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.sec.BiddingOpen {
		return nil, ErrBiddingClosed
	}
	st.sec.BiddingOpen = false

	bids := make([]*Bid, 0, len(st.bids))
	for _, b := range st.bids {
		bids = append(bids, b)
	}
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Points != bids[j].Points {
			return bids[i].Points > bids[j].Points
		}
		return bids[i].PlacedAt.Before(bids[j].PlacedAt)
	})

	now := timeNow().UTC()
	results := make([]BidResult, 0, len(bids))
	for _, bid := range bids {
		res := BidResult{StudentID: bid.StudentID, Points: bid.Points}
		switch {
		case st.sec.Enrolled >= st.sec.Capacity:
			res.Reason = "section full"
		case !s.schedule.reserve(st.sec.TermID, bid.StudentID, st.sec.Schedule, sectionID):
			res.Reason = "schedule conflict"
		default:
			res.Won = true
			if enr, ok := st.enrollments[bid.StudentID]; ok {
				enr.Status = EnrollmentActive
				enr.EnrolledAt = now
				enr.UpdatedAt = now
			} else {
				st.enrollments[bid.StudentID] = &Enrollment{
					StudentID:  bid.StudentID,
					SectionID:  sectionID,
					Status:     EnrollmentActive,
					EnrolledAt: now,
					UpdatedAt:  now,
				}
			}
			st.sec.Enrolled++
			if st.sec.Enrolled >= st.sec.Capacity {
				st.sec.Status = SectionFull
			}
		}
		if !res.Won {
			// best effort refund; balance can only grow here
			_ = s.ledger.move(bid.StudentID, bid.Points, "bid refund: "+sectionID)
		}
		delete(st.bids, bid.StudentID)
		results = append(results, res)
	}
	return results, nil
}
