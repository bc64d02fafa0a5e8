package academic

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newBiddingStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	if err := s.OpenBidding("CS101-A"); err != nil { // capacity 2
		t.Fatal(err)
	}
	return s
}

func TestStore_PlaceBid(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, s *Store)
		studentID string
		sectionID string
		points    int
		wantErr   error
	}{
		{name: "ok", studentID: "S001", sectionID: "CS101-A", points: 40},
		{name: "zero points", studentID: "S001", sectionID: "CS101-A", points: 0, wantErr: ErrInvalidBid},
		{name: "negative points", studentID: "S001", sectionID: "CS101-A", points: -5, wantErr: ErrInvalidBid},
		{name: "over the allowance", studentID: "S001", sectionID: "CS101-A", points: DefaultPoints + 1, wantErr: ErrInsufficientPoints},
		{name: "bidding not open", studentID: "S001", sectionID: "CS101-B", points: 40, wantErr: ErrBiddingClosed},
		{name: "unknown section", studentID: "S001", sectionID: "CS999-A", points: 40, wantErr: ErrSectionNotFound},
		{
			name: "already bid",
			setup: func(t *testing.T, s *Store) {
				if _, err := s.PlaceBid("S001", "CS101-A", 10); err != nil {
					t.Fatal(err)
				}
			},
			studentID: "S001", sectionID: "CS101-A", points: 40, wantErr: ErrBidExists,
		},
		{
			name: "already enrolled",
			setup: func(t *testing.T, s *Store) {
				if _, err := s.Enroll("S001", "CS101-A"); err != nil {
					t.Fatal(err)
				}
			},
			studentID: "S001", sectionID: "CS101-A", points: 40, wantErr: ErrAlreadyEnrolled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newBiddingStore(t)
			if tt.setup != nil {
				tt.setup(t, s)
			}
			_, err := s.PlaceBid(tt.studentID, tt.sectionID, tt.points)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceBid() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("points are held", func(t *testing.T) {
		s := newBiddingStore(t)
		if _, err := s.PlaceBid("S001", "CS101-A", 40); err != nil {
			t.Fatal(err)
		}
		if got := s.PointsBalance("S001"); got != DefaultPoints-40 {
			t.Errorf("balance = %d, want %d", got, DefaultPoints-40)
		}
	})
}

func TestStore_ModifyBid(t *testing.T) {
	s := newBiddingStore(t)
	if _, err := s.ModifyBid("S001", "CS101-A", 30); !errors.Is(err, ErrBidNotFound) {
		t.Fatalf("want ErrBidNotFound, got %v", err)
	}
	if _, err := s.PlaceBid("S001", "CS101-A", 40); err != nil {
		t.Fatal(err)
	}

	bid, err := s.ModifyBid("S001", "CS101-A", 70)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if bid.Points != 70 {
		t.Errorf("points = %d, want 70", bid.Points)
	}
	if got := s.PointsBalance("S001"); got != DefaultPoints-70 {
		t.Errorf("balance = %d, want %d", got, DefaultPoints-70)
	}

	if _, err = s.ModifyBid("S001", "CS101-A", DefaultPoints+10); !errors.Is(err, ErrInsufficientPoints) {
		t.Errorf("raise past allowance: want ErrInsufficientPoints, got %v", err)
	}

	if bid, err = s.ModifyBid("S001", "CS101-A", 20); err != nil {
		t.Fatalf("lower: %v", err)
	}
	if got := s.PointsBalance("S001"); got != DefaultPoints-20 {
		t.Errorf("balance after lower = %d, want %d", got, DefaultPoints-20)
	}
}

func TestStore_CancelBid(t *testing.T) {
	s := newBiddingStore(t)
	if err := s.CancelBid("S001", "CS101-A"); !errors.Is(err, ErrBidNotFound) {
		t.Fatalf("want ErrBidNotFound, got %v", err)
	}
	if _, err := s.PlaceBid("S001", "CS101-A", 40); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelBid("S001", "CS101-A"); err != nil {
		t.Fatal(err)
	}
	if got := s.PointsBalance("S001"); got != DefaultPoints {
		t.Errorf("balance = %d, want full refund of %d", got, DefaultPoints)
	}
	if _, err := s.GetBid("S001", "CS101-A"); !errors.Is(err, ErrBidNotFound) {
		t.Errorf("bid still standing after cancel: %v", err)
	}
}

func TestStore_SettleBidding(t *testing.T) {
	t.Run("highest bids win, losers refunded", func(t *testing.T) {
		s := newBiddingStore(t) // 2 seats
		placed := []struct {
			student string
			points  int
		}{
			{"S001", 30},
			{"S002", 80},
			{"S003", 50},
		}
		for _, p := range placed {
			if _, err := s.PlaceBid(p.student, "CS101-A", p.points); err != nil {
				t.Fatal(err)
			}
		}

		results, err := s.SettleBidding("CS101-A")
		if err != nil {
			t.Fatalf("SettleBidding: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("results = %d, want 3", len(results))
		}
		won := make(map[string]bool)
		for _, r := range results {
			won[r.StudentID] = r.Won
		}
		if !won["S002"] || !won["S003"] || won["S001"] {
			t.Errorf("winners = %v, want S002 and S003", won)
		}

		// winners spent, loser refunded
		if got := s.PointsBalance("S002"); got != DefaultPoints-80 {
			t.Errorf("S002 balance = %d, want %d", got, DefaultPoints-80)
		}
		if got := s.PointsBalance("S001"); got != DefaultPoints {
			t.Errorf("S001 balance = %d, want %d", got, DefaultPoints)
		}

		if n, _ := s.ActiveCount("CS101-A"); n != 2 {
			t.Errorf("enrolled = %d, want 2", n)
		}
		if _, err = s.SettleBidding("CS101-A"); !errors.Is(err, ErrBiddingClosed) {
			t.Errorf("second settle: want ErrBiddingClosed, got %v", err)
		}
	})

	t.Run("earliest placement breaks ties", func(t *testing.T) {
		s := newBiddingStore(t)
		base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		step := 0
		timeNow = func() time.Time {
			step++
			return base.Add(time.Duration(step) * time.Second)
		}
		defer func() { timeNow = time.Now }()

		for _, id := range []string{"S001", "S002", "S003"} {
			if _, err := s.PlaceBid(id, "CS101-A", 50); err != nil {
				t.Fatal(err)
			}
		}
		results, err := s.SettleBidding("CS101-A")
		if err != nil {
			t.Fatal(err)
		}
		won := make(map[string]bool)
		for _, r := range results {
			won[r.StudentID] = r.Won
		}
		if !won["S001"] || !won["S002"] || won["S003"] {
			t.Errorf("winners = %v, want the two earliest (S001, S002)", won)
		}
	})

	t.Run("seats taken directly are not re-awarded", func(t *testing.T) {
		s := newBiddingStore(t)
		if _, err := s.Enroll("S010", "CS101-A"); err != nil {
			t.Fatal(err)
		}
		for _, id := range []string{"S001", "S002"} {
			if _, err := s.PlaceBid(id, "CS101-A", 50); err != nil {
				t.Fatal(err)
			}
		}
		results, err := s.SettleBidding("CS101-A")
		if err != nil {
			t.Fatal(err)
		}
		var winners int
		for _, r := range results {
			if r.Won {
				winners++
			}
		}
		if winners != 1 {
			t.Errorf("winners = %d, want 1 (one seat left)", winners)
		}
		if n, _ := s.ActiveCount("CS101-A"); n != 2 {
			t.Errorf("enrolled = %d, want 2", n)
		}
	})
}

// Finalizing a term releases every standing hold: bids on its sections
// are refunded, not left deducted behind a closed auction.
func TestStore_FinalizeTerm_refundsBids(t *testing.T) {
	s := newBiddingStore(t)

	if _, err := s.PlaceBid("S001", "CS101-A", 40); err != nil {
		t.Fatal(err)
	}
	if got := s.PointsBalance("S001"); got != 60 {
		t.Fatalf("balance after hold = %d, want 60", got)
	}

	if _, err := s.FinalizeTerm("A001", "2026F"); err != nil {
		t.Fatalf("FinalizeTerm: %v", err)
	}

	if got := s.PointsBalance("S001"); got != 100 {
		t.Errorf("balance after finalize = %d, want 100", got)
	}
	if _, err := s.GetBid("S001", "CS101-A"); !errors.Is(err, ErrBidNotFound) {
		t.Errorf("GetBid after finalize: want ErrBidNotFound, got %v", err)
	}
	if _, err := s.SettleBidding("CS101-A"); !errors.Is(err, ErrBiddingClosed) {
		t.Errorf("settle after finalize: want ErrBiddingClosed, got %v", err)
	}
}

// A student racing bids across sections can never spend more than the
// allowance in total.
func TestStore_PlaceBid_noOverspendUnderContention(t *testing.T) {
	s := newTestStore(t)
	sections := []string{"CS101-A", "CS101-B", "CS201-A", "MA101-A"}
	for _, id := range sections {
		if err := s.OpenBidding(id); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range sections {
		wg.Add(1)
		go func(sectionID string) {
			defer wg.Done()
			_, _ = s.PlaceBid("S001", sectionID, 40) // 4x40 > 100: some must fail
		}(id)
	}
	wg.Wait()

	var held int
	for _, id := range sections {
		if bid, err := s.GetBid("S001", id); err == nil {
			held += bid.Points
		}
	}
	if balance := s.PointsBalance("S001"); balance+held != DefaultPoints {
		t.Errorf("balance %d + held %d = %d, want %d", balance, held, balance+held, DefaultPoints)
	}
	if held > DefaultPoints {
		t.Errorf("held %d points, allowance is %d", held, DefaultPoints)
	}
}

func TestStore_PointsHistory(t *testing.T) {
	s := newBiddingStore(t)
	if _, err := s.PlaceBid("S001", "CS101-A", 40); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelBid("S001", "CS101-A"); err != nil {
		t.Fatal(err)
	}

	txns := s.PointsHistory("S001")
	want := []int{DefaultPoints, -40, 40}
	if len(txns) != len(want) {
		t.Fatalf("transactions = %d, want %d", len(txns), len(want))
	}
	for i, w := range want {
		if txns[i].Delta != w {
			t.Errorf("txn[%d].Delta = %d, want %d", i, txns[i].Delta, w)
		}
	}
}
