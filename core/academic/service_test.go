package academic

import (
	"context"
	"sync"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type captureArchive struct {
	mu     sync.Mutex
	events []Event
}

func (a *captureArchive) RecordEvent(_ context.Context, evt Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
	return nil
}

func (a *captureArchive) kinds() []EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]EventKind, len(a.events))
	for i, e := range a.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestService_archivesEvents(t *testing.T) {
	store := newTestStore(t)
	archive := &captureArchive{}
	svc := NewService(store, archive, nopLogger{})

	if _, err := svc.Enroll("S001", "CS101-A"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordGrade("T001", "S001", "CS101-A", 88, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Enroll("S002", "CS101-B"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Drop("S002", "CS101-B"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.FinalizeTerm("A001", "2026F"); err != nil {
		t.Fatal(err)
	}
	// failed ops must not be archived
	if _, err := svc.Enroll("S003", "CS101-B"); err == nil {
		t.Fatal("enroll after finalize should fail")
	}

	svc.Close() // drains the queue

	want := []EventKind{EventEnrolled, EventGradeRecorded, EventEnrolled, EventDropped, EventTermFinalized}
	got := archive.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestService_worksWithoutArchive(t *testing.T) {
	svc := NewService(newTestStore(t), nil, nopLogger{})
	defer svc.Close()

	if _, err := svc.Enroll("S001", "CS101-A"); err != nil {
		t.Fatal(err)
	}
	sched := svc.Schedule("S001", "2026F")
	if len(sched) != 1 || sched[0].ID != "CS101-A" {
		t.Errorf("schedule = %+v, want CS101-A", sched)
	}
	snap := svc.Snapshot("S001")
	if snap.Points != DefaultPoints || len(snap.Enrollments) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

// Archive writes happen off the mutation path: a slow archive must not
// slow enrollments down.
func TestService_slowArchiveDoesNotBlockMutations(t *testing.T) {
	slow := archiveFunc(func(ctx context.Context, _ Event) error {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})
	svc := NewService(newTestStore(t), slow, nopLogger{})
	defer svc.Close()

	start := time.Now()
	if _, err := svc.Enroll("S001", "CS101-A"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Enroll("S002", "CS101-A"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("mutations took %v, expected them not to wait on the archive", elapsed)
	}
}

type archiveFunc func(ctx context.Context, evt Event) error

func (f archiveFunc) RecordEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }
