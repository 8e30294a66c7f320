package authz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classchat/pkg/types"
)

// fakeLookups implements both lookup interfaces over in-memory sets.
type fakeLookups struct {
	mu          sync.Mutex
	assignments map[string]bool // userID|classID
	enrollments map[string]bool
	failures    int32 // remaining calls that fail
	delay       time.Duration
	calls       int32
}

func newFakeLookups() *fakeLookups {
	return &fakeLookups{assignments: map[string]bool{}, enrollments: map[string]bool{}}
}

func (f *fakeLookups) answer(ctx context.Context, set map[string]bool, userID, classID string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return false, errors.New("lookup backend down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return set[userID+"|"+classID], nil
}

func (f *fakeLookups) IsTeacherAssigned(ctx context.Context, userID, classID string) (bool, error) {
	return f.answer(ctx, f.assignments, userID, classID)
}

func (f *fakeLookups) IsStudentEnrolled(ctx context.Context, userID, classID string) (bool, error) {
	return f.answer(ctx, f.enrollments, userID, classID)
}

func (f *fakeLookups) set(m map[string]bool, userID, classID string, v bool) {
	f.mu.Lock()
	m[userID+"|"+classID] = v
	f.mu.Unlock()
}

func testConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, Retries: 3, Backoff: time.Millisecond}
}

func TestGate_RoleStrategies(t *testing.T) {
	lookups := newFakeLookups()
	lookups.set(lookups.assignments, "t1", "c7", true)
	lookups.set(lookups.enrollments, "s1", "c7", true)
	gate := New(lookups, lookups, testConfig(), nil)

	tests := []struct {
		name     string
		identity types.Identity
		classID  string
		want     bool
	}{
		{"admin always", types.Identity{ID: "root", Role: types.RoleAdmin}, "anything", true},
		{"assigned teacher", types.Identity{ID: "t1", Role: types.RoleTeacher}, "c7", true},
		{"unassigned teacher", types.Identity{ID: "t1", Role: types.RoleTeacher}, "c8", false},
		{"enrolled student", types.Identity{ID: "s1", Role: types.RoleStudent}, "c7", true},
		{"not enrolled student", types.Identity{ID: "s2", Role: types.RoleStudent}, "c7", false},
		{"student id in teacher table does not count", types.Identity{ID: "t1", Role: types.RoleStudent}, "c7", false},
		{"unknown role", types.Identity{ID: "x", Role: "guest"}, "c7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.CanAccess(context.Background(), tt.identity, tt.classID)
			if err != nil {
				t.Fatalf("CanAccess: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_NoCaching(t *testing.T) {
	lookups := newFakeLookups()
	lookups.set(lookups.enrollments, "s1", "c7", true)
	gate := New(lookups, lookups, testConfig(), nil)
	student := types.Identity{ID: "s1", Role: types.RoleStudent}

	if ok, err := gate.CanAccess(context.Background(), student, "c7"); err != nil || !ok {
		t.Fatalf("CanAccess before withdrawal = %v, %v", ok, err)
	}

	lookups.set(lookups.enrollments, "s1", "c7", false)
	if ok, err := gate.CanAccess(context.Background(), student, "c7"); err != nil || ok {
		t.Errorf("Expected denial after withdrawal, got %v, %v", ok, err)
	}
}

func TestGate_RetriesThenSucceeds(t *testing.T) {
	lookups := newFakeLookups()
	lookups.set(lookups.enrollments, "s1", "c7", true)
	lookups.failures = 2
	gate := New(lookups, lookups, testConfig(), nil)

	ok, err := gate.CanAccess(context.Background(), types.Identity{ID: "s1", Role: types.RoleStudent}, "c7")
	if err != nil || !ok {
		t.Fatalf("CanAccess = %v, %v", ok, err)
	}
	if calls := atomic.LoadInt32(&lookups.calls); calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestGate_ExhaustedRetriesAreTransient(t *testing.T) {
	lookups := newFakeLookups()
	lookups.failures = 100
	gate := New(lookups, lookups, testConfig(), nil)

	_, err := gate.CanAccess(context.Background(), types.Identity{ID: "t1", Role: types.RoleTeacher}, "c7")
	if types.KindOf(err) != types.Transient {
		t.Fatalf("Expected Transient, got %v", err)
	}
	if calls := atomic.LoadInt32(&lookups.calls); calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestGate_TimeoutIsTransient(t *testing.T) {
	lookups := newFakeLookups()
	lookups.delay = time.Second
	gate := New(lookups, lookups, Config{Timeout: 10 * time.Millisecond, Retries: 2, Backoff: time.Millisecond}, nil)

	start := time.Now()
	_, err := gate.CanAccess(context.Background(), types.Identity{ID: "s1", Role: types.RoleStudent}, "c7")
	if types.KindOf(err) != types.Transient {
		t.Fatalf("Expected Transient, got %v", err)
	}
	if !errors.Is(err, ErrLookupTimeout) {
		t.Errorf("Expected ErrLookupTimeout in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Gate did not bound the lookup: %v", elapsed)
	}
}

func TestGate_AdminSkipsLookups(t *testing.T) {
	lookups := newFakeLookups()
	lookups.failures = 100
	gate := New(lookups, lookups, testConfig(), nil)

	if ok, err := gate.CanAccess(context.Background(), types.Identity{ID: "root", Role: types.RoleAdmin}, "c1"); err != nil || !ok {
		t.Errorf("admin must not depend on lookups: %v, %v", ok, err)
	}
	if calls := atomic.LoadInt32(&lookups.calls); calls != 0 {
		t.Errorf("Expected no lookups, got %d", calls)
	}
}
