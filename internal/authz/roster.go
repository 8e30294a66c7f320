package authz

import (
	"context"
	"sync"
)

// Roster is the write side of the lookups: seeding assignments and
// enrollments. The SQLite manager and MemoryRoster both implement it.
type Roster interface {
	AssignTeacher(ctx context.Context, userID, classID, subject string, active bool) error
	EnrollStudent(ctx context.Context, userID, classID string, active bool) error
}

// MemoryRoster answers both lookups from process memory. It backs the
// memory chat backend used in development and tests.
type MemoryRoster struct {
	mu          sync.RWMutex
	assignments map[string]map[string]bool // user|class -> subject -> active
	enrollments map[string]bool
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		assignments: make(map[string]map[string]bool),
		enrollments: make(map[string]bool),
	}
}

func rosterKey(userID, classID string) string {
	return userID + "|" + classID
}

func (r *MemoryRoster) AssignTeacher(ctx context.Context, userID, classID, subject string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rosterKey(userID, classID)
	subjects, ok := r.assignments[key]
	if !ok {
		subjects = make(map[string]bool)
		r.assignments[key] = subjects
	}
	subjects[subject] = active
	return nil
}

func (r *MemoryRoster) EnrollStudent(ctx context.Context, userID, classID string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.enrollments[rosterKey(userID, classID)] = active
	r.mu.Unlock()
	return nil
}

// IsTeacherAssigned reports an active assignment for any subject.
func (r *MemoryRoster) IsTeacherAssigned(ctx context.Context, userID, classID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, active := range r.assignments[rosterKey(userID, classID)] {
		if active {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRoster) IsStudentEnrolled(ctx context.Context, userID, classID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enrollments[rosterKey(userID, classID)], nil
}
