package authz

import (
	"context"
	"testing"

	"classchat/pkg/types"
)

func TestMemoryRoster_ActiveFlags(t *testing.T) {
	ctx := context.Background()
	roster := NewMemoryRoster()

	_ = roster.AssignTeacher(ctx, "t1", "c1", "math", true)
	_ = roster.AssignTeacher(ctx, "t1", "c1", "physics", false)
	_ = roster.EnrollStudent(ctx, "s1", "c1", true)
	_ = roster.EnrollStudent(ctx, "s2", "c1", false)

	tests := []struct {
		name   string
		lookup func(context.Context, string, string) (bool, error)
		userID string
		want   bool
	}{
		{"teacher with one active subject", roster.IsTeacherAssigned, "t1", true},
		{"unknown teacher", roster.IsTeacherAssigned, "t2", false},
		{"active enrollment", roster.IsStudentEnrolled, "s1", true},
		{"inactive enrollment", roster.IsStudentEnrolled, "s2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup(ctx, tt.userID, "c1")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	// Deactivating the last subject revokes the assignment
	_ = roster.AssignTeacher(ctx, "t1", "c1", "math", false)
	if ok, _ := roster.IsTeacherAssigned(ctx, "t1", "c1"); ok {
		t.Error("Teacher without active subjects must not be assigned")
	}
}

func TestMemoryRoster_BacksGate(t *testing.T) {
	roster := NewMemoryRoster()
	gate := New(roster, roster, testConfig(), nil)
	student := types.Identity{ID: "s1", Role: types.RoleStudent}

	if ok, err := gate.CanAccess(context.Background(), student, "c1"); err != nil || ok {
		t.Fatalf("Expected denial before enrollment, got %v, %v", ok, err)
	}
	_ = roster.EnrollStudent(context.Background(), "s1", "c1", true)
	if ok, err := gate.CanAccess(context.Background(), student, "c1"); err != nil || !ok {
		t.Errorf("Expected access after enrollment, got %v, %v", ok, err)
	}
}
