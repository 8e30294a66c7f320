package interfaces

import (
	"context"

	"classchat/pkg/types"
)

// IdentityResolver validates a bearer credential and produces the identity behind it.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (types.Identity, error)
}

// AssignmentLookup answers whether a teacher holds an active assignment for a class (any subject).
type AssignmentLookup interface {
	IsTeacherAssigned(ctx context.Context, userID, classID string) (bool, error)
}

// EnrollmentLookup answers whether a student holds an active enrollment for a class.
type EnrollmentLookup interface {
	IsStudentEnrolled(ctx context.Context, userID, classID string) (bool, error)
}

// AccessChecker is the single capability predicate consulted before every room-scoped operation.
type AccessChecker interface {
	CanAccess(ctx context.Context, identity types.Identity, classID string) (bool, error)
}
