// Package authz decides whether an identity may act in a class room.
package authz

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/logging"
	"classchat/internal/metrics"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Config bounds each external lookup.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

func DefaultConfig() Config {
	return Config{
		Timeout: 2 * time.Second,
		Retries: 3,
		Backoff: 100 * time.Millisecond,
	}
}

// Strategy answers the access question for one role.
type Strategy func(ctx context.Context, identity types.Identity, classID string) (bool, error)

// Gate is the single capability predicate consulted before every
// room-scoped operation. It holds no cache: every call asks the lookups again
// so revoked access takes effect on the next action.
type Gate struct {
	strategies map[types.Role]Strategy
	config     Config
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New builds a gate with the admin, teacher and student strategies.
func New(assignments interfaces.AssignmentLookup, enrollments interfaces.EnrollmentLookup, config Config, m *metrics.Metrics) *Gate {
	if config.Retries < 1 {
		config.Retries = 1
	}
	return &Gate{
		strategies: map[types.Role]Strategy{
			types.RoleAdmin: func(context.Context, types.Identity, string) (bool, error) {
				return true, nil
			},
			types.RoleTeacher: func(ctx context.Context, id types.Identity, classID string) (bool, error) {
				return assignments.IsTeacherAssigned(ctx, id.ID, classID)
			},
			types.RoleStudent: func(ctx context.Context, id types.Identity, classID string) (bool, error) {
				return enrollments.IsStudentEnrolled(ctx, id.ID, classID)
			},
		},
		config:  config,
		metrics: m,
		log:     logging.L().With().Str(logging.FieldComponent, "authz").Logger(),
	}
}

// CanAccess reports whether identity may join or act in classID. Unknown
// roles are denied. Lookup failures are retried with a fixed backoff and then
// surface as a Transient error.
func (g *Gate) CanAccess(ctx context.Context, identity types.Identity, classID string) (bool, error) {
	strategy, ok := g.strategies[identity.Role]
	if !ok {
		g.metrics.AuthzLookup(string(identity.Role), "deny")
		return false, nil
	}

	var lastErr error
	for attempt := 1; attempt <= g.config.Retries; attempt++ {
		allowed, err := g.attempt(ctx, strategy, identity, classID)
		if err == nil {
			g.metrics.AuthzLookup(string(identity.Role), result(allowed))
			return allowed, nil
		}
		lastErr = err
		g.log.Warn().Err(err).
			Str(logging.FieldUserID, identity.ID).
			Str(logging.FieldClassID, classID).
			Int("attempt", attempt).
			Msg("authorization lookup failed")

		if attempt == g.config.Retries {
			break
		}
		select {
		case <-ctx.Done():
			g.metrics.AuthzLookup(string(identity.Role), "error")
			return false, types.WrapError(types.Transient, "authorization lookup cancelled", ctx.Err())
		case <-time.After(g.config.Backoff):
		}
	}

	g.metrics.AuthzLookup(string(identity.Role), "error")
	return false, types.WrapError(types.Transient, "authorization service unavailable", lastErr)
}

func (g *Gate) attempt(ctx context.Context, strategy Strategy, identity types.Identity, classID string) (bool, error) {
	if g.config.Timeout <= 0 {
		return strategy(ctx, identity, classID)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	type answer struct {
		allowed bool
		err     error
	}
	// The lookup may ignore its context; the timeout still bounds the caller
	done := make(chan answer, 1)
	go func() {
		allowed, err := strategy(attemptCtx, identity, classID)
		done <- answer{allowed, err}
	}()

	select {
	case a := <-done:
		return a.allowed, a.err
	case <-attemptCtx.Done():
		return false, errors.Join(ErrLookupTimeout, attemptCtx.Err())
	}
}

func result(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
