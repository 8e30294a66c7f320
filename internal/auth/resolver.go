// Package auth resolves bearer credentials to identities.
package auth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/logging"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewResolver builds the resolver selected by cfg.Mode. Each attempt is
// bounded by cfg.Timeout and Transient failures are retried cfg.Retries
// times in total. redisCfg is only used in redis mode. The returned closer
// releases any client the resolver owns.
func NewResolver(cfg Config, redisCfg RedisConfig) (interfaces.IdentityResolver, io.Closer, error) {
	switch cfg.Mode {
	case ModeJWT:
		return cfg.wrap(NewJWTResolver(cfg.JWTSecret, cfg.Issuer)), nopCloser{}, nil
	case ModeRedis:
		client, err := NewRedisClient(redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg.wrap(NewRedisResolver(client, redisCfg.KeyPrefix)), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func (c Config) wrap(r interfaces.IdentityResolver) interfaces.IdentityResolver {
	return WithRetry(WithTimeout(r, c.Timeout), c.Retries, c.Backoff)
}

type boundedResolver struct {
	next    interfaces.IdentityResolver
	timeout time.Duration
}

// WithTimeout bounds every Resolve call. A call that runs out of time fails
// with a Transient error so the client may retry.
func WithTimeout(next interfaces.IdentityResolver, timeout time.Duration) interfaces.IdentityResolver {
	if timeout <= 0 {
		return next
	}
	return &boundedResolver{next: next, timeout: timeout}
}

func (b *boundedResolver) Resolve(ctx context.Context, credential string) (types.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type answer struct {
		identity types.Identity
		err      error
	}
	// The resolver may ignore its context; the timeout still bounds the caller
	done := make(chan answer, 1)
	go func() {
		identity, err := b.next.Resolve(ctx, credential)
		done <- answer{identity, err}
	}()

	select {
	case a := <-done:
		if a.err != nil && ctx.Err() != nil && types.KindOf(a.err) != types.Unauthorized {
			return types.Identity{}, types.WrapError(types.Transient, "identity resolution timed out", a.err)
		}
		return a.identity, a.err
	case <-ctx.Done():
		return types.Identity{}, types.WrapError(types.Transient, "identity resolution timed out", ctx.Err())
	}
}

type retryingResolver struct {
	next     interfaces.IdentityResolver
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

// WithRetry repeats Resolve after a fixed backoff while it fails with a
// Transient error, at most attempts times in total. Any other outcome is
// returned as is.
func WithRetry(next interfaces.IdentityResolver, attempts int, backoff time.Duration) interfaces.IdentityResolver {
	if attempts <= 1 {
		return next
	}
	return &retryingResolver{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		log:      logging.L().With().Str(logging.FieldComponent, "auth").Logger(),
	}
}

func (r *retryingResolver) Resolve(ctx context.Context, credential string) (types.Identity, error) {
	for attempt := 1; ; attempt++ {
		identity, err := r.next.Resolve(ctx, credential)
		if err == nil || types.KindOf(err) != types.Transient || attempt == r.attempts {
			return identity, err
		}
		r.log.Warn().Err(err).Int("attempt", attempt).Msg("identity resolution failed")

		select {
		case <-ctx.Done():
			return types.Identity{}, err
		case <-time.After(r.backoff):
		}
	}
}
