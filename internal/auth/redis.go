package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classchat/pkg/types"
)

// stringGetter is the subset of redis.Cmdable the resolver needs.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisResolver looks up opaque session tokens the LMS stores in Redis as
// JSON-encoded identities under keyPrefix+token.
type RedisResolver struct {
	client    stringGetter
	keyPrefix string
}

func NewRedisResolver(client stringGetter, keyPrefix string) *RedisResolver {
	return &RedisResolver{client: client, keyPrefix: keyPrefix}
}

// NewRedisClient connects and pings within a bounded time.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *RedisResolver) Resolve(ctx context.Context, credential string) (types.Identity, error) {
	if credential == "" {
		return types.Identity{}, unauthorized(ErrInvalidToken)
	}

	data, err := r.client.Get(ctx, r.keyPrefix+credential).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Identity{}, unauthorized(ErrSessionNotFound)
		}
		return types.Identity{}, types.WrapError(types.Transient, "identity service unavailable", err)
	}

	var identity types.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return types.Identity{}, unauthorized(ErrInvalidClaims)
	}
	if err := validIdentity(identity); err != nil {
		return types.Identity{}, err
	}
	return identity, nil
}
