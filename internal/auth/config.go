package auth

import (
	"errors"
	"time"
)

const (
	ModeJWT   = "jwt"
	ModeRedis = "redis"
)

// Config selects and configures the identity resolver.
type Config struct {
	Mode      string        `mapstructure:"mode"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Backoff   time.Duration `mapstructure:"backoff"`
}

// RedisConfig locates opaque session tokens written by the LMS login flow.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func DefaultConfig() Config {
	return Config{
		Mode:    ModeJWT,
		Issuer:  "lms",
		Timeout: 3 * time.Second,
		Retries: 3,
		Backoff: 100 * time.Millisecond,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:   "localhost:6379",
		KeyPrefix: "session:",
	}
}

func (c RedisConfig) Validate() error {
	if c.Address == "" {
		return errors.New("redis.address cannot be empty")
	}
	if c.DB < 0 {
		return errors.New("redis.db cannot be negative")
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeJWT:
		if len(c.JWTSecret) < 16 {
			return errors.New("auth.jwt_secret must be at least 16 characters")
		}
	case ModeRedis:
	default:
		return errors.New("auth.mode must be jwt or redis")
	}
	if c.Timeout <= 0 {
		return errors.New("auth.timeout must be greater than 0")
	}
	if c.Retries < 1 {
		return errors.New("auth.retries must be at least 1")
	}
	if c.Backoff < 0 {
		return errors.New("auth.backoff cannot be negative")
	}
	return nil
}
