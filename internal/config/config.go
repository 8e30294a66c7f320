package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"classchat/internal/auth"
	"classchat/internal/authz"
	"classchat/internal/logging"
	"classchat/internal/session"
	"classchat/internal/store"
	"classchat/internal/websocket"
	"classchat/pkg/database"
)

// EnvPrefix namespaces every environment override, e.g. CLASSCHAT_HTTP_PORT.
const EnvPrefix = "CLASSCHAT"

// FileEnv names a config file to load instead of searching for config.yaml.
const FileEnv = EnvPrefix + "_CONFIG_FILE"

// Chat store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Each component owns its section type; this package only assembles and validates them
type Config struct {
	HTTP      HTTPConfig       `mapstructure:"http"`
	WebSocket websocket.Config `mapstructure:"websocket"`
	Database  database.Config  `mapstructure:"database"`
	Auth      auth.Config      `mapstructure:"auth"`
	Redis     auth.RedisConfig `mapstructure:"redis"`
	Authz     authz.Config     `mapstructure:"authz"`
	Chat      ChatConfig       `mapstructure:"chat"`
	Log       logging.Config   `mapstructure:"log"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChatConfig holds message and throttling limits.
type ChatConfig struct {
	Backend        string        `mapstructure:"backend"`
	MaxBodyLength  int           `mapstructure:"max_body_length"`
	DefaultHistory int           `mapstructure:"default_history"`
	MaxHistory     int           `mapstructure:"max_history"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	LimiterIdleTTL time.Duration `mapstructure:"limiter_idle_ttl"`
}

func (c ChatConfig) StoreConfig() store.Config {
	return store.Config{
		MaxBodyLength:  c.MaxBodyLength,
		DefaultHistory: c.DefaultHistory,
		MaxHistory:     c.MaxHistory,
	}
}

func (c ChatConfig) SessionConfig() session.Config {
	return session.Config{
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		LimiterIdleTTL: c.LimiterIdleTTL,
	}
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// SQLite on local filesystem, HTTP on 8080, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	storeCfg := store.DefaultConfig()
	sessionCfg := session.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: websocket.DefaultConfig(),
		Database:  *database.DefaultConfig(),
		Auth:      auth.DefaultConfig(),
		Redis:     auth.DefaultRedisConfig(),
		Authz:     authz.DefaultConfig(),
		Chat: ChatConfig{
			Backend:        BackendSQLite,
			MaxBodyLength:  storeCfg.MaxBodyLength,
			DefaultHistory: storeCfg.DefaultHistory,
			MaxHistory:     storeCfg.MaxHistory,
			RateLimit:      sessionCfg.RateLimit,
			RateBurst:      sessionCfg.RateBurst,
			LimiterIdleTTL: sessionCfg.LimiterIdleTTL,
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "classchat",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Auth.Mode == auth.ModeRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.Authz.Timeout <= 0 {
		return fmt.Errorf("authz timeout must be positive")
	}
	if c.Authz.Retries < 1 {
		return fmt.Errorf("authz retries must be at least 1")
	}

	switch c.Chat.Backend {
	case BackendSQLite:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown chat backend %q", c.Chat.Backend)
	}
	if c.Chat.MaxBodyLength <= 0 {
		return fmt.Errorf("chat max body length must be positive")
	}
	if c.Chat.MaxHistory <= 0 {
		return fmt.Errorf("chat max history must be positive")
	}
	if c.Chat.DefaultHistory <= 0 || c.Chat.DefaultHistory > c.Chat.MaxHistory {
		return fmt.Errorf("chat default history must be between 1 and max history")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateBurst <= 0 {
		return fmt.Errorf("chat rate limit and burst must be positive")
	}

	return nil
}

// Load builds the configuration with precedence env > file > defaults.
// A .env file in the working directory is loaded into the environment first;
// config.yaml is searched in ./config and the working directory unless
// CLASSCHAT_CONFIG_FILE names a file.
// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("websocket.auth_timeout", d.WebSocket.AuthTimeout)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", append([]string{}, d.WebSocket.AllowedOrigins...))

	v.SetDefault("database.path", d.Database.DatabasePath)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.migrations_path", d.Database.MigrationsPath)
	v.SetDefault("database.write_timeout", d.Database.WriteTimeout)
	v.SetDefault("database.write_retry_delay", d.Database.WriteRetryDelay)

	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.timeout", d.Auth.Timeout)
	v.SetDefault("auth.retries", d.Auth.Retries)
	v.SetDefault("auth.backoff", d.Auth.Backoff)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)

	v.SetDefault("authz.timeout", d.Authz.Timeout)
	v.SetDefault("authz.retries", d.Authz.Retries)
	v.SetDefault("authz.backoff", d.Authz.Backoff)

	v.SetDefault("chat.backend", d.Chat.Backend)
	v.SetDefault("chat.max_body_length", d.Chat.MaxBodyLength)
	v.SetDefault("chat.default_history", d.Chat.DefaultHistory)
	v.SetDefault("chat.max_history", d.Chat.MaxHistory)
	v.SetDefault("chat.rate_limit", d.Chat.RateLimit)
	v.SetDefault("chat.rate_burst", d.Chat.RateBurst)
	v.SetDefault("chat.limiter_idle_ttl", d.Chat.LimiterIdleTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}
