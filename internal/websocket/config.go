package websocket

import (
	"errors"
	"time"
)

// Config tunes the websocket transport.
type Config struct {
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DefaultConfig returns the classroom-tuned defaults
// FUNCTIONAL DISCOVERY: 60s read deadline with a 30s ping keeps idle
// classroom tabs alive through typical proxies
func DefaultConfig() Config {
	return Config{
		AuthTimeout:    10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBuffer:     100,
		MaxMessageSize: 16 * 1024,
	}
}

func (c Config) Validate() error {
	if c.AuthTimeout <= 0 {
		return errors.New("websocket.auth_timeout must be greater than 0")
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval {
		return errors.New("websocket.read_timeout must exceed websocket.ping_interval")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("websocket.write_timeout must be greater than 0")
	}
	if c.SendBuffer <= 0 {
		return errors.New("websocket.send_buffer must be greater than 0")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("websocket.max_message_size must be greater than 0")
	}
	return nil
}
