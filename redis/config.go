package redis

import (
	"time"

	"github.com/hazel-js/discovery"
)

// Config configures the Redis-backed registry backend (spec §4.1.2,
// §6). Prefix namespaces every key this backend writes, letting
// multiple independent deployments share one Redis instance.
type Config struct {
	Addr     string        `env:"HAZELJS_REDIS_ADDR"`
	Password string        `env:"HAZELJS_REDIS_PASSWORD"`
	DB       int           `env:"HAZELJS_REDIS_DB"`
	Prefix   string        `env:"HAZELJS_REDIS_PREFIX"`
	TTL      time.Duration `env:"HAZELJS_REDIS_TTL"`
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return &discovery.ConfigValidationError{Field: "addr", Message: "required and must be non-empty"}
	}
	if c.TTL < 0 {
		return &discovery.ConfigValidationError{Field: "ttl", Message: "must be greater than 0 when set"}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "hazeljs:"
	}
	if c.TTL == 0 {
		c.TTL = 90 * time.Second
	}
}
