package consul

import (
	"regexp"
	"strconv"
	"time"

	"github.com/hazel-js/discovery"
)

// Config configures the Consul-backed registry backend (spec §4.1.3).
type Config struct {
	Address string `env:"HAZELJS_CONSUL_ADDRESS"`
	Scheme  string `env:"HAZELJS_CONSUL_SCHEME"`
	Token   string `env:"HAZELJS_CONSUL_TOKEN"`

	// TTL is the Consul TTL check's interval, e.g. "30s". Parsed per
	// spec §4.1.3: `\d+[smh]`, otherwise the 30s default applies.
	TTL string `env:"HAZELJS_CONSUL_TTL"`
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return &discovery.ConfigValidationError{Field: "address", Message: "required and must be non-empty"}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.TTL == "" {
		c.TTL = "30s"
	}
}

var ttlPattern = regexp.MustCompile(`^(\d+)([smh])$`)

// ParseTTL parses a TTL string per spec §4.1.3 (`\d+[smh]`), falling
// back to 30s for anything that doesn't match.
func ParseTTL(raw string) time.Duration {
	m := ttlPattern.FindStringSubmatch(raw)
	if m == nil {
		return 30 * time.Second
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 30 * time.Second
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	default:
		return 30 * time.Second
	}
}
